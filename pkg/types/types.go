package types

import (
	"encoding/json"
	"time"
)

// Inbound event names. These match the wire vocabulary the Skillytics web
// client already speaks, so the relay can be swapped in behind the existing
// frontend without client changes.
const (
	EventUserJoin           = "user:join"
	EventMissionStart       = "mission:start"
	EventMentorHelp         = "mentor:help"
	EventCodeChange         = "code:change"
	EventAchievementUnlock  = "achievement:unlocked"
	EventMissionCompleted   = "mission:completed"
	EventStreakUpdate       = "streak:update"
	EventLeaderboardRequest = "leaderboard:request"

	// EventDisconnect is synthesized by the transport layer when a
	// connection drops. It is never sent by clients but flows through the
	// same event pipeline so cleanup is ordered after the connection's
	// final client events.
	EventDisconnect = "disconnect"
)

// Outbound event names (relay -> client).
const (
	EventStatsUsers        = "stats:users"
	EventStatsMissions     = "stats:missions"
	EventMentorResponse    = "mentor:response"
	EventRemoteCodeChange  = "code:remote-change"
	EventAchievementNotice = "achievement:notification"
	EventFeedAchievement   = "feed:achievement"
	EventMissionCompletion = "mission:completion"
	EventStreakUpdated     = "streak:updated"
	EventLeaderboardUpdate = "leaderboard:update"
)

// Mission session status values.
const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
)

// Event is the wire envelope for every client message. Data stays raw until
// the relay knows which payload struct the event name calls for.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is the outbound counterpart of Event.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// UserProfile is the connection-to-user binding. One per identified
// connection, created by user:join and destroyed on disconnect. A
// reconnecting user gets a brand-new profile with a fresh JoinedAt; there is
// no continuity across connections.
type UserProfile struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Level    int       `json:"level"`
	XP       int       `json:"xp"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MissionSession is the connection-to-session binding: the mission a
// connection is currently attempting. Created by mission:start, mutated in
// place by mission:completed, destroyed on disconnect.
type MissionSession struct {
	UserID       string     `json:"userId"`
	MissionID    string     `json:"missionId"`
	MissionTitle string     `json:"missionTitle"`
	StartedAt    time.Time  `json:"startedAt"`
	Status       string     `json:"status"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Score        *int       `json:"score,omitempty"`
	TimeSpent    *int       `json:"timeSpent,omitempty"`
	Points       *int       `json:"points,omitempty"`
}

// MissionActivity is the per-mission participation counter plus the most
// recent session state observed for that mission. The entry is removed
// entirely once ActiveParticipants reaches zero; no history is kept.
type MissionActivity struct {
	MissionID          string    `json:"missionId"`
	MissionTitle       string    `json:"missionTitle"`
	LastStartedBy      string    `json:"lastStartedBy"`
	ActiveParticipants int       `json:"activeParticipants"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Inbound payloads. Field names mirror what the web client sends.

type JoinPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	XP     int    `json:"xp"`
}

type MissionStartPayload struct {
	UserID       string `json:"userId"`
	MissionID    string `json:"missionId"`
	MissionTitle string `json:"missionTitle"`
}

type MentorHelpPayload struct {
	UserID    string `json:"userId"`
	MissionID string `json:"missionId"`
	Code      string `json:"code"`
	Question  string `json:"question"`
}

type CodeChangePayload struct {
	MissionID string `json:"missionId"`
	Code      string `json:"code"`
	Cursor    int    `json:"cursor"`
}

// AchievementPayload carries an opaque achievement object. The relay never
// inspects it beyond relaying, so it stays schemaless.
type AchievementPayload struct {
	UserID      string                 `json:"userId"`
	Achievement map[string]interface{} `json:"achievement"`
}

type MissionCompletedPayload struct {
	UserID    string `json:"userId"`
	MissionID string `json:"missionId"`
	Score     int    `json:"score"`
	TimeSpent int    `json:"timeSpent"`
	Points    int    `json:"points"`
}

type StreakPayload struct {
	UserID string `json:"userId"`
	Streak int    `json:"streak"`
}

// Outbound payloads.

// UserStats is broadcast to every connection after a join or disconnect.
// Count always equals the number of live user bindings.
type UserStats struct {
	Count int            `json:"count"`
	Users []*UserProfile `json:"users"`
}

// MissionStats is broadcast to every connection after mission participation
// changes. TotalActive is the sum of active participants across missions.
type MissionStats struct {
	ActiveMissions int `json:"activeMissions"`
	TotalActive    int `json:"totalActive"`
}

type MentorResponse struct {
	MissionID string    `json:"missionId"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type RemoteCodeChange struct {
	UserID    string    `json:"userId"`
	Code      string    `json:"code"`
	Cursor    int       `json:"cursor"`
	Timestamp time.Time `json:"timestamp"`
}

type AchievementNotice struct {
	Achievement map[string]interface{} `json:"achievement"`
	Timestamp   time.Time              `json:"timestamp"`
}

// FeedEntry is one item in the global, process-lifetime activity feed. User
// is nil when the unlocking connection never identified itself.
type FeedEntry struct {
	User        *UserProfile           `json:"user"`
	Achievement map[string]interface{} `json:"achievement"`
	Timestamp   time.Time              `json:"timestamp"`
}

type MissionCompletion struct {
	MissionID string    `json:"missionId"`
	Score     int       `json:"score"`
	Points    int       `json:"points"`
	TimeSpent int       `json:"timeSpent"`
	Timestamp time.Time `json:"timestamp"`
}

type StreakNotice struct {
	Streak    int       `json:"streak"`
	Timestamp time.Time `json:"timestamp"`
}

type LeaderboardUpdate struct {
	Users     []*UserProfile `json:"users"`
	Timestamp time.Time      `json:"timestamp"`
}
