package relay

import (
	"encoding/json"
	"log"
	"sort"

	"skillytics/pkg/interfaces"
	"skillytics/pkg/types"
)

// Per-event handlers. All of them run on the relay goroutine and follow the
// same edge-case policy: events from connections that never sent user:join
// are accepted defensively, produce only the state changes directly named
// below, and never produce an error response to the client.

// handleUserJoin creates the user binding, subscribes the connection to its
// per-user channel and rebroadcasts the aggregate user count to everyone.
func (r *Relay) handleUserJoin(ec *eventContext) {
	var payload types.JoinPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping user:join with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	if err := payload.Validate(); err != nil {
		log.Printf("Dropping user:join from %s: %v", ec.conn.ID(), err)
		return
	}

	r.users[ec.conn.ID()] = &types.UserProfile{
		UserID:   payload.UserID,
		Name:     payload.Name,
		Level:    payload.Level,
		XP:       payload.XP,
		JoinedAt: ec.timestamp,
	}

	ec.conn.SetUser(payload.UserID)
	r.registry.SubscribeUser(payload.UserID, ec.conn)

	r.broadcastUserStats()

	log.Printf("User %s joined the platform", payload.Name)
}

// handleMissionStart creates or replaces the session binding, subscribes the
// connection to the mission channel, adjusts participation counters and
// rebroadcasts the mission aggregates.
//
// A connection already in-progress on another mission releases that
// mission's slot first; the counter invariant is that it equals the number
// of live in-progress bindings for the mission, exactly.
func (r *Relay) handleMissionStart(ec *eventContext) {
	var payload types.MissionStartPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping mission:start with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	if err := payload.Validate(); err != nil {
		log.Printf("Dropping mission:start from %s: %v", ec.conn.ID(), err)
		return
	}

	if prev, ok := r.sessions[ec.conn.ID()]; ok && prev.Status == types.SessionInProgress {
		r.decrementMission(prev.MissionID)
	}

	r.sessions[ec.conn.ID()] = &types.MissionSession{
		UserID:       payload.UserID,
		MissionID:    payload.MissionID,
		MissionTitle: payload.MissionTitle,
		StartedAt:    ec.timestamp,
		Status:       types.SessionInProgress,
	}

	r.registry.SubscribeMission(payload.MissionID, ec.conn)
	r.incrementMission(&payload, ec)

	r.broadcastMissionStats()

	log.Printf("User started mission: %s", payload.MissionTitle)
}

// handleMentorHelp schedules a canned mentor reply addressed to the
// requesting connection only. The delay is a timer, not a sleep: the relay
// keeps processing events while responses are pending, and concurrent
// requests from one connection resolve independently and unordered.
func (r *Relay) handleMentorHelp(ec *eventContext) {
	var payload types.MentorHelpPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping mentor:help with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	r.mentor.Schedule(ec.conn, payload.MissionID, payload.Code, payload.Question)

	log.Printf("Mentor help requested for mission %s", payload.MissionID)
}

// handleCodeChange relays an editor change verbatim to every other
// connection on the mission channel. No ordering or merge semantics;
// receivers apply last-write-wins on their own.
func (r *Relay) handleCodeChange(ec *eventContext) {
	var payload types.CodeChangePayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping code:change with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	// Sender attribution comes from the user binding and is empty for
	// connections that never joined.
	var userID string
	if profile, ok := r.users[ec.conn.ID()]; ok {
		userID = profile.UserID
	}

	change := &types.RemoteCodeChange{
		UserID:    userID,
		Code:      payload.Code,
		Cursor:    payload.Cursor,
		Timestamp: ec.timestamp,
	}

	for _, conn := range r.registry.MissionChannel(payload.MissionID) {
		if conn.ID() == ec.conn.ID() {
			continue
		}
		r.deliver(conn, types.EventRemoteCodeChange, change)
	}
}

// handleAchievementUnlocked notifies the unlocking user's channel and
// appends to the global activity feed, which is broadcast to everyone.
func (r *Relay) handleAchievementUnlocked(ec *eventContext) {
	var payload types.AchievementPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping achievement:unlocked with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	r.broadcastUser(payload.UserID, types.EventAchievementNotice, &types.AchievementNotice{
		Achievement: payload.Achievement,
		Timestamp:   ec.timestamp,
	})

	entry := &types.FeedEntry{
		User:        r.users[ec.conn.ID()], // nil for anonymous connections
		Achievement: payload.Achievement,
		Timestamp:   ec.timestamp,
	}
	r.feed = append(r.feed, entry)

	r.broadcastAll(types.EventFeedAchievement, entry)
}

// handleMissionCompleted mutates the session binding in place, releases the
// mission's participation slot, rebroadcasts the mission aggregates and
// sends the completing user a point-to-point completion notice.
func (r *Relay) handleMissionCompleted(ec *eventContext) {
	var payload types.MissionCompletedPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping mission:completed with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	if session, ok := r.sessions[ec.conn.ID()]; ok && session.Status == types.SessionInProgress {
		completedAt := ec.timestamp
		score := payload.Score
		timeSpent := payload.TimeSpent
		points := payload.Points

		session.Status = types.SessionCompleted
		session.CompletedAt = &completedAt
		session.Score = &score
		session.TimeSpent = &timeSpent
		session.Points = &points

		// Deliberately the payload's mission, not the session's: when a
		// client completes under a different mission ID, the binding's own
		// mission keeps its slot. Clients were built against this behavior;
		// do not reroute the decrement to session.MissionID.
		r.decrementMission(payload.MissionID)
	}

	r.broadcastMissionStats()

	r.broadcastUser(payload.UserID, types.EventMissionCompletion, &types.MissionCompletion{
		MissionID: payload.MissionID,
		Score:     payload.Score,
		Points:    payload.Points,
		TimeSpent: payload.TimeSpent,
		Timestamp: ec.timestamp,
	})

	log.Printf("Mission completed: %s with score %d", payload.MissionID, payload.Score)
}

// handleStreakUpdate sends the streak notice to the user's own channel only.
func (r *Relay) handleStreakUpdate(ec *eventContext) {
	var payload types.StreakPayload
	if err := json.Unmarshal(ec.event.Data, &payload); err != nil {
		log.Printf("Dropping streak:update with bad payload from %s: %v", ec.conn.ID(), err)
		return
	}

	r.broadcastUser(payload.UserID, types.EventStreakUpdated, &types.StreakNotice{
		Streak:    payload.Streak,
		Timestamp: ec.timestamp,
	})

	log.Printf("Streak updated for user %s: %d days", payload.UserID, payload.Streak)
}

// handleLeaderboardRequest computes the leaderboard at request time from the
// live user bindings and replies point-to-point; nothing is broadcast.
func (r *Relay) handleLeaderboardRequest(ec *eventContext) {
	r.deliver(ec.conn, types.EventLeaderboardUpdate, &types.LeaderboardUpdate{
		Users:     r.computeLeaderboard(),
		Timestamp: ec.timestamp,
	})
}

// handleDisconnect removes both bindings for the connection, releases its
// mission slot if it was in progress, and rebroadcasts both aggregates when
// anything changed. Terminal: the connection ID never reappears.
func (r *Relay) handleDisconnect(ec *eventContext) {
	connID := ec.conn.ID()

	profile, hadUser := r.users[connID]
	session, hadSession := r.sessions[connID]

	delete(r.users, connID)
	delete(r.sessions, connID)
	r.registry.Remove(connID)

	if hadSession && session.Status == types.SessionInProgress {
		r.decrementMission(session.MissionID)
	}

	if hadUser || hadSession {
		r.broadcastUserStats()
		r.broadcastMissionStats()
	}

	if hadUser {
		log.Printf("User disconnected: %s", profile.Name)
	} else {
		log.Printf("Client disconnected: %s", connID)
	}
}

// incrementMission bumps the mission's participation counter, creating the
// entry on first start, and records the latest session state on it.
func (r *Relay) incrementMission(payload *types.MissionStartPayload, ec *eventContext) {
	activity, ok := r.missions[payload.MissionID]
	if !ok {
		activity = &types.MissionActivity{MissionID: payload.MissionID}
		r.missions[payload.MissionID] = activity
	}
	activity.MissionTitle = payload.MissionTitle
	activity.LastStartedBy = payload.UserID
	activity.ActiveParticipants++
	activity.UpdatedAt = ec.timestamp
}

// decrementMission releases one participation slot, clamped at zero, and
// drops the entry entirely when the count reaches zero.
func (r *Relay) decrementMission(missionID string) {
	activity, ok := r.missions[missionID]
	if !ok {
		return
	}
	if activity.ActiveParticipants > 0 {
		activity.ActiveParticipants--
	}
	if activity.ActiveParticipants == 0 {
		delete(r.missions, missionID)
	}
}

// computeLeaderboard returns the identified users sorted by XP descending,
// capped at the configured size. Ties break by earlier join time, then
// connection order, so repeated requests see a stable ranking.
func (r *Relay) computeLeaderboard() []*types.UserProfile {
	ranked := make([]*types.UserProfile, 0, len(r.users))
	for _, profile := range r.users {
		ranked = append(ranked, profile)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].XP != ranked[j].XP {
			return ranked[i].XP > ranked[j].XP
		}
		if !ranked[i].JoinedAt.Equal(ranked[j].JoinedAt) {
			return ranked[i].JoinedAt.Before(ranked[j].JoinedAt)
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	if len(ranked) > r.leaderboardSize {
		ranked = ranked[:r.leaderboardSize]
	}
	return ranked
}

// broadcastUserStats sends the aggregate user count and the public profiles
// of everyone identified to all connections.
func (r *Relay) broadcastUserStats() {
	stats := &types.UserStats{
		Count: len(r.users),
		Users: r.userList(),
	}
	r.broadcastAll(types.EventStatsUsers, stats)
}

// broadcastMissionStats sends the count of missions with active participants
// and the participant total across them to all connections.
func (r *Relay) broadcastMissionStats() {
	totalActive := 0
	for _, activity := range r.missions {
		totalActive += activity.ActiveParticipants
	}
	stats := &types.MissionStats{
		ActiveMissions: len(r.missions),
		TotalActive:    totalActive,
	}
	r.broadcastAll(types.EventStatsMissions, stats)
}

func (r *Relay) userList() []*types.UserProfile {
	users := make([]*types.UserProfile, 0, len(r.users))
	for _, profile := range r.users {
		users = append(users, profile)
	}
	return users
}

// broadcastAll delivers to every live connection with per-recipient error
// containment: one subscriber's dead socket never affects the rest.
func (r *Relay) broadcastAll(event string, data interface{}) {
	for _, conn := range r.registry.All() {
		r.deliver(conn, event, data)
	}
}

// broadcastUser delivers to every connection on a user's channel.
func (r *Relay) broadcastUser(userID, event string, data interface{}) {
	for _, conn := range r.registry.UserChannel(userID) {
		r.deliver(conn, event, data)
	}
}

// deliver is the single fire-and-forget send path. Failures are logged and
// swallowed; the protocol has no acknowledgement and no retry.
func (r *Relay) deliver(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.WriteJSON(&types.Envelope{Event: event, Data: data}); err != nil {
		log.Printf("Failed to deliver %s to %s: %v", event, conn.ID(), err)
	}
}
