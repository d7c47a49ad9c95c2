package types

import "regexp"

// Compiled once at package initialization; these run on every inbound frame.
var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	missionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// IsValidInboundEvent reports whether the event name is part of the client
// vocabulary. Unknown events are dropped by the relay, never errored back to
// the client.
func IsValidInboundEvent(event string) bool {
	switch event {
	case EventUserJoin,
		EventMissionStart,
		EventMentorHelp,
		EventCodeChange,
		EventAchievementUnlock,
		EventMissionCompleted,
		EventStreakUpdate,
		EventLeaderboardRequest,
		EventDisconnect:
		return true
	default:
		return false
	}
}

// Validate rejects envelopes the relay has no handler for. The error never
// travels back to the client; the frame is logged and dropped.
func (e *Event) Validate() error {
	if e.Event == "" {
		return ErrEmptyEnvelope
	}
	if !IsValidInboundEvent(e.Event) {
		return ErrInvalidEvent
	}
	return nil
}

// Validate checks the join payload's identity fields.
func (p *JoinPayload) Validate() error {
	if !IsValidUserID(p.UserID) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate checks the mission start payload's identifiers.
func (p *MissionStartPayload) Validate() error {
	if !IsValidMissionID(p.MissionID) {
		return ErrInvalidMissionID
	}
	return nil
}

// IsValidUserID checks user ID format. 1-50 characters keeps IDs renderable
// in the client UI.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidMissionID checks mission ID format, same alphabet as user IDs.
func IsValidMissionID(missionID string) bool {
	if len(missionID) < 1 || len(missionID) > 50 {
		return false
	}
	return missionIDRegex.MatchString(missionID)
}
