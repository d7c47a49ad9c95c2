package relay

import (
	"context"

	"skillytics/pkg/types"
)

// Snapshot is a read-only copy of relay state at a single point between
// events, served to the HTTP API.
type Snapshot struct {
	UserCount      int                      `json:"userCount"`
	Users          []*types.UserProfile     `json:"users"`
	ActiveMissions int                      `json:"activeMissions"`
	TotalActive    int                      `json:"totalActive"`
	Missions       []*types.MissionActivity `json:"missions"`
	Leaderboard    []*types.UserProfile     `json:"leaderboard"`
	Feed           []*types.FeedEntry       `json:"feed"`
}

type snapshotRequest struct {
	reply chan *Snapshot
}

// Snapshot requests a consistent state copy through the relay goroutine.
// Blocks until the relay gets to the request or ctx expires.
func (r *Relay) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return nil, ErrRelayNotRunning
	}
	r.mu.RUnlock()

	req := &snapshotRequest{reply: make(chan *Snapshot, 1)}

	select {
	case r.snapshotChannel <- req:
	case <-r.shutdownChannel:
		return nil, ErrRelayNotRunning
	case <-ctx.Done():
		return nil, ErrSnapshotUnavailable
	}

	select {
	case snap := <-req.reply:
		return snap, nil
	case <-r.shutdownChannel:
		return nil, ErrRelayNotRunning
	case <-ctx.Done():
		return nil, ErrSnapshotUnavailable
	}
}

// buildSnapshot runs on the relay goroutine. It copies values out of the
// owned maps so callers can read without racing later mutations. Profile and
// activity structs are copied by value; feed entries are append-only and
// never mutated after creation, so sharing the pointers is safe.
func (r *Relay) buildSnapshot() *Snapshot {
	users := make([]*types.UserProfile, 0, len(r.users))
	for _, profile := range r.users {
		copied := *profile
		users = append(users, &copied)
	}

	missions := make([]*types.MissionActivity, 0, len(r.missions))
	totalActive := 0
	for _, activity := range r.missions {
		copied := *activity
		missions = append(missions, &copied)
		totalActive += activity.ActiveParticipants
	}

	leaderboard := make([]*types.UserProfile, 0, r.leaderboardSize)
	for _, profile := range r.computeLeaderboard() {
		copied := *profile
		leaderboard = append(leaderboard, &copied)
	}

	feed := make([]*types.FeedEntry, len(r.feed))
	copy(feed, r.feed)

	return &Snapshot{
		UserCount:      len(users),
		Users:          users,
		ActiveMissions: len(missions),
		TotalActive:    totalActive,
		Missions:       missions,
		Leaderboard:    leaderboard,
		Feed:           feed,
	}
}
