package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"skillytics/internal/websocket"
	"skillytics/pkg/interfaces"
	"skillytics/pkg/types"
)

// Relay owns all presence state: the connection-to-user bindings, the
// connection-to-session bindings, the per-mission participation counters and
// the activity feed. A single goroutine mutates them, fed by buffered
// channels, which preserves the run-to-completion semantics the protocol
// assumes: every aggregate broadcast reflects exactly the state after the
// most recently applied event.
//
// Events from one connection arrive in dispatch order because each
// connection has one read pump. Across connections there is no ordering
// guarantee.
type Relay struct {
	// eventChannel carries client events and synthesized disconnects.
	// 1000 buffer absorbs bursts from code:change chatter.
	eventChannel chan *eventContext
	// snapshotChannel serves read-only state requests from the HTTP API
	// through the same goroutine, so readers never observe a half-applied
	// event.
	snapshotChannel chan *snapshotRequest
	shutdownChannel chan struct{}

	registry *websocket.Registry
	mentor   *Mentor

	// State owned by run(). Never touched from any other goroutine.
	users    map[string]*types.UserProfile    // connID -> user binding
	sessions map[string]*types.MissionSession // connID -> session binding
	missions map[string]*types.MissionActivity
	feed     []*types.FeedEntry

	leaderboardSize int

	running bool
	mu      sync.RWMutex
}

// eventContext wraps an event with its originating connection and receive
// time, so handlers can address replies without re-resolving the sender.
type eventContext struct {
	event     *types.Event
	conn      interfaces.Connection
	timestamp time.Time
}

// NewRelay creates a relay. The registry is shared with the transport layer,
// which registers connections synchronously on upgrade.
func NewRelay(registry *websocket.Registry, mentor *Mentor, leaderboardSize int) *Relay {
	if leaderboardSize <= 0 {
		leaderboardSize = 10
	}
	return &Relay{
		eventChannel:    make(chan *eventContext, 1000),
		snapshotChannel: make(chan *snapshotRequest, 16),
		shutdownChannel: make(chan struct{}),
		registry:        registry,
		mentor:          mentor,
		users:           make(map[string]*types.UserProfile),
		sessions:        make(map[string]*types.MissionSession),
		missions:        make(map[string]*types.MissionActivity),
		leaderboardSize: leaderboardSize,
	}
}

// Start begins event processing.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRelayAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	log.Println("Starting presence relay...")

	go r.run(ctx)

	return nil
}

// Stop shuts down event processing. In-memory state is discarded, not
// persisted; that is the contract for every binding the relay keeps.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrRelayNotRunning
	}
	r.running = false

	log.Println("Stopping presence relay...")

	select {
	case <-r.shutdownChannel:
	default:
		close(r.shutdownChannel)
	}

	return nil
}

// Dispatch queues a client event. Non-blocking: a full queue drops the event
// with ErrEventChannelFull and nothing is retried.
func (r *Relay) Dispatch(conn interfaces.Connection, event *types.Event) error {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return ErrRelayNotRunning
	}
	r.mu.RUnlock()

	if conn == nil || event == nil {
		return ErrNilEvent
	}

	ec := &eventContext{
		event:     event,
		conn:      conn,
		timestamp: time.Now(),
	}

	select {
	case r.eventChannel <- ec:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Disconnect queues binding cleanup for a dropped connection. Unlike
// Dispatch it blocks until queued: losing a disconnect would leak the
// connection's bindings for the life of the process.
func (r *Relay) Disconnect(conn interfaces.Connection) error {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return ErrRelayNotRunning
	}
	r.mu.RUnlock()

	if conn == nil {
		return ErrNilEvent
	}

	ec := &eventContext{
		event:     &types.Event{Event: types.EventDisconnect},
		conn:      conn,
		timestamp: time.Now(),
	}

	select {
	case r.eventChannel <- ec:
		return nil
	case <-r.shutdownChannel:
		return ErrRelayNotRunning
	}
}

// run is the single state-owning goroutine.
func (r *Relay) run(ctx context.Context) {
	defer log.Println("Relay processing stopped")

	for {
		select {
		case ec := <-r.eventChannel:
			r.handleEvent(ec)

		case req := <-r.snapshotChannel:
			req.reply <- r.buildSnapshot()

		case <-r.shutdownChannel:
			log.Println("Relay shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Relay context cancelled")
			return
		}
	}
}

// handleEvent dispatches one event to its handler. Handlers tolerate
// out-of-order client behavior (for example mission:start before user:join)
// silently; the protocol has no error envelope to reject with.
func (r *Relay) handleEvent(ec *eventContext) {
	switch ec.event.Event {
	case types.EventUserJoin:
		r.handleUserJoin(ec)
	case types.EventMissionStart:
		r.handleMissionStart(ec)
	case types.EventMentorHelp:
		r.handleMentorHelp(ec)
	case types.EventCodeChange:
		r.handleCodeChange(ec)
	case types.EventAchievementUnlock:
		r.handleAchievementUnlocked(ec)
	case types.EventMissionCompleted:
		r.handleMissionCompleted(ec)
	case types.EventStreakUpdate:
		r.handleStreakUpdate(ec)
	case types.EventLeaderboardRequest:
		r.handleLeaderboardRequest(ec)
	case types.EventDisconnect:
		r.handleDisconnect(ec)
	default:
		log.Printf("Unhandled event %q from %s", ec.event.Event, ec.conn.ID())
	}
}
