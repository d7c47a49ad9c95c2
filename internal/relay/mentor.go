package relay

import (
	"log"
	"math/rand/v2"
	"time"

	"skillytics/pkg/interfaces"
	"skillytics/pkg/types"
)

// Canned mentor replies. A real deployment would call out to an LLM service
// here; the relay only guarantees the delivery contract (one reply, to the
// requester only, after the delay).
var mentorResponses = []string{
	"I see you're working on DOM manipulation. Remember to always check if an element exists before trying to modify it.",
	"Great question! For this problem, think about the current state of the element. You can use `element.style.display` to check if it's visible.",
	"You're on the right track! Consider using an if/else statement to toggle between showing and hiding the element.",
	"Hint: JavaScript can read the current CSS properties of an element. Try checking `style.display` before making changes.",
	"Excellent debugging approach! Have you tried logging the element's current display state to the console?",
}

// Mentor produces simulated mentor replies on a timer. Scheduling is
// non-blocking: the relay goroutine keeps processing events while replies
// are pending, and replies touch no relay state, so writing directly from
// the timer callback is safe.
type Mentor struct {
	delay     time.Duration
	responses []string
}

// NewMentor creates a mentor with the given simulated processing delay.
func NewMentor(delay time.Duration) *Mentor {
	return &Mentor{
		delay:     delay,
		responses: mentorResponses,
	}
}

// Schedule queues exactly one reply to conn after the configured delay.
// Concurrent requests from the same connection are independent and resolve
// in whatever order their timers fire.
func (m *Mentor) Schedule(conn interfaces.Connection, missionID, code, question string) {
	response := m.respond(code, question)

	time.AfterFunc(m.delay, func() {
		envelope := &types.Envelope{
			Event: types.EventMentorResponse,
			Data: &types.MentorResponse{
				MissionID: missionID,
				Response:  response,
				Timestamp: time.Now(),
			},
		}
		if err := conn.WriteJSON(envelope); err != nil {
			// Requester likely disconnected during the delay.
			log.Printf("Failed to deliver mentor response to %s: %v", conn.ID(), err)
		}
	})
}

// respond picks a reply. The inputs are accepted for interface stability
// with a future analyzer; the current mentor does not inspect them.
func (m *Mentor) respond(code, question string) string {
	_ = code
	_ = question
	return m.responses[rand.IntN(len(m.responses))]
}
