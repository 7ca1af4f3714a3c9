// Package session holds per-user conversation state for intake flows.
// State lives in memory only and is lost on restart.
package session

import (
	"time"

	"github.com/kompomir/servicebot/intake/flow"
)

// State is the tagged conversation state of a user.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
	// StateInFlow means a flow is collecting answers.
	StateInFlow State = "in_flow"
	// StateAwaitingConfirmation means every answer is collected and the summary is shown.
	StateAwaitingConfirmation State = "awaiting_confirmation"
	// StateAwaitingOperatorChat means the next text message is forwarded to the operator.
	StateAwaitingOperatorChat State = "awaiting_operator_chat"
)

// Session is the conversation record of one user.
//
// Step indexes the pending question while InFlow and equals the flow length
// while AwaitingConfirmation. Values holds exactly the answers of steps before Step.
type Session struct {
	UserID       int64
	State        State
	Flow         flow.ID
	Variant      string
	Step         int
	Values       map[string]string
	Generation   uint64
	LastActivity time.Time
}

// Idle returns an empty session for the user.
func Idle(userID int64) Session {
	return Session{UserID: userID, State: StateIdle}
}

// IsIdle reports whether no flow or chat is active.
func (s Session) IsIdle() bool {
	return s.State == StateIdle || s.State == ""
}

// Clone returns a deep copy safe to mutate.
func (s Session) Clone() Session {
	c := s
	if s.Values != nil {
		c.Values = make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			c.Values[k] = v
		}
	}
	return c
}

// Reset drops the active flow and collected values, keeping identity and generation.
func (s Session) Reset() Session {
	return Session{UserID: s.UserID, State: StateIdle, Generation: s.Generation, LastActivity: s.LastActivity}
}
