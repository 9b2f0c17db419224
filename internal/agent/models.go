// internal/agent/models.go
package agent

import (
	"time"

	"github.com/xkilldash9x/droidprobe-cli/internal/action"
)

// RunStatus represents the lifecycle state of one exploration run. Terminal
// states are absorbing: no transition ever leaves Completed or Failed.
type RunStatus string

const (
	StatusIdle      RunStatus = "IDLE"      // The run has not started yet.
	StatusRunning   RunStatus = "RUNNING"   // The loop is iterating.
	StatusCompleted RunStatus = "COMPLETED" // The model issued an explicit end action.
	StatusFailed    RunStatus = "FAILED"    // The run terminated with a failure reason.
)

// TurnOutcome records whether one iteration achieved its action.
type TurnOutcome string

const (
	OutcomeSuccess TurnOutcome = "SUCCESS"
	OutcomeFailure TurnOutcome = "FAILURE"
)

// Turn is one iteration's record: what the screen looked like, what the model
// said, what action (if any) came out of it, and how it went. Turns are only
// ever appended to a run's history.
type Turn struct {
	ID        string         `json:"id"`
	Index     int            `json:"index"`
	Snapshot  string         `json:"snapshot"` // Compacted hierarchy shown to the model; empty when capture failed.
	Raw       string         `json:"raw"`      // Raw decision payload, kept for inspection.
	Action    *action.Action `json:"action,omitempty"`
	Outcome   TurnOutcome    `json:"outcome"`
	Class     FailureClass   `json:"class,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunState holds everything there is to know about one run. It is created at
// run start, mutated only by the automation loop, and handed out at terminal
// status as the run's sole externally observable result.
type RunState struct {
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal"`
	Status    RunStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Turns     []Turn    `json:"turns"`
}

// append records a turn. History is append-only and single-writer.
func (s *RunState) append(t Turn) {
	t.ID = uuidNewString()
	t.Index = len(s.Turns)
	t.Timestamp = time.Now().UTC()
	s.Turns = append(s.Turns, t)
}

// tail returns the most recent n turns.
func (s *RunState) tail(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// complete moves the run into a terminal state. Once terminal, further calls
// are ignored.
func (s *RunState) complete(status RunStatus, reason string) {
	if s.Status == StatusCompleted || s.Status == StatusFailed {
		return
	}
	s.Status = status
	s.Reason = reason
	s.EndedAt = time.Now().UTC()
}
