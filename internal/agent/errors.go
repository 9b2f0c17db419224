// internal/agent/errors.go
package agent

import "fmt"

// FailureClass is a string type used for structured failure reporting in the
// turn history. Using a custom type ensures that only predefined constants
// can be recorded where a class is expected.
type FailureClass string

const (
	// FailureNone marks a successful turn.
	FailureNone FailureClass = ""
	// FailureParse covers malformed responses, unknown commands and invalid
	// parameters from the decision model.
	FailureParse FailureClass = "PARSE_ERROR"
	// FailureClient covers decision-backend connection and timeout errors.
	FailureClient FailureClass = "CLIENT_ERROR"
	// FailureDevice covers transient capture and dispatch failures that
	// survived the per-action retry budget.
	FailureDevice FailureClass = "DEVICE_ERROR"
	// FailureModel marks an explicit error action issued by the model.
	FailureModel FailureClass = "MODEL_ERROR"
)

// StartupError means the run could not begin: an empty goal or an unreachable
// device. No turn is ever recorded before it.
type StartupError struct {
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("cannot start run: %s", e.Reason)
}
