// File: internal/action/action.go
package action

import "fmt"

// Kind discriminates the action variants the model may issue. Touch, Swipe,
// Text and Key map to device inputs; End and Error are control signals that
// terminate the run and never reach the device.
type Kind string

const (
	KindTouch Kind = "touch"
	KindSwipe Kind = "swipe"
	KindText  Kind = "text"
	KindKey   Kind = "key"
	KindEnd   Kind = "end"
	KindError Kind = "error"
)

// ScreenSize is the declared device resolution used for bounds validation.
type ScreenSize struct {
	Width  int
	Height int
}

// Coordinates is an x,y pixel position on the device screen.
type Coordinates struct {
	X int
	Y int
}

// Validate checks that the coordinates lie within the screen.
func (c Coordinates) Validate(screen ScreenSize) error {
	if c.X < 0 || c.Y < 0 {
		return fmt.Errorf("coordinates must be non-negative, got (%d, %d)", c.X, c.Y)
	}
	if screen.Width > 0 && c.X >= screen.Width {
		return fmt.Errorf("x=%d is outside the screen width %d", c.X, screen.Width)
	}
	if screen.Height > 0 && c.Y >= screen.Height {
		return fmt.Errorf("y=%d is outside the screen height %d", c.Y, screen.Height)
	}
	return nil
}

// Action is a tagged variant over the device instructions and control
// signals. Exactly one variant's fields are populated, selected by Kind.
// Values are only constructed by this package so the invariant holds.
type Action struct {
	Kind Kind

	// Touch
	Pos Coordinates

	// Swipe
	Start      Coordinates
	End        Coordinates
	DurationMs int

	// Text
	Text string

	// Key
	KeyCode int

	// Error
	Reason string
}

// IsControl reports whether the action is a run-control signal rather than a
// device input.
func (a Action) IsControl() bool {
	return a.Kind == KindEnd || a.Kind == KindError
}

// String renders the action in the wire command form, useful for logging and
// for replaying history to the model.
func (a Action) String() string {
	switch a.Kind {
	case KindTouch:
		return fmt.Sprintf("touch %d %d", a.Pos.X, a.Pos.Y)
	case KindSwipe:
		return fmt.Sprintf("swipe %d %d %d %d %d", a.Start.X, a.Start.Y, a.End.X, a.End.Y, a.DurationMs)
	case KindText:
		return fmt.Sprintf("text %s", a.Text)
	case KindKey:
		return fmt.Sprintf("key %d", a.KeyCode)
	case KindEnd:
		return "end"
	case KindError:
		return fmt.Sprintf("error %s", a.Reason)
	}
	return string(a.Kind)
}
