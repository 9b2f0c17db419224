// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/droidprobe-cli/internal/action"
)

// systemPrompt is the static instruction set given to the decision model on
// every turn. It defines the persona, the command vocabulary, the required
// response shape, and recovery strategies for the failure classes the model
// will see in its history.
func systemPrompt() string {
	return basePrompt + commandListPrompt + recoveryPrompt + closingPrompt
}

const basePrompt = `You are an automated UI tester driving a real Android device.
You are given a test goal, the device screen resolution, a pruned dump of the
current UI hierarchy, and the outcome of your recent actions. Each turn you
choose exactly one command to move toward the goal.`

const commandListPrompt = `

Available commands:

    - touch X Y: Tap the screen at pixel (X, Y). Both values are integers
      inside the screen resolution.
    - swipe X1 Y1 X2 Y2 D: Swipe from (X1, Y1) to (X2, Y2) over D
      milliseconds. D must be positive.
    - text TEXT: Type TEXT into the currently focused input field. Everything
      after the keyword is typed verbatim, spaces included.
    - key N: Press the Android key with code N. Useful codes: 3 HOME, 4 BACK,
      82 MENU, 24 VOLUME UP, 25 VOLUME DOWN, 26 POWER.
    - end: The goal has been achieved. This finishes the run successfully.
    - error REASON: The goal cannot be achieved. REASON explains why. This
      finishes the run as failed.`

const recoveryPrompt = `

Failure recovery:
    Your recent turns may carry a failure class. React to it:
    - PARSE_ERROR: Your previous response was not a valid command. Re-read the
      command list and answer with exactly one well-formed command.
    - INVALID_PARAMETERS: The command was recognized but its parameters were
      wrong or out of bounds. Correct them; coordinates must lie inside the
      screen resolution.
    - DEVICE_ERROR: The device rejected the action. The target may not be
      interactable; try a different element or scroll it into view first.`

const closingPrompt = `

Respond with a single JSON object of the form {"command": "<one command>"}.
No other text.`

// buildUserPrompt renders the per-turn context: goal, resolution, current
// hierarchy, and the recent history window.
func buildUserPrompt(goal string, screen action.ScreenSize, hierarchy string, history []Turn) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Test goal: %s\n", goal)
	fmt.Fprintf(&sb, "Screen resolution: %dx%d\n\n", screen.Width, screen.Height)

	if len(history) > 0 {
		sb.WriteString("Recent turns (oldest first):\n")
		for _, turn := range history {
			sb.WriteString(formatTurn(turn))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Current UI hierarchy:\n")
	sb.WriteString(hierarchy)
	sb.WriteString("\n\nChoose the next command.")
	return sb.String()
}

func formatTurn(turn Turn) string {
	issued := "(no action)"
	if turn.Action != nil {
		issued = turn.Action.String()
	}
	if turn.Outcome == OutcomeSuccess {
		return fmt.Sprintf("  %d. %s -> ok\n", turn.Index+1, issued)
	}
	detail := turn.Detail
	if detail == "" {
		detail = "failed"
	}
	return fmt.Sprintf("  %d. %s -> %s: %s\n", turn.Index+1, issued, turn.Class, detail)
}
