// File: internal/action/parse.go
package action

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// ParseErrorKind classifies why a model response could not be turned into an
// Action. The loop records the kind in the turn history so the model can see
// what went wrong on its next attempt.
type ParseErrorKind string

const (
	// MalformedResponse means the payload was not a {"command": string} object.
	MalformedResponse ParseErrorKind = "MALFORMED_RESPONSE"
	// UnknownCommand means the command keyword is not part of the vocabulary.
	UnknownCommand ParseErrorKind = "UNKNOWN_COMMAND"
	// InvalidParameters means the keyword was recognized but its parameters
	// were missing, non-numeric, or out of bounds.
	InvalidParameters ParseErrorKind = "INVALID_PARAMETERS"
)

// ParseError is the typed failure returned by this package. It never carries
// a partially populated Action.
type ParseError struct {
	Kind    ParseErrorKind
	Command string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s (command %q)", e.Kind, e.Reason, e.Command)
}

func malformed(reason string) *ParseError {
	return &ParseError{Kind: MalformedResponse, Reason: reason}
}

func invalid(command, reason string) *ParseError {
	return &ParseError{Kind: InvalidParameters, Command: command, Reason: reason}
}

// envelope is the expected shape of a decision response.
type envelope struct {
	Command string `json:"command"`
}

// jsonBlockRegex extracts a JSON object from a markdown code block, the most
// common way chat models wrap structured output.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Extract performs the single structured-extraction attempt on a raw model
// response: strip a markdown fence if present, fall back to the outermost
// brace window, then require a {"command": string} object. Anything else is a
// MalformedResponse.
func Extract(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", malformed("empty response")
	}

	candidate := raw
	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else if first, last := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); first != -1 && last > first {
		candidate = raw[first : last+1]
	}

	var env envelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return "", malformed(fmt.Sprintf("response is not a JSON object: %v", err))
	}
	if env.Command == "" {
		return "", malformed(`response object is missing the "command" field`)
	}
	return env.Command, nil
}

// Parse turns a command line into a typed Action, validating parameter count,
// integer syntax and screen bounds. It is a pure function of its input.
func Parse(command string, screen ScreenSize) (Action, error) {
	command = strings.TrimLeft(command, " \t")
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Action{}, malformed("empty command")
	}

	keyword, params := fields[0], fields[1:]
	switch keyword {
	case "touch":
		return parseTouch(command, params, screen)
	case "swipe":
		return parseSwipe(command, params, screen)
	case "text":
		return parseText(command)
	case "key":
		return parseKey(command, params)
	case "end":
		if len(params) != 0 {
			return Action{}, invalid(command, "end takes no parameters")
		}
		return Action{Kind: KindEnd}, nil
	case "error":
		reason := strings.TrimSpace(strings.TrimPrefix(command, "error"))
		if reason == "" {
			reason = "unspecified"
		}
		return Action{Kind: KindError, Reason: reason}, nil
	}
	return Action{}, &ParseError{
		Kind:    UnknownCommand,
		Command: command,
		Reason:  fmt.Sprintf("unrecognized keyword %q", keyword),
	}
}

func parseTouch(command string, params []string, screen ScreenSize) (Action, error) {
	if len(params) != 2 {
		return Action{}, invalid(command, fmt.Sprintf("touch requires 2 parameters, got %d", len(params)))
	}
	coords, err := parseInts(params)
	if err != nil {
		return Action{}, invalid(command, err.Error())
	}
	pos := Coordinates{X: coords[0], Y: coords[1]}
	if err := pos.Validate(screen); err != nil {
		return Action{}, invalid(command, err.Error())
	}
	return Action{Kind: KindTouch, Pos: pos}, nil
}

func parseSwipe(command string, params []string, screen ScreenSize) (Action, error) {
	if len(params) != 5 {
		return Action{}, invalid(command, fmt.Sprintf("swipe requires 5 parameters, got %d", len(params)))
	}
	vals, err := parseInts(params)
	if err != nil {
		return Action{}, invalid(command, err.Error())
	}
	start := Coordinates{X: vals[0], Y: vals[1]}
	end := Coordinates{X: vals[2], Y: vals[3]}
	duration := vals[4]
	if err := start.Validate(screen); err != nil {
		return Action{}, invalid(command, err.Error())
	}
	if err := end.Validate(screen); err != nil {
		return Action{}, invalid(command, err.Error())
	}
	if duration <= 0 {
		return Action{}, invalid(command, fmt.Sprintf("swipe duration must be positive, got %d", duration))
	}
	return Action{Kind: KindSwipe, Start: start, End: end, DurationMs: duration}, nil
}

func parseText(command string) (Action, error) {
	// Everything after the keyword, embedded whitespace included. An empty
	// remainder is a valid no-op text input.
	rest := strings.TrimPrefix(command, "text")
	rest = strings.TrimPrefix(rest, " ")
	return Action{Kind: KindText, Text: rest}, nil
}

func parseKey(command string, params []string) (Action, error) {
	if len(params) != 1 {
		return Action{}, invalid(command, fmt.Sprintf("key requires 1 parameter, got %d", len(params)))
	}
	code, err := strconv.Atoi(params[0])
	if err != nil {
		return Action{}, invalid(command, fmt.Sprintf("key code %q is not an integer", params[0]))
	}
	// No bounds validation: the device layer is authoritative on valid codes.
	return Action{Kind: KindKey, KeyCode: code}, nil
}

// ParsePayload is the full pipeline used by the loop: structured extraction
// followed by command parsing.
func ParsePayload(raw string, screen ScreenSize) (Action, error) {
	command, err := Extract(raw)
	if err != nil {
		return Action{}, err
	}
	return Parse(command, screen)
}

func parseInts(params []string) ([]int, error) {
	out := make([]int, len(params))
	for i, p := range params {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %q is not an integer", p)
		}
		out[i] = v
	}
	return out, nil
}
