// Package protocol defines the JSON decision contract between rowan and the
// language model. Each model turn must yield exactly one decision object:
//
//	{"action":"run_julia"|"shell"|"more_from_user"|"final",
//	 "args": {...}, "user_output": "..."}
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Action kinds. The set is closed: Dispatch switches exhaustively over it
// and an unknown action is a protocol error, never a silent no-op.
const (
	ActionRunJulia     = "run_julia"
	ActionShell        = "shell"
	ActionMoreFromUser = "more_from_user"
	ActionFinal        = "final"
)

// Decision is the model's structured choice of next action. Exactly one
// variant's fields are populated, selected by Action.
type Decision struct {
	Action string

	// run_julia
	Code string
	// shell
	Cmd         string
	TimeoutSecs int
	// run_julia and shell; mandatory for both.
	UserMessage string
	// more_from_user
	Question string
	// final
	UserOutput string
}

// ParseError is a protocol-level failure: output that is not valid JSON,
// not one of the four actions, or missing a required field. Raw preserves
// the model text for debug events and re-prompt guidance.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "decision protocol error: " + e.Reason
}

type wireArgs struct {
	Code        *string `json:"code"`
	Cmd         *string `json:"cmd"`
	Cwd         *string `json:"cwd"`
	TimeoutSecs *int    `json:"timeout_secs"`
	UserMessage *string `json:"user_message"`
	Question    *string `json:"question"`
	Prompt      *string `json:"prompt"` // legacy alias for question
	UserOutput  *string `json:"user_output"`
}

type wireDecision struct {
	Action     string    `json:"action"`
	Args       *wireArgs `json:"args"`
	UserOutput *string   `json:"user_output"`
	// Some models put the question at the top level.
	Question *string `json:"question"`
	Prompt   *string `json:"prompt"`
}

// Parse decodes and validates a raw model response into a Decision. The
// input may surround the JSON object with prose; the outermost braces are
// recovered before giving up.
func Parse(raw []byte) (Decision, error) {
	var wd wireDecision
	doc := raw
	if err := json.Unmarshal(raw, &wd); err != nil {
		recovered, ok := extractJSON(raw)
		if !ok || json.Unmarshal(recovered, &wd) != nil {
			return Decision{}, &ParseError{Reason: "response is not a JSON object", Raw: string(raw)}
		}
		doc = recovered
	}
	if reason := validateShape(doc); reason != "" {
		return Decision{}, &ParseError{Reason: reason, Raw: string(raw)}
	}
	if wd.Action == "" {
		return Decision{}, &ParseError{Reason: "missing action", Raw: string(raw)}
	}

	args := wd.Args
	if args == nil {
		args = &wireArgs{}
	}
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return strings.TrimSpace(*p)
	}

	d := Decision{Action: wd.Action}
	switch wd.Action {
	case ActionRunJulia:
		d.Code = str(args.Code)
		d.UserMessage = str(args.UserMessage)
		if d.Code == "" {
			return Decision{}, &ParseError{Reason: "run_julia requires args.code", Raw: string(raw)}
		}
		if d.UserMessage == "" {
			return Decision{}, &ParseError{Reason: "run_julia requires a non-empty args.user_message", Raw: string(raw)}
		}
	case ActionShell:
		d.Cmd = str(args.Cmd)
		d.UserMessage = str(args.UserMessage)
		if args.TimeoutSecs != nil {
			d.TimeoutSecs = *args.TimeoutSecs
		}
		if d.Cmd == "" {
			return Decision{}, &ParseError{Reason: "shell requires args.cmd", Raw: string(raw)}
		}
		if d.UserMessage == "" {
			return Decision{}, &ParseError{Reason: "shell requires a non-empty args.user_message", Raw: string(raw)}
		}
	case ActionMoreFromUser:
		for _, p := range []*string{args.Question, args.Prompt, wd.Question, wd.Prompt} {
			if d.Question = str(p); d.Question != "" {
				break
			}
		}
		if d.Question == "" {
			d.Question = "Please clarify your goal."
		}
	case ActionFinal:
		d.UserOutput = str(wd.UserOutput)
		if d.UserOutput == "" {
			d.UserOutput = str(args.UserOutput)
		}
		if d.UserOutput == "" {
			return Decision{}, &ParseError{Reason: "final requires user_output", Raw: string(raw)}
		}
	default:
		return Decision{}, &ParseError{
			Reason: fmt.Sprintf("unknown action %q (expected run_julia, shell, more_from_user, or final)", wd.Action),
			Raw:    string(raw),
		}
	}
	return d, nil
}

// MarshalJSON renders the decision back into wire format for transcripts
// and debug events.
func (d Decision) MarshalJSON() ([]byte, error) {
	out := map[string]any{"action": d.Action}
	switch d.Action {
	case ActionRunJulia:
		out["args"] = map[string]any{"code": d.Code, "user_message": d.UserMessage}
	case ActionShell:
		args := map[string]any{"cmd": d.Cmd, "user_message": d.UserMessage}
		if d.TimeoutSecs > 0 {
			args["timeout_secs"] = d.TimeoutSecs
		}
		out["args"] = args
	case ActionMoreFromUser:
		out["args"] = map[string]any{"question": d.Question}
	case ActionFinal:
		out["args"] = map[string]any{}
		out["user_output"] = d.UserOutput
	}
	return json.Marshal(out)
}

// Input returns the executable payload for code/shell decisions, empty
// otherwise.
func (d Decision) Input() string {
	switch d.Action {
	case ActionRunJulia:
		return d.Code
	case ActionShell:
		return d.Cmd
	}
	return ""
}

func extractJSON(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}
