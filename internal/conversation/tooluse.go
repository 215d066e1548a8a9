package conversation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/egeucak/api-doc-gpt/internal/tools"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

// Markers of the tool-use protocol.
const (
	ActionMarker      = "Action:"
	ActionInputMarker = "Action Input:"
	ThoughtMarker     = "Thought:"
	ObservationMarker = "Observation:"
	FinalAnswerMarker = "Final Answer:"
)

// ObservationStop keeps the model from writing its own observations.
var ObservationStop = []string{"\nObservation:", "\n\tObservation:"}

// Action is a parsed tool request. Input is a map[string]any when the action
// input carried a JSON object, otherwise the raw text.
type Action struct {
	Tool  string
	Input any
}

// ToolUse lets the model chain tool calls until it answers without an action.
type ToolUse struct {
	chat
	registry *tools.Registry
}

// NewToolUse seeds the transcript with the system prompt.
func NewToolUse(model Completer, registry *tools.Registry, system string, opts Options) *ToolUse {
	return &ToolUse{
		chat: chat{
			model:      model,
			transcript: NewTranscript(types.Turn{Role: types.RoleSystem, Content: system}),
			stop:       ObservationStop,
			opts:       opts,
		},
		registry: registry,
	}
}

func (t *ToolUse) Transcript() []types.Turn { return t.transcript.Turns() }

// Ask returns the first reply without an action verbatim.
func (t *ToolUse) Ask(ctx context.Context, question string) (string, error) {
	reply, err := t.submit(ctx, question)
	if err != nil {
		return "", err
	}
	limit := t.opts.maxSteps()
	for step := 0; strings.Contains(reply, ActionMarker); step++ {
		if step >= limit {
			return "", &LoopExceededError{Steps: step, LastReply: reply}
		}
		action := ParseAction(reply)
		observation := t.invoke(ctx, action)
		reply, err = t.submit(ctx, "Observation: "+observation)
		if err != nil {
			return "", err
		}
	}
	return reply, nil
}

// invoke runs the action and turns its result or error into observation text.
func (t *ToolUse) invoke(ctx context.Context, action Action) string {
	if t.opts.Logger != nil {
		t.opts.Logger.Debug("invoke tool", "tool", action.Tool)
	}
	out, err := t.registry.Call(ctx, action.Tool, action.Input)
	if err != nil {
		if t.opts.Logger != nil {
			t.opts.Logger.Debug("tool failed", "tool", action.Tool, "err", err)
		}
		return err.Error()
	}
	return out
}

// ParseAction reads the last Action: line and the Action Input: text. The
// input continues over following lines, each trimmed and concatenated, until
// the next marker line.
func ParseAction(reply string) Action {
	var (
		action    Action
		input     string
		ingesting bool
	)
	for _, raw := range strings.Split(strings.TrimSpace(reply), "\n") {
		line := strings.TrimLeft(raw, " \t")
		switch {
		case strings.HasPrefix(line, ActionInputMarker):
			ingesting = true
			input = strings.TrimSpace(strings.TrimPrefix(line, ActionInputMarker))
		case strings.HasPrefix(line, ActionMarker):
			ingesting = false
			action.Tool = strings.TrimSpace(strings.TrimPrefix(line, ActionMarker))
		case strings.HasPrefix(line, ThoughtMarker),
			strings.HasPrefix(line, ObservationMarker),
			strings.HasPrefix(line, FinalAnswerMarker):
			ingesting = false
		case ingesting:
			input += strings.TrimSpace(line)
		}
	}
	if obj, ok := ExtractJSONObject(input); ok {
		action.Input = obj
	} else {
		action.Input = input
	}
	return action
}

// ExtractJSONObject returns the first complete JSON object in text. Numbers
// are kept as json.Number. Starts that fail to decode are skipped one
// character at a time.
func ExtractJSONObject(text string) (map[string]any, bool) {
	for pos := 0; pos < len(text); {
		i := strings.IndexByte(text[pos:], '{')
		if i < 0 {
			return nil, false
		}
		start := pos + i
		var obj map[string]any
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		dec.UseNumber()
		if err := dec.Decode(&obj); err == nil {
			return obj, true
		}
		pos = start + 1
	}
	return nil, false
}
