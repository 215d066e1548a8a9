package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

// Line prefixes of the single-command protocol.
const (
	PromptPrefix  = "PROMPT: "
	OutPrefix     = "OUT: "
	CmdPrefix     = "CMD: "
	CmdRespPrefix = "CMD_RESP: "
)

const correctionFormat = "Your answer does not start with either OUT: or CMD:. Answer again. The question is '%s'"

// Sender performs one HTTP action and returns the text to show the model.
type Sender interface {
	Send(ctx context.Context, method, path string, body json.RawMessage, headers map[string]string) string
}

// Command is a parsed CMD: line. Body is the compacted REQ_BODY text.
type Command struct {
	Method  string
	Path    string
	Body    json.RawMessage
	Headers map[string]string
}

// SingleCommand answers each question with either a final OUT: reply or one
// CMD: action followed by a final reply.
type SingleCommand struct {
	chat
	relay Sender
}

// NewSingleCommand seeds the transcript with turns (system prompt and the
// scripted opening exchange).
func NewSingleCommand(model Completer, relay Sender, turns []types.Turn, opts Options) *SingleCommand {
	return &SingleCommand{
		chat: chat{
			model:      model,
			transcript: NewTranscript(turns...),
			opts:       opts,
		},
		relay: relay,
	}
}

func (s *SingleCommand) Transcript() []types.Turn { return s.transcript.Turns() }

func (s *SingleCommand) Ask(ctx context.Context, question string) (string, error) {
	reply, err := s.submit(ctx, PromptPrefix+question)
	if err != nil {
		return "", err
	}
	limit := s.opts.maxRetries()
	for attempt := 0; ; attempt++ {
		switch {
		case strings.HasPrefix(reply, OutPrefix):
			return stripOnce(reply, OutPrefix), nil
		case strings.HasPrefix(reply, CmdPrefix):
			return s.act(ctx, stripOnce(reply, CmdPrefix))
		}
		if attempt >= limit {
			return "", &ProtocolViolationError{Attempts: attempt, LastReply: reply}
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Debug("reply without protocol prefix", "attempt", attempt+1)
		}
		reply, err = s.submit(ctx, PromptPrefix+fmt.Sprintf(correctionFormat, question))
		if err != nil {
			return "", err
		}
	}
}

// act dispatches the command and returns the model's follow-up reply. The
// follow-up is not inspected for another command.
func (s *SingleCommand) act(ctx context.Context, line string) (string, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return "", err
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Debug("dispatch command", "method", cmd.Method, "path", cmd.Path)
	}
	result := s.relay.Send(ctx, cmd.Method, cmd.Path, cmd.Body, cmd.Headers)

	reply, err := s.submit(ctx, CmdRespPrefix+result)
	if err != nil {
		return "", err
	}
	return stripOnce(reply, OutPrefix), nil
}

// ParseCommand parses "METHOD PATH[; REQ_BODY <json>][; HEADER <json>]".
// Optional fields are found by tag, not position. An undecodable body is an
// error; undecodable headers are dropped.
func ParseCommand(line string) (Command, error) {
	line, _, _ = strings.Cut(strings.TrimSpace(line), "\n")
	parts := strings.Split(line, ";")

	head := strings.Fields(parts[0])
	if len(head) < 2 {
		return Command{}, fmt.Errorf("%w: expected METHOD PATH, got %q", ErrMalformedAction, parts[0])
	}
	cmd := Command{Method: strings.ToUpper(head[0]), Path: head[1]}

	if raw, ok := taggedField(parts, "REQ_BODY"); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(raw)); err != nil {
			return Command{}, fmt.Errorf("%w: REQ_BODY is not valid JSON: %v", ErrMalformedAction, err)
		}
		if buf.String() != "null" {
			cmd.Body = json.RawMessage(buf.Bytes())
		}
	}

	if raw, ok := taggedField(parts, "HEADER"); ok {
		var headers map[string]any
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&headers); err == nil && len(headers) > 0 {
			cmd.Headers = make(map[string]string, len(headers))
			for k, v := range headers {
				if str, isStr := v.(string); isStr {
					cmd.Headers[k] = str
					continue
				}
				cmd.Headers[k] = fmt.Sprint(v)
			}
		}
	}
	return cmd, nil
}

func taggedField(parts []string, tag string) (string, bool) {
	for _, p := range parts {
		if _, after, found := strings.Cut(p, tag); found {
			return strings.TrimSpace(after), true
		}
	}
	return "", false
}

func stripOnce(s, prefix string) string {
	return strings.Replace(s, prefix, "", 1)
}
