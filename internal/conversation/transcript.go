// Package conversation implements the two turn protocols spoken with the
// language model: the single-command protocol (OUT:/CMD: prefixed replies,
// at most one HTTP action per question) and the tool-use protocol
// (Action/Action Input/Observation loop over a tool registry).
//
// Each protocol instance owns its transcript. Nothing outside the instance
// mutates it; Transcript() hands out copies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/egeucak/api-doc-gpt/internal/filter"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

var (
	// ErrProtocolViolation is matched by *ProtocolViolationError.
	ErrProtocolViolation = errors.New("model reply violates the protocol")
	// ErrLoopExceeded is matched by *LoopExceededError.
	ErrLoopExceeded = errors.New("tool loop exceeded its step limit")
	// ErrMalformedAction reports a CMD: line that cannot be parsed.
	ErrMalformedAction = errors.New("malformed action")
)

// ProtocolViolationError is returned when the model keeps answering without
// a recognized prefix after every corrective re-prompt.
type ProtocolViolationError struct {
	Attempts  int
	LastReply string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%s after %d corrective prompts, last reply: %q", ErrProtocolViolation, e.Attempts, e.LastReply)
}

func (e *ProtocolViolationError) Unwrap() error { return ErrProtocolViolation }

// LoopExceededError is returned when the model keeps requesting tools past
// the configured number of steps.
type LoopExceededError struct {
	Steps     int
	LastReply string
}

func (e *LoopExceededError) Error() string {
	return fmt.Sprintf("%s (%d steps)", ErrLoopExceeded, e.Steps)
}

func (e *LoopExceededError) Unwrap() error { return ErrLoopExceeded }

// Completer produces the next assistant reply for a transcript.
type Completer interface {
	Complete(ctx context.Context, turns []types.Turn, stop []string) (string, error)
}

// Recorder receives every exchanged turn after the model replied.
type Recorder interface {
	Record(ctx context.Context, turn types.Turn) error
}

// Protocol is one conversation with the model.
type Protocol interface {
	Ask(ctx context.Context, question string) (string, error)
	Transcript() []types.Turn
}

// Options tune both protocols. Zero values select the defaults.
type Options struct {
	// MaxRetries bounds corrective re-prompts in the single-command protocol.
	MaxRetries int
	// MaxSteps bounds tool invocations per question in the tool-use protocol.
	MaxSteps int
	Recorder Recorder
	Logger   *slog.Logger
	// Redactor masks secrets in debug logs.
	Redactor *filter.Redactor
}

const (
	DefaultMaxRetries = 3
	DefaultMaxSteps   = 10
)

func (o Options) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func (o Options) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}

// Transcript is the ordered list of turns exchanged so far.
type Transcript struct {
	turns []types.Turn
}

func NewTranscript(seed ...types.Turn) *Transcript {
	return &Transcript{turns: append([]types.Turn(nil), seed...)}
}

func (t *Transcript) Append(turn types.Turn) { t.turns = append(t.turns, turn) }

func (t *Transcript) Len() int { return len(t.turns) }

// Turns returns a copy.
func (t *Transcript) Turns() []types.Turn {
	return append([]types.Turn(nil), t.turns...)
}

func (t *Transcript) truncate(n int) {
	if n < len(t.turns) {
		t.turns = t.turns[:n]
	}
}

// chat is the transcript plus the model it is sent to.
type chat struct {
	model      Completer
	transcript *Transcript
	stop       []string
	opts       Options
}

// submit appends a user turn, asks the model and appends its reply. A failed
// completion leaves the transcript unchanged.
func (c *chat) submit(ctx context.Context, content string) (string, error) {
	n := c.transcript.Len()
	user := types.Turn{Role: types.RoleUser, Content: content}
	c.transcript.Append(user)
	c.debug("model request", "content", content)

	reply, err := c.model.Complete(ctx, c.transcript.Turns(), c.stop)
	if err != nil {
		c.transcript.truncate(n)
		return "", fmt.Errorf("model completion: %w", err)
	}
	assistant := types.Turn{Role: types.RoleAssistant, Content: reply}
	c.transcript.Append(assistant)
	c.debug("model reply", "content", reply)

	c.record(ctx, user)
	c.record(ctx, assistant)
	return reply, nil
}

func (c *chat) record(ctx context.Context, turn types.Turn) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(ctx, turn); err != nil && c.opts.Logger != nil {
		c.opts.Logger.Warn("record turn failed", "role", turn.Role, "err", err)
	}
}

func (c *chat) debug(msg, key, text string) {
	if c.opts.Logger == nil {
		return
	}
	c.opts.Logger.Debug(msg, key, c.opts.Redactor.Text(text))
}
