package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/egeucak/api-doc-gpt/internal/relay"
)

const requestDescription = "Use this for making a request to an API on user's behalf. Action Input must be a dict of arguments that can be passed to `requests.request` function."

// Doer performs a request described by relay.Args and returns the JSON
// response.
type Doer interface {
	Do(ctx context.Context, args relay.Args) (json.RawMessage, error)
}

// Request forwards the model's arguments to the relay. Failures are returned
// to the caller.
type Request struct {
	Relay Doer
}

func (Request) Name() string        { return "Request" }
func (Request) Description() string { return requestDescription }

func (r Request) Invoke(ctx context.Context, input any) (string, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return "", fmt.Errorf("input must be a JSON object of request arguments, got %T", input)
	}
	args, err := relay.ArgsFromMap(m)
	if err != nil {
		return "", err
	}
	out, err := r.Relay.Do(ctx, args)
	if err != nil {
		return "", fmt.Errorf("request %s %s: %w", args.Method, args.URL, err)
	}
	return string(out), nil
}
