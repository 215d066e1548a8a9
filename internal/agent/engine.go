// Package agent assembles a conversation engine from configuration: it loads
// and normalizes the OpenAPI document, renders the prompt tables, and wires
// the selected protocol to the model, the relay and the session store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/conversation"
	"github.com/egeucak/api-doc-gpt/internal/filter"
	"github.com/egeucak/api-doc-gpt/internal/llm"
	"github.com/egeucak/api-doc-gpt/internal/openapi"
	"github.com/egeucak/api-doc-gpt/internal/prompt"
	"github.com/egeucak/api-doc-gpt/internal/relay"
	"github.com/egeucak/api-doc-gpt/internal/store"
	"github.com/egeucak/api-doc-gpt/internal/table"
	"github.com/egeucak/api-doc-gpt/internal/tools"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

// Options configure New.
type Options struct {
	Config *config.Config
	// Store persists the session when set.
	Store  store.Store
	Logger *slog.Logger
	// Model overrides the configured LLM client.
	Model conversation.Completer
	// HTTPClient fetches remote documents.
	HTTPClient *http.Client
}

// Engine is one conversation about one API.
type Engine struct {
	protocol conversation.Protocol
	model    conversation.Completer
	store    store.Store
	session  *types.Session
	tables   table.Rendered
	baseURL  string
	logger   *slog.Logger

	mu       sync.Mutex
	reported int
	failed   bool
}

// Described is a loaded document with its rendered tables.
type Described struct {
	Doc     *openapi.Document
	Title   string
	Sets    *types.RecordSets
	Tables  table.Rendered
	BaseURL string
}

// Describe loads, normalizes and renders the configured document.
func Describe(ctx context.Context, cfg *config.Config, client *http.Client) (*Described, error) {
	doc, err := openapi.Load(ctx, cfg.Target.Spec, client)
	if err != nil {
		return nil, err
	}
	sets, err := openapi.Normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", cfg.Target.Spec, err)
	}
	tables, err := table.Tables(cfg.Prompt.TableFormat, sets)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.Target.BaseURL)
	if baseURL == "" {
		baseURL = doc.ServerURL()
	}
	return &Described{Doc: doc, Title: doc.Title(), Sets: sets, Tables: tables, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func New(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := Describe(ctx, cfg, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	if d.BaseURL == "" {
		return nil, errors.New("target.base_url is empty and the document declares no servers")
	}

	redactor := filter.NewRedactor(cfg.Sanitize)
	e := &Engine{
		model:   opts.Model,
		store:   opts.Store,
		tables:  d.Tables,
		baseURL: d.BaseURL,
		logger:  opts.Logger,
	}
	if e.model == nil {
		e.model = &llm.Client{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			RetryMax:    cfg.LLM.RetryMax,
			Logger:      opts.Logger,
			Redactor:    redactor,
		}
	}

	rl := relay.New(d.BaseURL, cfg.Relay, opts.Logger, redactor)
	loader := prompt.Loader{
		SystemTemplatePath: cfg.Prompt.SystemTemplate,
		ReactTemplatePath:  cfg.Prompt.ReactTemplate,
		StartPromptPath:    cfg.Prompt.StartPrompt,
	}
	copts := conversation.Options{
		MaxRetries: cfg.Agent.MaxRetries,
		MaxSteps:   cfg.Agent.MaxSteps,
		Logger:     opts.Logger,
		Redactor:   redactor,
	}

	var rec *store.Recorder
	if e.store != nil {
		sess, err := e.store.CreateSession(cfg.Agent.Mode, cfg.Target.Spec, d.BaseURL, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		e.session = sess
		rec = &store.Recorder{Store: e.store, SessionID: sess.ID, Redactor: redactor}
		copts.Recorder = rec
	}

	var seed []types.Turn
	switch cfg.Agent.Mode {
	case config.AgentNaive:
		tmpl, err := loader.SystemTemplate()
		if err != nil {
			return nil, err
		}
		opening, err := loader.OpeningTurns()
		if err != nil {
			return nil, err
		}
		seed = append([]types.Turn{{Role: types.RoleSystem, Content: prompt.Fill(tmpl, d.Tables.Values())}}, opening...)
		e.protocol = conversation.NewSingleCommand(e.model, rl, seed, copts)
	case config.AgentReact:
		registry, err := tools.NewRegistry(tools.EndpointDetails{Doc: d.Doc}, tools.Request{Relay: rl})
		if err != nil {
			return nil, err
		}
		tmpl, err := loader.ReactTemplate()
		if err != nil {
			return nil, err
		}
		system := prompt.Fill(tmpl, map[string]string{
			"tool_descriptions": registry.Descriptions(),
			"tool_name_list":    registry.Names(),
			"method_list":       d.Tables.Endpoints,
			"base_url":          d.BaseURL,
		})
		seed = []types.Turn{{Role: types.RoleSystem, Content: system}}
		e.protocol = conversation.NewToolUse(e.model, registry, system, copts)
	default:
		return nil, fmt.Errorf("agent mode %q is not supported", cfg.Agent.Mode)
	}

	if rec != nil {
		if err := rec.RecordAll(ctx, seed); err != nil {
			return nil, fmt.Errorf("record opening turns: %w", err)
		}
	}
	if opts.Logger != nil {
		opts.Logger.Info("engine ready",
			"mode", cfg.Agent.Mode,
			"base_url", d.BaseURL,
			"endpoints", len(d.Sets.Endpoints),
			"prompt_tokens_est", prompt.EstimateTokens(seed[0].Content),
		)
	}
	return e, nil
}

// Ask runs one question through the protocol. Calls are serialized. A model
// that breaks the protocol or runs past the step limit marks the session
// failed.
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	answer, err := e.protocol.Ask(ctx, question)
	e.reportUsage()
	if err != nil {
		if errors.Is(err, conversation.ErrProtocolViolation) || errors.Is(err, conversation.ErrLoopExceeded) {
			e.markFailed()
		}
		return "", err
	}
	return answer, nil
}

// Usage returns the total tokens spent so far, when the model reports it.
func (e *Engine) Usage() int {
	if u, ok := e.model.(interface{ TotalTokens() int }); ok {
		return u.TotalTokens()
	}
	return 0
}

// SessionID is empty when the engine has no store.
func (e *Engine) SessionID() string {
	if e.session == nil {
		return ""
	}
	return e.session.ID
}

func (e *Engine) Tables() table.Rendered { return e.tables }

func (e *Engine) BaseURL() string { return e.baseURL }

func (e *Engine) Transcript() []types.Turn { return e.protocol.Transcript() }

// Close marks the session closed unless it already failed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil || e.session == nil || e.failed {
		return nil
	}
	return e.store.UpdateSessionStatus(e.session.ID, store.StatusClosed)
}

func (e *Engine) markFailed() {
	if e.failed || e.store == nil || e.session == nil {
		return
	}
	if err := e.store.UpdateSessionStatus(e.session.ID, store.StatusFailed); err != nil {
		if e.logger != nil {
			e.logger.Warn("mark session failed", "session", e.session.ID, "err", err)
		}
		return
	}
	e.failed = true
}

func (e *Engine) reportUsage() {
	if e.store == nil || e.session == nil {
		return
	}
	total := e.Usage()
	delta := total - e.reported
	if delta <= 0 {
		return
	}
	if err := e.store.AddUsage(e.session.ID, delta); err != nil {
		if e.logger != nil {
			e.logger.Warn("record usage failed", "session", e.session.ID, "err", err)
		}
		return
	}
	e.reported = total
}
