package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/egeucak/api-doc-gpt/internal/agent"
	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/server"
	"github.com/egeucak/api-doc-gpt/internal/store"
)

const defaultConfigContent = `llm:
  provider: "openai"
  api_key: ""
  base_url: "https://api.openai.com/v1"
  model: "gpt-3.5-turbo"
  max_tokens: 1024
  temperature: 0
  timeout: 120s
  retry_max: 3

target:
  spec: ""
  base_url: ""

agent:
  mode: "react"
  max_retries: 3
  max_steps: 10

relay:
  timeout: 30s
  rate_limit: 0
  burst: 1

prompt:
  table_format: "csv"
  system_template: ""
  react_template: ""
  start_prompt: ""

sanitize:
  headers:
    - Authorization
    - Cookie
    - Set-Cookie
    - X-Api-Key
    - X-Auth-Token
  body_fields:
    - password
    - secret
    - token
    - api_key
    - access_token
    - refresh_token
    - credential
  replacement: "***REDACTED***"

store:
  path: ""
  disabled: false

server:
  host: "127.0.0.1"
  port: 3000
  cors_origins: []

ui:
  markdown: true

log:
  level: "info"
`

type rootFlags struct {
	cfgPath string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "apichat",
		Short:         "Talk to an HTTP API described by an OpenAPI document",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	sessions := &cobra.Command{Use: "sessions", Short: "Inspect stored conversations"}
	sessions.AddCommand(newListCmd(flags), newShowCmd(flags), newDeleteCmd(flags))

	root.AddCommand(newInitCmd())
	root.AddCommand(newChatCmd(flags))
	root.AddCommand(newTablesCmd(flags))
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(sessions)

	return root
}

func (f *rootFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log.Level, f.verbose), nil
}

func newLogger(level string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Disabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.apichat directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".apichat")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "apichat.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "please update llm.api_key and target.spec in", cfgFile)
			return nil
		},
	}
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var spec, baseURL, mode, model string
	cmd := &cobra.Command{Use: "chat", Short: "Start an interactive conversation", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := flags.load()
		if err != nil {
			return err
		}
		if spec != "" {
			cfg.Target.Spec = spec
		}
		if baseURL != "" {
			cfg.Target.BaseURL = baseURL
		}
		if mode != "" {
			cfg.Agent.Mode = mode
		}
		if model != "" {
			cfg.LLM.Model = model
		}
		if err := cfg.ValidateChat(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		opts := agent.Options{Config: cfg, Logger: logger}
		if st != nil {
			defer st.Close()
			opts.Store = st
		}
		engine, err := agent.New(ctx, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := engine.Close(); err != nil {
				logger.Warn("close session failed", "err", err)
			}
		}()

		var render agent.Renderer
		if cfg.UI.Markdown {
			if render, err = agent.MarkdownRenderer(100); err != nil {
				logger.Warn("markdown disabled", "err", err)
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Talking to %s (%s mode). Type exit to quit.\n", engine.BaseURL(), cfg.Agent.Mode)
		err = agent.Repl(ctx, cmd.InOrStdin(), out, engine, render)
		fmt.Fprintf(out, "tokens used: %d\n", engine.Usage())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}}
	cmd.Flags().StringVar(&spec, "spec", "", "OpenAPI document path or URL")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL, defaults to the document's first server")
	cmd.Flags().StringVar(&mode, "agent", "", "conversation protocol: naive or react")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	return cmd
}

func newTablesCmd(flags *rootFlags) *cobra.Command {
	var spec, format string
	cmd := &cobra.Command{Use: "tables", Short: "Print the tables the model is shown", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := flags.load()
		if err != nil {
			return err
		}
		if spec != "" {
			cfg.Target.Spec = spec
		}
		if format != "" {
			cfg.Prompt.TableFormat = format
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		d, err := agent.Describe(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if d.Title != "" {
			fmt.Fprintf(out, "# %s\n", d.Title)
		}
		sections := []struct{ title, body string }{
			{"endpoints", d.Tables.Endpoints},
			{"parameters", d.Tables.Parameters},
			{"request bodies", d.Tables.RequestBodies},
			{"schemas", d.Tables.SchemaFields},
			{"security", d.Tables.SecuritySchemes},
		}
		for _, s := range sections {
			fmt.Fprintf(out, "## %s\n%s\n", s.title, s.body)
		}
		return nil
	}}
	cmd.Flags().StringVar(&spec, "spec", "", "OpenAPI document path or URL")
	cmd.Flags().StringVar(&format, "format", "", "table format: csv or toon")
	return cmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start HTTP service", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := flags.load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}
		if err := cfg.ValidateChat(); err != nil {
			return err
		}
		cfg.Store.Disabled = false
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		factory := func(ctx context.Context) (server.Engine, error) {
			return agent.New(ctx, agent.Options{Config: cfg, Store: st, Logger: logger})
		}
		srv, err := server.New(cfg, st, factory, logger)
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("listening", "addr", addr)
		return srv.ListenAndServe(addr)
	}}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 3000, "server port")
	return cmd
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{Use: "list", Short: "List all sessions", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := flags.openExistingStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tTURNS\tTOKENS\tBASE URL\tCREATED")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", s.ID, s.Agent, s.Status, s.TurnCount, s.TotalTokens, s.BaseURL, s.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	}}
}

func newShowCmd(flags *rootFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{Use: "show", Short: "Show session details", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := flags.openExistingStore()
		if err != nil {
			return err
		}
		defer st.Close()
		sess, err := st.GetSession(session)
		if err != nil {
			return err
		}
		turns, err := st.GetTurns(session)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %s (%s, %s) %s\n", sess.ID, sess.Agent, sess.Status, sess.BaseURL)
		fmt.Fprintf(out, "model %s, %d tokens\n\n", sess.Model, sess.TotalTokens)
		for _, t := range turns {
			fmt.Fprintf(out, "[%d] %s:\n%s\n\n", t.Seq, t.Role, t.Content)
		}
		return nil
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{Use: "delete", Short: "Delete session", RunE: func(cmd *cobra.Command, args []string) error {
		st, err := flags.openExistingStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.DeleteSession(session); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", session)
		return nil
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func (f *rootFlags) openExistingStore() (store.Store, error) {
	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Store.Path); err != nil {
		return nil, fmt.Errorf("no session database at %s, run apichat init or chat first: %w", cfg.Store.Path, err)
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}
