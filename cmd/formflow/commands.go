package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/formflow/internal/engine"
	"github.com/rendis/formflow/internal/expressions"
	"github.com/rendis/formflow/internal/logging"
	"github.com/rendis/formflow/internal/store"
	"github.com/rendis/formflow/internal/validation"
	"github.com/rendis/formflow/pkg/mcp"
	"github.com/rendis/formflow/pkg/schema"
)

// errInvalid marks a command whose input failed validation. The report has
// already been printed.
var errInvalid = errors.New("validation failed")

func newRootCommand(cfg Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "formflow",
		Short:         "Dynamic form evaluation and workflow triggers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(&cfg),
		newLintCommand(&cfg),
		newEvalCommand(&cfg),
		newVacuumCommand(&cfg),
	)
	return root
}

func newServeCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the form tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *cfg, cmd.ErrOrStderr())
		},
	}
}

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(cfg.DBPath); !strings.Contains(cfg.DBPath, "://") {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func runServe(ctx context.Context, cfg Config, logOut io.Writer) error {
	logger := logging.New(logOut, logging.ParseLevel(cfg.LogLevel))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	events := store.NewEventLog(st)
	eng, err := engine.New(engine.Deps{
		Forms:     st,
		Responses: st,
		Workflows: st,
		Events:    events,
		Evaluator: expressions.NewEvaluator(cfg.Evaluator(), logger),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	srv := mcp.NewFormServer(mcp.FormServerDeps{Service: eng, Events: events, Forms: st, Logger: logger})
	logger.InfoContext(ctx, "formflow serving", slog.String("db_path", cfg.DBPath), slog.String("version", version))
	return srv.Serve(ctx)
}

func newVacuumCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the database",
		Long: `Vacuum rebuilds the database file to reclaim the space left by edited
and soft-deleted responses. Run it while no server holds the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVacuum(cmd.Context(), *cfg, cmd.OutOrStdout())
		},
	}
}

func runVacuum(ctx context.Context, cfg Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	_, err = fmt.Fprintf(out, "vacuumed %s\n", cfg.DBPath)
	return err
}

func newLintCommand(cfg *Config) *cobra.Command {
	var asWorkflow bool
	cmd := &cobra.Command{
		Use:   "lint FILE",
		Short: "Check a form version (or workflow) definition",
		Long: `Lint validates a YAML or JSON form version the same way saving it would:
structure, identifier rules, expression syntax and references, and rule
applicability. With --workflow the file is a workflow definition; its
references are checked for syntax only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(*cfg, args[0], asWorkflow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asWorkflow, "workflow", false, "lint a workflow instead of a form version")
	return cmd
}

func runLint(cfg Config, path string, asWorkflow bool, out io.Writer) error {
	logger := logging.New(io.Discard, logging.ParseLevel(cfg.LogLevel))
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	dv := validation.NewDefinitionValidator(expressions.NewEvaluator(cfg.Evaluator(), logger), jsv)

	var report *schema.ValidationReport
	if asWorkflow {
		var wf schema.Workflow
		if err := loadDocument(path, &wf); err != nil {
			return err
		}
		report = dv.ValidateWorkflow(&wf, nil)
	} else {
		var v schema.FormVersion
		if err := loadDocument(path, &v); err != nil {
			return err
		}
		report = dv.ValidateVersion(&v)
	}
	if report == nil {
		report = &schema.ValidationReport{}
	}

	if err := writeJSON(out, map[string]any{"valid": report.Valid(), "report": report}); err != nil {
		return err
	}
	if !report.Valid() {
		return errInvalid
	}
	return nil
}

func newEvalCommand(cfg *Config) *cobra.Command {
	var formID, submitter string
	cmd := &cobra.Command{
		Use:   "eval FILE ANSWERS",
		Short: "Dry-run a submission against a form version",
		Long: `Eval runs the answers in ANSWERS through visibility, computed fields,
validation and sanitization for the form version in FILE, without storing
anything, and prints the outcome as JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), *cfg, args[0], args[1], formID, submitter, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&formID, "form-id", "dry-run", "form_id pseudo-variable")
	cmd.Flags().StringVar(&submitter, "submitter", "", "submitter pseudo-variable")
	return cmd
}

func runEval(ctx context.Context, cfg Config, versionPath, answersPath, formID, submitter string, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var v schema.FormVersion
	if err := loadDocument(versionPath, &v); err != nil {
		return err
	}
	var answers schema.AnswerTree
	if err := loadDocument(answersPath, &answers); err != nil {
		return err
	}

	logger := logging.New(logOut, logging.ParseLevel(cfg.LogLevel))
	p, err := engine.NewPipeline(expressions.NewEvaluator(cfg.Evaluator(), logger), logger)
	if err != nil {
		return err
	}
	pseudo, err := engine.DefaultPseudoVariables{}.ResolvePseudoVariables(ctx, engine.ResponseContext{
		ResponseID:  "dry-run",
		FormID:      formID,
		Submitter:   submitter,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ev := p.Run(ctx, &v, answers, pseudo)
	result := map[string]any{
		"valid":      ev.Valid(),
		"visibility": ev.Visibility,
		"report":     ev.Report,
	}
	if ev.Valid() {
		result["answers"] = ev.Answers
	}
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if !ev.Valid() {
		return errInvalid
	}
	return nil
}

// loadDocument decodes a JSON or YAML file into dst. YAML is converted to
// JSON first so both formats share the JSON field names.
func loadDocument(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return fmt.Errorf("convert %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
