// evolverctl is the command line client for the registry, meant to be
// driven by agent harnesses: each subcommand reads one JSON object from
// stdin and writes one JSON object to stdout. The output always carries
// a "success" field; the exit code is 0 on success and 1 on failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"code-evolver/internal/config"
	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/internal/services"
	"code-evolver/pkg/models"
)

type app struct {
	pool      *pgxpool.Pool
	artifacts *services.ArtifactService
	ranker    *services.ToolRanker
	quality   *services.QualityTracker
	invoker   *services.ResilientInvoker
	fixes     *services.FixPatternService
	pins      *services.PinService
}

var configFile string

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger()

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := repository.NewPool(ctx, connStr)
	if err != nil {
		return nil, err
	}
	store := repository.NewPostgresArtifactStore(pool, logger)
	if err := store.EnsureSchema(ctx, false, cfg.Embedding.Dim); err != nil {
		pool.Close()
		return nil, err
	}

	embedder := services.NewHTTPEmbeddingClient(cfg.Embedding.URL)
	executor := services.NewHTTPToolRunner(cfg.ToolRunner.URL, cfg.ToolRunner.TimeoutMs)

	artifacts := services.NewArtifactService(store, embedder, logger)
	ledger := services.NewFailureLedger(store, embedder, cfg.Ranker.DemotionSimilarity, cfg.Ranker.DemotionPerFailure, logger)
	quality := services.NewQualityTracker(store, ledger, logger)
	ranker := services.NewToolRanker(store, embedder, ledger, cfg.Ranker.MaxCandidates, cfg.Ranker.DuplicateThreshold, logger)
	invoker := services.NewResilientInvoker(ranker, quality, store, executor, cfg.Invoker.MaxAttempts, logger)
	fixes := services.NewFixPatternService(artifacts, logger)
	pins := services.NewPinService(services.NewFilePinStore(cfg.Pins.Path), artifacts, store, logger)

	return &app{
		pool:      pool,
		artifacts: artifacts,
		ranker:    ranker,
		quality:   quality,
		invoker:   invoker,
		fixes:     fixes,
		pins:      pins,
	}, nil
}

// readInput decodes the single JSON object the caller pipes on stdin.
func readInput(v interface{}) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("expected a JSON object on stdin")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	return nil
}

func writeOutput(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.Encode(v)
}

// fail prints a failure object and exits 1.
func fail(err error) {
	writeOutput(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
	os.Exit(1)
}

func succeed(result interface{}) {
	writeOutput(map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// run wires the app, executes fn, and maps its outcome onto the output
// contract.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app) (interface{}, error)) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		fail(err)
	}
	defer a.pool.Close()

	result, err := fn(ctx, a)
	if err != nil {
		fail(err)
	}
	succeed(result)
}

func newResilientCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resilient-call",
		Short: "Rank tools for a scenario and invoke them with fallback",
		Run: func(cmd *cobra.Command, args []string) {
			var req struct {
				Scenario     string          `json:"scenario"`
				Input        json.RawMessage `json:"input,omitempty"`
				RequiredTags []string        `json:"required_tags,omitempty"`
				MaxAttempts  int             `json:"max_attempts,omitempty"`
			}
			if err := readInput(&req); err != nil {
				fail(err)
			}
			if req.Scenario == "" {
				fail(fmt.Errorf("scenario is required"))
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				fail(err)
			}
			result := a.invoker.Call(ctx, req.Scenario, req.Input, services.CallOptions{
				RequiredTags: req.RequiredTags,
				MaxAttempts:  req.MaxAttempts,
			})
			a.pool.Close()
			// The invocation result carries its own success flag and
			// attempt trail; emit it as the whole output object.
			writeOutput(result)
			if !result.Success {
				os.Exit(1)
			}
		},
	}
}

func newMarkFailureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-failure",
		Short: "Record a tool failure and demote its quality score",
		Run: func(cmd *cobra.Command, args []string) {
			var req struct {
				ToolID       string          `json:"tool_id"`
				Scenario     string          `json:"scenario,omitempty"`
				ErrorMessage string          `json:"error_message,omitempty"`
				Severity     models.Severity `json:"severity,omitempty"`
			}
			if err := readInput(&req); err != nil {
				fail(err)
			}
			if req.ToolID == "" {
				fail(fmt.Errorf("tool_id is required"))
			}
			if req.Severity == "" {
				req.Severity = models.SeverityMedium
			}
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.quality.RecordFailure(ctx, req.ToolID, req.Scenario, req.ErrorMessage, req.Severity)
			})
		},
	}
}

func newCheckDuplicateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-duplicate",
		Short: "Check whether a proposed tool duplicates an existing one",
		Run: func(cmd *cobra.Command, args []string) {
			var req struct {
				Description string   `json:"description"`
				Tags        []string `json:"tags,omitempty"`
				Threshold   float64  `json:"threshold,omitempty"`
			}
			if err := readInput(&req); err != nil {
				fail(err)
			}
			if req.Description == "" {
				fail(fmt.Errorf("description is required"))
			}
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.ranker.CheckDuplicate(ctx, req.Description, req.Tags, req.Threshold)
			})
		},
	}
}

func newFindFixPatternCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-fix-pattern",
		Short: "Find stored fixes for an error signature",
		Run: func(cmd *cobra.Command, args []string) {
			var req struct {
				ErrorType string `json:"error_type,omitempty"`
				Language  string `json:"language,omitempty"`
				Query     string `json:"query"`
				TopK      int    `json:"top_k,omitempty"`
			}
			if err := readInput(&req); err != nil {
				fail(err)
			}
			if req.Query == "" {
				fail(fmt.Errorf("query is required"))
			}
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.fixes.FindFixPatterns(ctx, req.ErrorType, req.Language, req.Query, req.TopK)
			})
		},
	}
}

func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin",
		Short: "Pin a tool version against trimming",
		Run: func(cmd *cobra.Command, args []string) {
			var req services.PinRequest
			if err := readInput(&req); err != nil {
				fail(err)
			}
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.pins.Pin(ctx, req)
			})
		},
	}
}

func newUnpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin",
		Short: "Remove a version pin",
		Run: func(cmd *cobra.Command, args []string) {
			var req struct {
				ToolID     string `json:"tool_id"`
				Version    string `json:"version"`
				WorkflowID string `json:"workflow_id,omitempty"`
			}
			if err := readInput(&req); err != nil {
				fail(err)
			}
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				removed, err := a.pins.Unpin(ctx, req.ToolID, req.Version, req.WorkflowID)
				if err != nil {
					return nil, err
				}
				if !removed {
					return nil, fmt.Errorf("pin not found")
				}
				return map[string]bool{"removed": true}, nil
			})
		},
	}
}

func newListPinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-pins",
		Short: "List every pinned tool version",
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, func(ctx context.Context, a *app) (interface{}, error) {
				return a.pins.ListPins(ctx)
			})
		},
	}
}

func main() {
	// Any panic still produces the structured failure object the caller
	// expects, never a bare stack trace on stdout.
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("Fatal error: %v", r))
		}
	}()

	rootCmd := &cobra.Command{
		Use:           "evolverctl",
		Short:         "Command line client for the code-evolver registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")

	rootCmd.AddCommand(
		newResilientCallCmd(),
		newMarkFailureCmd(),
		newCheckDuplicateCmd(),
		newFindFixPatternCmd(),
		newPinCmd(),
		newUnpinCmd(),
		newListPinsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}
