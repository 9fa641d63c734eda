package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"prism/internal/connector"
	"prism/internal/extractor"
	"prism/internal/lens"
	"prism/internal/llm"
	"prism/internal/orchestrator"
	"prism/internal/pipeline"
	"prism/internal/planner"
	"prism/internal/store"
	"prism/internal/types"
)

var (
	runLensID        string
	runMode          string
	runPersist       bool
	runBudgetUSD     float64
	runTargetCount   int
	runMinConfidence float64
	allowDefaultLens bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Execute one harmonization run for a query",
	Long: `Plans connector execution for the query under the resolved lens, runs the
phases, and prints a JSON run summary. With --persist, surviving entities are
upserted into the store by slug.

Exit codes: 0 on success (the summary may still carry partial failures in
errors[]), 1 on configuration or lens resolution errors, 2 when the run
produced no successful entities.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHarmonization,
}

func init() {
	runCmd.Flags().StringVar(&runLensID, "lens", "", "lens id (falls back to LENS_ID, then config)")
	runCmd.Flags().StringVar(&runMode, "mode", string(types.ModeDiscoverMany), "run mode: discover_many or resolve_one")
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "upsert surviving entities into the store")
	runCmd.Flags().Float64Var(&runBudgetUSD, "budget-usd", 0, "run budget in USD (0 uses the config default)")
	runCmd.Flags().IntVar(&runTargetCount, "target-count", 0, "discover_many: stop after this many entities")
	runCmd.Flags().Float64Var(&runMinConfidence, "min-confidence", 0, "resolve_one: stop at this aggregate confidence")
	runCmd.Flags().BoolVar(&allowDefaultLens, "allow-default-lens", false, "permit the dev fallback lens (never in validation runs)")
}

func runHarmonization(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := types.Mode(runMode)
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q (valid: discover_many, resolve_one)", runMode)
	}

	req := types.IngestRequest{
		Mode:              mode,
		Query:             strings.Join(args, " "),
		Persist:           runPersist,
		BudgetUSD:         runBudgetUSD,
		TargetEntityCount: runTargetCount,
		MinConfidence:     runMinConfidence,
	}
	if req.BudgetUSD <= 0 {
		req.BudgetUSD = cfg.Run.BudgetUSD
	}
	if req.TargetEntityCount <= 0 {
		req.TargetEntityCount = cfg.Run.TargetCount
	}
	if req.MinConfidence <= 0 {
		req.MinConfidence = cfg.Run.MinConfidence
	}

	// Bootstrap: registry, lens, context. Failures here are fatal and exit 1.
	connectors := connector.NewRegistry()
	if err := connectors.LoadSpecsFile(cfg.Connectors.RegistryPath); err != nil {
		return fmt.Errorf("failed to load connector registry: %w", err)
	}

	lensID, err := pipeline.ResolveLensID(runLensID, cfg.Lens.ID, allowDefaultLens)
	if err != nil {
		return err
	}
	req.LensID = lensID

	contract, err := lens.LoadFile(cfg.LensPath(lensID), connectors)
	if err != nil {
		return fmt.Errorf("lens %q: %w", lensID, err)
	}
	pctx := pipeline.NewContext(contract)
	logger.Info("lens loaded", zap.String("context", pctx.String()))

	extractors := extractor.NewRegistry()
	for _, name := range connectors.Names() {
		fixtureDir := filepath.Join(cfg.Connectors.FixtureDir, name)
		if err := connectors.Bind(name, connector.NewFixtureConnector(name, fixtureDir)); err != nil {
			return fmt.Errorf("failed to bind connector %q: %w", name, err)
		}
		if err := extractors.Register(extractor.NewGenericJSON(name)); err != nil {
			return fmt.Errorf("failed to register extractor for %q: %w", name, err)
		}
	}

	plan, err := planner.BuildPlan(req, contract, connectors)
	if err != nil {
		return err
	}
	logger.Info("plan built",
		zap.Int("connectors", len(plan.Connectors)),
		zap.Float64("est_budget_usd", plan.EstBudgetUSD))

	var st store.Store
	if runPersist {
		st, err = openStore()
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var summarizer llm.Client
	if cfg.LLM.Enabled {
		summarizer, err = llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return fmt.Errorf("failed to initialize summarizer: %w", err)
		}
	}

	o := orchestrator.New(connectors, extractors, orchestrator.Options{
		Store:      st,
		Summarizer: summarizer,
		Logger:     logger,
		MaxWorkers: cfg.Run.MaxWorkers,
		Grace:      cfg.GetConnectorGrace(),
		LLMTimeout: cfg.GetLLMTimeout(),
	})

	result, runErr := o.Run(ctx, pctx, req, plan)

	summary, err := json.MarshalIndent(runSummary(pctx, req, result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render run summary: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(summary))

	if runErr != nil && !result.Succeeded() {
		return &exitCodeError{code: exitRuntime, err: fmt.Errorf("run aborted: %w", runErr)}
	}
	if !result.Succeeded() && len(result.Errors) > 0 {
		return &exitCodeError{code: exitRuntime, err: fmt.Errorf("run produced no entities (%d errors)", len(result.Errors))}
	}
	return nil
}

func openStore() (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "postgres":
		return store.OpenPostgresStore(cfg.Store.DSN, logger)
	default:
		return store.NewSQLiteStore(cfg.Store.Path, logger)
	}
}

// summary is the machine-readable run report printed to stdout.
type summary struct {
	LensID       string                    `json:"lens_id"`
	LensHash     string                    `json:"lens_hash"`
	Mode         types.Mode                `json:"mode"`
	Query        string                    `json:"query"`
	Entities     int                       `json:"entities"`
	Slugs        []string                  `json:"slugs,omitempty"`
	Persisted    int                       `json:"persisted,omitempty"`
	Conflicts    int                       `json:"conflicts,omitempty"`
	Quarantined  int                       `json:"quarantined,omitempty"`
	SpentUSD     float64                   `json:"spent_usd"`
	EarlyStopped bool                      `json:"early_stopped,omitempty"`
	BudgetSkips  []orchestrator.BudgetSkip `json:"budget_skips,omitempty"`
	Errors       []types.RunError          `json:"errors"`
}

func runSummary(pctx *pipeline.Context, req types.IngestRequest, result *orchestrator.RunResult) summary {
	slugs := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		slugs = append(slugs, e.Slug)
	}
	errs := result.Errors
	if errs == nil {
		errs = []types.RunError{}
	}
	return summary{
		LensID:       pctx.LensID,
		LensHash:     pctx.LensHash,
		Mode:         req.Mode,
		Query:        req.Query,
		Entities:     len(result.Entities),
		Slugs:        slugs,
		Persisted:    result.Persisted,
		Conflicts:    len(result.Conflicts),
		Quarantined:  result.Quarantined,
		SpentUSD:     result.SpentUSD,
		EarlyStopped: result.EarlyStopped,
		BudgetSkips:  result.BudgetSkips,
		Errors:       errs,
	}
}
