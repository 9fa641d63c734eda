// Package orchestrator executes a plan: phase-barriered concurrent connector
// invocation, per-payload extraction and mapping, deterministic in-run
// acceptance, budget enforcement, and optional persistence. One connector's
// failure never aborts another; only lens, resolution, and planning errors
// are fatal, and those never reach this package.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prism/internal/classify"
	"prism/internal/connector"
	"prism/internal/extractor"
	"prism/internal/llm"
	"prism/internal/mapping"
	"prism/internal/merge"
	"prism/internal/pipeline"
	"prism/internal/planner"
	"prism/internal/store"
	"prism/internal/types"
)

// BudgetSkip notes a phase skipped by the pre-phase budget forecast. Normal
// termination, not a failure.
type BudgetSkip struct {
	Phase types.Phase `json:"phase"`
}

// RunResult is the full outcome of one run.
type RunResult struct {
	Entities  []types.Entity        `json:"entities"`
	Conflicts []types.MergeConflict `json:"conflicts,omitempty"`
	Errors    []types.RunError      `json:"errors,omitempty"`

	BudgetSkips  []BudgetSkip `json:"budget_skips,omitempty"`
	SpentUSD     float64      `json:"spent_usd"`
	EarlyStopped bool         `json:"early_stopped,omitempty"`
	Quarantined  int          `json:"quarantined,omitempty"`
	Persisted    int          `json:"persisted,omitempty"`
}

// Succeeded reports whether the run produced at least one entity. Used for
// the exit-code decision: partial failures with output still exit zero.
func (r *RunResult) Succeeded() bool { return len(r.Entities) > 0 }

// Orchestrator drives one or more runs over a fixed set of collaborators.
type Orchestrator struct {
	connectors *connector.Registry
	extractors *extractor.Registry
	merger     *merge.Merger
	store      store.Store // nil disables persistence and quarantine
	summarizer llm.Client  // nil disables enrichment summaries
	logger     *zap.Logger

	maxWorkers int
	grace      time.Duration
	llmTimeout time.Duration
}

// Options configures optional collaborators and limits.
type Options struct {
	Store      store.Store
	Summarizer llm.Client
	Logger     *zap.Logger
	MaxWorkers int
	Grace      time.Duration
	LLMTimeout time.Duration
}

// New creates an orchestrator.
func New(connectors *connector.Registry, extractors *extractor.Registry, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 4
	}
	if opts.Grace <= 0 {
		opts.Grace = 2 * time.Second
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 30 * time.Second
	}
	return &Orchestrator{
		connectors: connectors,
		extractors: extractors,
		merger:     merge.NewMerger(),
		store:      opts.Store,
		summarizer: opts.Summarizer,
		logger:     opts.Logger,
		maxWorkers: opts.MaxWorkers,
		grace:      opts.Grace,
		llmTimeout: opts.LLMTimeout,
	}
}

// state is the orchestrator-owned mutable run state. Workers never touch
// it; they return values to the main loop.
type state struct {
	acc      *merge.Accumulator
	result   *RunResult
	stopped  bool
	spentUSD float64
}

// Run executes the plan to completion, early stop, budget exhaustion, or
// cancellation.
func (o *Orchestrator) Run(ctx context.Context, pctx *pipeline.Context, req types.IngestRequest, plan *planner.ExecutionPlan) (*RunResult, error) {
	engine := mapping.New(pctx.Lens)
	st := &state{
		acc:    o.merger.NewAccumulator(),
		result: &RunResult{},
	}

	o.logger.Info("run starting",
		zap.String("lens", pctx.LensID),
		zap.String("mode", string(req.Mode)),
		zap.String("query", req.Query),
		zap.Int("connectors", len(plan.Connectors)),
	)

	for _, phase := range types.PhaseOrder {
		specs := plan.PhaseConnectors(phase)
		if len(specs) == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if req.BudgetUSD > 0 && st.spentUSD+plan.PhaseCost(phase) > req.BudgetUSD {
			o.logger.Info("skipping phase over budget forecast",
				zap.String("phase", string(phase)),
				zap.Float64("spent_usd", st.spentUSD),
				zap.Float64("phase_cost", plan.PhaseCost(phase)))
			st.result.BudgetSkips = append(st.result.BudgetSkips, BudgetSkip{Phase: phase})
			continue
		}

		results := o.runPhase(ctx, specs, req, plan.Features)

		// Every drained result's cost is charged up front: the connector
		// completed, so its call is paid for even if an early stop keeps
		// its payloads from being processed.
		for _, res := range results {
			st.spentUSD += res.cost
		}

		// Drain in connector-alphabetical order: specs are already sorted,
		// and results preserve that order, so acceptance is deterministic
		// regardless of IO completion order.
		for _, res := range results {
			if res.err != nil {
				st.result.Errors = append(st.result.Errors, types.RunError{
					Connector: res.name,
					Kind:      types.KindConnector,
					Message:   res.err.Error(),
				})
				continue
			}
			for _, raw := range res.payloads {
				o.acceptPayload(ctx, st, engine, phase, raw)
				if o.shouldStop(st, req) {
					st.stopped = true
					break
				}
			}
			if st.stopped {
				break
			}
		}

		if st.stopped {
			st.result.EarlyStopped = true
			break
		}
		if req.BudgetUSD > 0 && st.spentUSD >= req.BudgetUSD {
			o.logger.Info("budget exhausted", zap.Float64("spent_usd", st.spentUSD))
			break
		}
	}

	st.result.Entities = st.acc.Entities()
	st.result.Conflicts = st.acc.Conflicts()
	st.result.SpentUSD = st.spentUSD

	if req.Persist {
		o.persist(ctx, st.result)
	}

	o.logger.Info("run finished",
		zap.Int("entities", len(st.result.Entities)),
		zap.Int("conflicts", len(st.result.Conflicts)),
		zap.Int("errors", len(st.result.Errors)),
		zap.Float64("spent_usd", st.result.SpentUSD),
		zap.Bool("early_stopped", st.result.EarlyStopped))

	return st.result, ctx.Err()
}

// connResult is one connector invocation's outcome.
type connResult struct {
	name     string
	payloads []types.RawPayload
	cost     float64
	err      error
}

// runPhase starts every connector in the phase on a bounded pool and waits
// for all of them behind the phase barrier. On cancellation, in-flight
// calls get a bounded grace period; anything still running afterward is
// abandoned and its output discarded.
func (o *Orchestrator) runPhase(ctx context.Context, specs []types.ConnectorSpec, req types.IngestRequest, features types.QueryFeatures) []connResult {
	resultCh := make(chan connResult, len(specs))

	var eg errgroup.Group
	eg.SetLimit(o.maxWorkers)
	for _, spec := range specs {
		spec := spec
		eg.Go(func() error {
			resultCh <- o.invoke(ctx, spec, req, features)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = eg.Wait() // workers never return errors
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(o.grace):
			o.logger.Warn("abandoning in-flight connectors after grace period",
				zap.Duration("grace", o.grace))
		}
	}

	// The channel is buffered to the phase size and never closed, so an
	// abandoned call's late send cannot block or panic; its result simply
	// goes uncollected.
	byName := make(map[string]connResult, len(specs))
collect:
	for {
		select {
		case res := <-resultCh:
			byName[res.name] = res
		default:
			break collect
		}
	}

	// Emit in the launch (alphabetical) order, skipping abandoned calls.
	out := make([]connResult, 0, len(specs))
	for _, spec := range specs {
		if res, ok := byName[spec.Name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// invoke runs one connector with its per-call deadline.
func (o *Orchestrator) invoke(ctx context.Context, spec types.ConnectorSpec, req types.IngestRequest, features types.QueryFeatures) connResult {
	impl, ok := o.connectors.Impl(spec.Name)
	if !ok {
		return connResult{name: spec.Name, err: fmt.Errorf("connector %q has no implementation bound", spec.Name)}
	}

	callCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	start := time.Now()
	payloads, err := impl.Execute(callCtx, req, features)
	elapsed := time.Since(start)

	if err != nil {
		o.logger.Warn("connector failed",
			zap.String("connector", spec.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return connResult{name: spec.Name, cost: spec.CostPerCallUSD, err: err}
	}

	o.logger.Debug("connector completed",
		zap.String("connector", spec.Name),
		zap.Int("payloads", len(payloads)),
		zap.Duration("elapsed", elapsed))
	return connResult{name: spec.Name, payloads: payloads, cost: spec.CostPerCallUSD}
}

// acceptPayload runs the per-payload chain: extract, classify, map, enrich,
// accept. Extraction and purity failures quarantine the payload and the run
// continues.
func (o *Orchestrator) acceptPayload(ctx context.Context, st *state, engine *mapping.Engine, phase types.Phase, raw types.RawPayload) {
	prims, err := o.extractors.Process(ctx, raw)
	if err != nil {
		kind := types.KindExtraction
		var purity *types.PurityError
		if errors.As(err, &purity) {
			kind = types.KindPurityViolation
			o.logger.Error("extractor purity violation",
				zap.String("source", raw.Source),
				zap.Strings("illegal_keys", purity.IllegalKeys))
		}
		o.quarantine(ctx, st, raw.Source, "", raw.Data, err, kind)
		return
	}

	if phase == types.PhaseEnrichment && o.summarizer != nil && prims.Summary == "" {
		if passages := o.extractors.RichText(raw); len(passages) > 0 {
			sumCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
			summary, err := o.summarizer.Summarize(sumCtx, prims.EntityName, passages)
			cancel()
			if err != nil {
				o.logger.Warn("summarization failed", zap.String("source", raw.Source), zap.Error(err))
			} else {
				prims.Summary = summary
			}
		}
	}

	spec, _ := o.connectors.Spec(raw.Source)
	hint := classify.Classify(&prims)
	entity := engine.Apply(prims, raw.Source, spec.TrustLevel, hint)
	st.acc.Accept(entity)
}

func (o *Orchestrator) shouldStop(st *state, req types.IngestRequest) bool {
	switch req.Mode {
	case types.ModeResolveOne:
		if req.MinConfidence <= 0 || st.acc.Count() == 0 {
			return false
		}
		for _, e := range st.acc.Entities() {
			if e.AggregateConfidence() >= req.MinConfidence {
				return true
			}
		}
		return false
	case types.ModeDiscoverMany:
		return req.TargetEntityCount > 0 && st.acc.Count() >= req.TargetEntityCount
	}
	return false
}

// persist upserts every entity and records conflicts. A failed upsert
// quarantines the entity and the run continues.
func (o *Orchestrator) persist(ctx context.Context, result *RunResult) {
	if o.store == nil {
		result.Errors = append(result.Errors, types.RunError{
			Kind:    types.KindPersistence,
			Message: "persist requested but no store configured",
		})
		return
	}

	for i := range result.Entities {
		e := &result.Entities[i]
		if err := o.store.UpsertEntity(ctx, e); err != nil {
			o.logger.Error("persistence failed", zap.String("slug", e.Slug), zap.Error(err))
			result.Errors = append(result.Errors, types.RunError{
				Kind:    types.KindPersistence,
				Message: fmt.Sprintf("upsert %q: %v", e.Slug, err),
			})
			o.quarantineEntity(ctx, result, e, err)
			continue
		}
		result.Persisted++
	}

	for i := range result.Conflicts {
		if err := o.store.RecordConflict(ctx, &result.Conflicts[i]); err != nil {
			o.logger.Warn("failed to record merge conflict", zap.Error(err))
		}
	}
}

func (o *Orchestrator) quarantine(ctx context.Context, st *state, source, slug string, snapshot any, cause error, kind types.ErrorKind) {
	st.result.Quarantined++
	if o.store == nil {
		return
	}
	f := &types.FailedExtraction{
		ID:             uuid.NewString(),
		Slug:           slug,
		Source:         source,
		EntitySnapshot: snapshot,
		Error:          cause.Error(),
		Kind:           kind,
		QuarantinedAt:  time.Now().UTC(),
	}
	if err := o.store.Quarantine(ctx, f); err != nil {
		o.logger.Warn("failed to quarantine payload", zap.Error(err))
	}
}

func (o *Orchestrator) quarantineEntity(ctx context.Context, result *RunResult, e *types.Entity, cause error) {
	result.Quarantined++
	if o.store == nil {
		return
	}
	f := &types.FailedExtraction{
		ID:             uuid.NewString(),
		Slug:           e.Slug,
		EntitySnapshot: e,
		Error:          cause.Error(),
		Kind:           types.KindPersistence,
		QuarantinedAt:  time.Now().UTC(),
	}
	if err := o.store.Quarantine(ctx, f); err != nil {
		o.logger.Warn("failed to quarantine entity", zap.Error(err))
	}
}
