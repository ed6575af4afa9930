package prompt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"defgen/internal/logging"
	"defgen/internal/rules"
)

// OrchestratorConfig holds the assembly settings.
type OrchestratorConfig struct {
	// TokenBudget caps the estimate that optional modules may grow into.
	TokenBudget int

	// Workers bounds concurrent module execution within one level.
	Workers int

	// EnableCaching caches the output of static modules per catalog version.
	EnableCaching bool
}

// DefaultOrchestratorConfig returns the default assembly settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TokenBudget:   2400,
		Workers:       4,
		EnableCaching: true,
	}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConfig replaces the whole configuration.
func WithConfig(cfg OrchestratorConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithTokenBudget sets the token budget.
func WithTokenBudget(tokens int) OrchestratorOption {
	return func(o *Orchestrator) { o.config.TokenBudget = tokens }
}

// WithWorkers sets the per-level concurrency.
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.config.Workers = n }
}

// WithCache shares a section cache between orchestrators.
func WithCache(c *SectionCache) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = c
		o.config.EnableCaching = c != nil
	}
}

// WithoutCache disables caching.
func WithoutCache() OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = nil
		o.config.EnableCaching = false
	}
}

// Orchestrator selects, orders and runs instruction modules. The module
// graph is validated once at construction; Assemble is safe for
// concurrent use.
type Orchestrator struct {
	plan   *plan
	cache  *SectionCache
	config OrchestratorConfig
}

// NewOrchestrator validates the module registry and prepares its plan.
func NewOrchestrator(modules []Module, opts ...OrchestratorOption) (*Orchestrator, error) {
	timer := logging.StartTimer(logging.CategoryAssembly, "NewOrchestrator")
	defer timer.Stop()

	o := &Orchestrator{config: DefaultOrchestratorConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.config.TokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", o.config.TokenBudget)
	}
	if o.config.Workers < 1 {
		o.config.Workers = 1
	}
	if o.config.EnableCaching && o.cache == nil {
		o.cache = NewSectionCache()
	}

	p, err := buildPlan(modules)
	if err != nil {
		return nil, err
	}
	o.plan = p

	logging.Assembly("Orchestrator ready: %d modules, budget=%d, workers=%d, caching=%v",
		len(modules), o.config.TokenBudget, o.config.Workers, o.config.EnableCaching)
	return o, nil
}

// Specs returns the module specs in registry order.
func (o *Orchestrator) Specs() []Spec {
	return append([]Spec(nil), o.plan.specs...)
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() OrchestratorConfig { return o.config }

// Cache returns the section cache, or nil when caching is off.
func (o *Orchestrator) Cache() *SectionCache { return o.cache }

// moduleRun is the outcome of one module in one assembly.
type moduleRun struct {
	sections []Section
	view     *StateView
	cacheHit bool
	skipped  SkipReason
	err      error
	duration time.Duration
}

func (r *moduleRun) included() bool {
	return r != nil && r.err == nil && r.skipped == "" && len(r.sections) > 0
}

// Assemble builds the instruction for one request. Core and conditional
// modules run level by level, in parallel within a level. Optional modules
// then run one at a time until the first one that does not fit the budget.
func (o *Orchestrator) Assemble(ctx context.Context, catalog *rules.Catalog, mctx *ModuleContext) (*AssembledInstruction, error) {
	timer := logging.StartTimer(logging.CategoryAssembly, "Orchestrator.Assemble")
	defer timer.Stop()

	if catalog == nil {
		return nil, errors.New("assemble: catalog is nil")
	}
	if mctx == nil {
		return nil, errors.New("assemble: module context is nil")
	}
	if err := mctx.Validate(); err != nil {
		return nil, fmt.Errorf("assemble: invalid context: %w", err)
	}
	mctx = mctx.Clone()
	start := time.Now()

	state := newSharedState(o.plan.types)
	results := make([]*moduleRun, len(o.plan.modules))

	// Phase 1: core and conditional modules.
	for _, level := range o.plan.levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.config.Workers)
		for _, i := range level {
			i := i
			spec := o.plan.specs[i]
			if spec.Tier == TierConditional && !o.relevant(i, mctx) {
				results[i] = &moduleRun{skipped: SkipNotRelevant}
				continue
			}
			g.Go(func() error {
				run := o.execute(gctx, i, catalog, mctx, state)
				results[i] = run
				if run.err != nil && spec.Mandatory {
					return &ModuleExecutionError{Module: spec.ID, Err: run.err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logging.Get(logging.CategoryAssembly).Error("Assembly aborted: %v", err)
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, i := range level {
			if r := results[i]; r.included() && r.view != nil {
				r.view.commit()
			}
		}
	}

	budget := NewTokenBudget(o.config.TokenBudget)
	for i, r := range results {
		if r.included() {
			budget.Charge(sectionTokens(results[i].sections))
		}
	}
	overBudget := budget.Over()
	if overBudget {
		logging.AssemblyWarn("Required modules alone use %d tokens, over budget %d", budget.Used(), budget.Limit())
	}

	// Phase 2: optional modules, whole-module admission.
	for _, i := range o.plan.optional {
		spec := o.plan.specs[i]
		if budget.Closed() {
			results[i] = &moduleRun{skipped: SkipBudgetExhausted}
			continue
		}
		if !o.relevant(i, mctx) {
			results[i] = &moduleRun{skipped: SkipNotRelevant}
			continue
		}
		run := o.execute(ctx, i, catalog, mctx, state)
		results[i] = run
		if run.err != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if !budget.TryAdmit(spec.ID, sectionTokens(run.sections)) {
			run.skipped = SkipBudgetExceeded
			continue
		}
		if run.view != nil {
			run.view.commit()
		}
	}

	inst := o.collect(results, catalog, mctx)
	inst.Manifest.OverBudget = overBudget
	inst.Manifest.Duration = time.Since(start)

	logging.Assembly("Assembled instruction for %q: %d modules, %d tokens (budget %d, %d cache hits)",
		mctx.Term, len(inst.Manifest.Included), inst.TokenEstimate, o.config.TokenBudget, inst.Manifest.CacheHits())
	return inst, nil
}

// collect orders the kept output by the global topological rank and fills
// the manifest.
func (o *Orchestrator) collect(results []*moduleRun, catalog *rules.Catalog, mctx *ModuleContext) *AssembledInstruction {
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return o.plan.rank[order[a]] < o.plan.rank[order[b]] })

	manifest := &Manifest{
		Timestamp:          time.Now(),
		CatalogVersion:     catalog.Version(),
		ContextFingerprint: mctx.Fingerprint(),
		Category:           string(mctx.Category),
		Complexity:         mctx.Complexity,
		BudgetLimit:        o.config.TokenBudget,
	}
	inst := &AssembledInstruction{
		CatalogVersion: catalog.Version(),
		Context:        mctx,
		Manifest:       manifest,
		titles:         make(map[string]string),
	}

	for _, i := range order {
		spec := o.plan.specs[i]
		r := results[i]
		switch {
		case r == nil:
			continue
		case r.err != nil:
			manifest.Failed = append(manifest.Failed, FailedModule{ID: spec.ID, Tier: spec.Tier, Error: r.err.Error()})
		case r.skipped != "":
			manifest.Skipped = append(manifest.Skipped, SkippedModule{ID: spec.ID, Tier: spec.Tier, Reason: r.skipped})
		case len(r.sections) == 0:
			manifest.Skipped = append(manifest.Skipped, SkippedModule{ID: spec.ID, Tier: spec.Tier, Reason: SkipEmpty})
		default:
			tokens := sectionTokens(r.sections)
			inst.Sections = append(inst.Sections, r.sections...)
			inst.TokenEstimate += tokens
			inst.titles[spec.ID] = spec.Title
			manifest.Included = append(manifest.Included, IncludedModule{
				ID:       spec.ID,
				Tier:     spec.Tier,
				Sections: len(r.sections),
				Tokens:   tokens,
				CacheHit: r.cacheHit,
				Duration: r.duration,
			})
		}
	}
	manifest.TokenEstimate = inst.TokenEstimate
	return inst
}

// execute runs one module, consulting the cache for static modules.
func (o *Orchestrator) execute(ctx context.Context, i int, catalog *rules.Catalog, mctx *ModuleContext, state *SharedState) (run *moduleRun) {
	spec := o.plan.specs[i]
	start := time.Now()
	run = &moduleRun{}
	defer func() { run.duration = time.Since(start) }()

	if spec.Static && o.cache != nil {
		if sections, ok := o.cache.Get(spec.ID, catalog.Version(), ""); ok {
			run.sections = sections
			run.cacheHit = true
			return run
		}
	}

	view := newStateView(state, spec)
	sections, err := safeExecute(ctx, o.plan.modules[i], Input{Context: mctx, Catalog: catalog, State: view})
	if err != nil {
		run.err = err
		logging.AssemblyWarn("Module %s (%s) failed: %v", spec.ID, spec.Tier, err)
		return run
	}
	run.sections = normalizeSections(spec.ID, sections)
	run.view = view

	if spec.Static && o.cache != nil {
		o.cache.Put(spec.ID, catalog.Version(), "", run.sections)
	}
	return run
}

func (o *Orchestrator) relevant(i int, mctx *ModuleContext) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.AssemblyWarn("Module %s predicate panicked: %v", o.plan.specs[i].ID, r)
			ok = false
		}
	}()
	return o.plan.modules[i].Relevant(mctx)
}

func safeExecute(ctx context.Context, m Module, in Input) (sections []Section, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Execute(ctx, in)
}
