// Package generation is the entry point the UI talks to. It classifies the
// request context, assembles the instruction, guards it against
// contradictions, hands it to a completer and validates the answer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"defgen/internal/classify"
	"defgen/internal/config"
	"defgen/internal/consistency"
	"defgen/internal/llm"
	"defgen/internal/logging"
	"defgen/internal/prompt"
	"defgen/internal/rules"
	"defgen/internal/usage"
	"defgen/internal/validation"
)

// DefaultLLMTimeout bounds the completer call when none is configured.
const DefaultLLMTimeout = 60 * time.Second

// Preview is an assembled instruction ready to be sent, pinned to the
// catalog snapshot it was built from.
type Preview struct {
	RequestID      string                      `json:"request_id"`
	Term           string                      `json:"term"`
	Fields         classify.Fields             `json:"fields"`
	Classification classify.Result             `json:"classification"`
	CatalogVersion string                      `json:"catalog_version"`
	Text           string                      `json:"text"`
	TokenEstimate  int                         `json:"token_estimate"`
	Manifest       prompt.Manifest             `json:"manifest"`
	Contradictions []consistency.Contradiction `json:"contradictions,omitempty"`
	// OverBudget is set when the core and conditional modules alone exceed
	// the token budget; the instruction is sent anyway.
	OverBudget bool `json:"over_budget"`

	instruction *prompt.AssembledInstruction
	catalog     *rules.Catalog
}

// Instruction returns the assembled instruction behind the preview.
func (p *Preview) Instruction() *prompt.AssembledInstruction { return p.instruction }

// Result is a completed generation.
type Result struct {
	Preview    *Preview           `json:"preview"`
	Candidate  string             `json:"candidate_text"`
	Completion *llm.Completion    `json:"completion,omitempty"`
	Report     *validation.Report `json:"validation_report"`
}

// Service wires the core components together. It is safe for concurrent use.
type Service struct {
	store        *rules.Store
	classifier   *classify.Classifier
	orchestrator *prompt.Orchestrator
	validator    *consistency.Validator
	engine       *validation.Engine
	renderer     *prompt.FinalAssembler
	sink         usage.Sink
	tracer       trace.Tracer

	llmTimeout          time.Duration
	temperature         float64
	allowContradictions bool
}

// Option configures a Service.
type Option func(*Service)

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithOrchestrator replaces the default orchestrator.
func WithOrchestrator(o *prompt.Orchestrator) Option {
	return func(s *Service) { s.orchestrator = o }
}

// WithEngine replaces the default validation engine.
func WithEngine(e *validation.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithSink sends validation events to sink.
func WithSink(sink usage.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLLMTimeout bounds the completer call.
func WithLLMTimeout(d time.Duration) Option {
	return func(s *Service) { s.llmTimeout = d }
}

// WithTemperature sets the sampling temperature passed to completers.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// AllowContradictions lets Prepare return a preview that contains
// contradictions instead of failing. Meant for authoring tools.
func AllowContradictions() Option {
	return func(s *Service) { s.allowContradictions = true }
}

// NewService creates a service over the catalog store.
func NewService(store *rules.Store, opts ...Option) (*Service, error) {
	if store == nil || store.Current() == nil {
		return nil, &rules.CatalogLoadError{Source: "store", Err: errors.New("no catalog loaded")}
	}
	s := &Service{
		store:      store,
		renderer:   prompt.NewFinalAssembler(),
		tracer:     otel.Tracer("defgen.generation"),
		llmTimeout: DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.classifier == nil {
		s.classifier = classify.New(classify.DefaultConfig())
	}
	if s.orchestrator == nil {
		o, err := prompt.NewDefaultOrchestrator(prompt.DefaultRegistryOptions())
		if err != nil {
			return nil, err
		}
		s.orchestrator = o
	}
	if s.engine == nil {
		s.engine = validation.NewEngine(validation.DefaultOptions())
	}
	if s.validator == nil {
		v, err := consistency.NewValidator()
		if err != nil {
			return nil, err
		}
		s.validator = v
	}
	if s.llmTimeout <= 0 {
		s.llmTimeout = DefaultLLMTimeout
	}

	if cache := s.orchestrator.Cache(); cache != nil {
		store.OnChange(func(prev, cur *rules.Catalog) {
			cache.Invalidate()
			logging.Generation("Catalog changed (%s -> %s), section cache invalidated", versionOf(prev), versionOf(cur))
		})
	}
	return s, nil
}

// NewFromConfig builds a service from configuration.
func NewFromConfig(cfg *config.Config, store *rules.Store, sink usage.Sink) (*Service, error) {
	vopts, err := validation.FromConfig(cfg.Validation)
	if err != nil {
		return nil, fmt.Errorf("validation config: %w", err)
	}
	orchOpts := []prompt.OrchestratorOption{
		prompt.WithTokenBudget(cfg.Assembly.TokenBudget),
		prompt.WithWorkers(cfg.Assembly.Workers),
	}
	if !cfg.Assembly.CacheEnabled {
		orchOpts = append(orchOpts, prompt.WithoutCache())
	}
	orch, err := prompt.NewDefaultOrchestrator(
		prompt.RegistryOptions{ComplexityThreshold: cfg.Classifier.ComplexityThreshold}, orchOpts...)
	if err != nil {
		return nil, err
	}

	ccfg := classify.DefaultConfig()
	ccfg.ConfidenceThreshold = cfg.Classifier.ConfidenceThreshold
	ccfg.LengthSaturation = cfg.Classifier.LengthSaturation

	opts := []Option{
		WithClassifier(classify.New(ccfg)),
		WithOrchestrator(orch),
		WithEngine(validation.NewEngine(vopts)),
		WithLLMTimeout(cfg.GetLLMTimeout()),
		WithTemperature(cfg.LLM.Temperature),
	}
	if sink != nil {
		opts = append(opts, WithSink(sink))
	}
	return NewService(store, opts...)
}

// LoadCatalog loads the configured catalog, or the embedded default when
// no path is set.
func LoadCatalog(cfg *config.Config) (*rules.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return rules.Parse(rules.DefaultCatalogSource(), rules.FormatYAML, cfg.GetMatchTimeout())
	}
	return rules.LoadFile(cfg.Catalog.Path, cfg.GetMatchTimeout())
}

// Store returns the catalog store.
func (s *Service) Store() *rules.Store { return s.store }

// Orchestrator returns the orchestrator.
func (s *Service) Orchestrator() *prompt.Orchestrator { return s.orchestrator }

// Prepare classifies the context, assembles the instruction and checks it
// for contradictions. With contradictions it fails with a
// consistency.ContradictionError unless AllowContradictions was set.
func (s *Service) Prepare(ctx context.Context, term string, fields classify.Fields) (*Preview, error) {
	ctx, span := s.tracer.Start(ctx, "generation.Prepare")
	defer span.End()
	timer := logging.StartTimer(logging.CategoryGeneration, "Service.Prepare")
	defer timer.Stop()

	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fail(span, fmt.Errorf("%w: term is required", ErrInvalidInput))
	}

	catalog := s.store.Current()
	if catalog == nil {
		return nil, fail(span, &rules.CatalogLoadError{Source: "store", Err: errors.New("no catalog loaded")})
	}

	reqID := uuid.NewString()
	log := logging.WithRequestID(logging.CategoryGeneration, reqID)

	res := s.classifier.Classify(term, fields)
	mctx := prompt.NewModuleContext(term, fields, res)
	if err := mctx.Validate(); err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	span.SetAttributes(
		attribute.String("request_id", reqID),
		attribute.String("term", term),
		attribute.String("category", string(res.Category)),
		attribute.Float64("complexity", res.Complexity),
		attribute.String("catalog_version", catalog.Version()),
	)

	inst, err := s.orchestrator.Assemble(ctx, catalog, mctx)
	if err != nil {
		return nil, fail(span, err)
	}

	found, err := s.validator.CheckSections(inst.Sections, catalog, res.Category)
	if err != nil {
		return nil, fail(span, fmt.Errorf("consistency check: %w", err))
	}
	if len(found) > 0 {
		log.Warn("Assembled instruction for %q has %d contradiction(s)", term, len(found))
		if !s.allowContradictions {
			return nil, fail(span, &consistency.ContradictionError{Contradictions: found})
		}
	}

	preview := &Preview{
		RequestID:      reqID,
		Term:           term,
		Fields:         fields,
		Classification: res,
		CatalogVersion: catalog.Version(),
		Text:           s.renderer.Render(inst),
		TokenEstimate:  inst.TokenEstimate,
		Contradictions: found,
		instruction:    inst,
		catalog:        catalog,
	}
	if inst.Manifest != nil {
		preview.Manifest = *inst.Manifest
		preview.OverBudget = inst.Manifest.OverBudget
	}
	if preview.OverBudget {
		log.Warn("Instruction for %q uses %d tokens, over budget %d: required modules cannot be dropped",
			term, inst.TokenEstimate, preview.Manifest.BudgetLimit)
	}
	span.SetAttributes(
		attribute.Int("token_estimate", inst.TokenEstimate),
		attribute.Bool("over_budget", preview.OverBudget),
	)
	log.Info("Prepared instruction for %q: category=%s tokens=%d modules=%d",
		term, res.Category, inst.TokenEstimate, len(preview.Manifest.Included))
	return preview, nil
}

// Validate scores candidate against the catalog snapshot of the preview and
// emits one telemetry event. A cancelled context yields no report and no
// event.
func (s *Service) Validate(ctx context.Context, preview *Preview, candidate string) (*validation.Report, error) {
	ctx, span := s.tracer.Start(ctx, "generation.Validate")
	defer span.End()

	if preview == nil || preview.catalog == nil {
		return nil, fail(span, fmt.Errorf("%w: preview is required", ErrInvalidInput))
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, fail(span, fmt.Errorf("%w: candidate text is empty", ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(span, err)
	}

	report, err := s.engine.Evaluate(ctx, candidate, preview.catalog, preview.Classification.Category)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.Float64("overall_score", report.OverallScore),
		attribute.Bool("is_acceptable", report.IsAcceptable),
		attribute.Int("critical_failures", len(report.CriticalFailures)),
	)
	s.emit(ctx, preview, report)
	return report, nil
}

// Generate runs the whole flow with completer as the LLM. Only the
// completer call is bounded by the LLM timeout.
func (s *Service) Generate(ctx context.Context, term string, fields classify.Fields, completer llm.Completer) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "generation.Generate")
	defer span.End()

	if completer == nil {
		return nil, fail(span, fmt.Errorf("%w: no completer configured", ErrInvalidInput))
	}
	preview, err := s.Prepare(ctx, term, fields)
	if err != nil {
		return nil, fail(span, err)
	}

	completion, err := s.complete(ctx, preview, completer)
	if err != nil {
		return nil, fail(span, err)
	}

	report, err := s.Validate(ctx, preview, completion.Text)
	if err != nil {
		return nil, fail(span, err)
	}
	return &Result{Preview: preview, Candidate: completion.Text, Completion: completion, Report: report}, nil
}

func (s *Service) complete(ctx context.Context, preview *Preview, completer llm.Completer) (*llm.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()
	callCtx, span := s.tracer.Start(callCtx, "llm.Complete",
		trace.WithAttributes(attribute.String("provider", completer.Name())))
	defer span.End()

	log := logging.WithRequestID(logging.CategoryGeneration, preview.RequestID)
	completion, err := completer.Complete(callCtx, llm.Request{Prompt: preview.Text, Temperature: s.temperature})

	// The caller gave up: nothing downstream may run.
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("Request cancelled while awaiting %s", completer.Name())
		return nil, fail(span, ctxErr)
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("%s timed out after %s", completer.Name(), s.llmTimeout)
			return nil, fail(span, &ExternalCallTimeout{Provider: completer.Name(), Timeout: s.llmTimeout, Err: err})
		}
		return nil, fail(span, &ExternalCallError{Provider: completer.Name(), Err: err})
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, fail(span, &ExternalCallError{Provider: completer.Name(), Err: llm.ErrEmptyCompletion})
	}
	span.SetAttributes(attribute.Int("output_chars", len(completion.Text)))
	return completion, nil
}

func (s *Service) emit(ctx context.Context, preview *Preview, report *validation.Report) {
	if s.sink == nil {
		return
	}
	ev := usage.NewEvent()
	ev.RequestID = preview.RequestID
	ev.Term = preview.Term
	ev.Category = preview.Classification.Category
	ev.OverallScore = report.OverallScore
	ev.IsAcceptable = report.IsAcceptable
	ev.ContradictionCount = len(preview.Contradictions)
	ev.CriticalFailures = len(report.CriticalFailures)
	ev.OverBudget = preview.OverBudget
	ev.CatalogVersion = report.CatalogVersion
	if err := s.sink.Record(ctx, ev); err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Telemetry event %s not fully recorded: %v", ev.ID, err)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func versionOf(c *rules.Catalog) string {
	if c == nil {
		return "<none>"
	}
	return c.Version()
}
