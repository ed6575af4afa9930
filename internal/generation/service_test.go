package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"defgen/internal/classify"
	"defgen/internal/config"
	"defgen/internal/consistency"
	"defgen/internal/llm"
	"defgen/internal/prompt"
	"defgen/internal/rules"
	"defgen/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const goodDefinition = "activiteit waarbij gegevens over een persoon of zaak in een basisregistratie worden vastgelegd"

func newService(t *testing.T, catalog *rules.Catalog, opts ...Option) (*Service, *usage.Tracker) {
	t.Helper()
	tracker, err := usage.NewTracker("")
	require.NoError(t, err)
	svc, err := NewService(rules.NewStore(catalog), append([]Option{WithSink(tracker)}, opts...)...)
	require.NoError(t, err)
	return svc, tracker
}

func answer(text string) llm.Completer {
	return llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Text: text, Provider: "stub"}, nil
	})
}

func contradictoryCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c, err := rules.NewCatalog(rules.Document{
		Version: "broken",
		Rules: []rules.Rule{
			{
				ID: "STR-01", Name: "Geen lidwoord", Category: rules.CategoryStructure, Severity: rules.SeverityCritical,
				Weight: 1, Instruction: "Begin niet met een lidwoord.",
				Forbidden: []rules.Matcher{{Kind: rules.KindPrefix, Pattern: "de"}},
			},
			{
				ID: "STR-02", Name: "Wel lidwoord", Category: rules.CategoryStructure, Severity: rules.SeverityHigh,
				Weight: 1, Instruction: "Begin met 'de'.",
				Required: []rules.Matcher{{Kind: rules.KindPrefix, Pattern: "de"}},
			},
		},
	}, rules.DefaultMatchTimeout)
	require.NoError(t, err)
	return c
}

func TestPrepare(t *testing.T) {
	svc, tracker := newService(t, rules.MustDefault())

	preview, err := svc.Prepare(context.Background(), "  registratie ", classify.Fields{})
	require.NoError(t, err)
	assert.Equal(t, "registratie", preview.Term)
	assert.NotEmpty(t, preview.RequestID)
	assert.Equal(t, rules.MustDefault().Version(), preview.CatalogVersion)
	assert.Contains(t, preview.Text, "registratie")
	assert.Positive(t, preview.TokenEstimate)
	assert.Empty(t, preview.Contradictions)
	assert.NotEmpty(t, preview.Manifest.Included)
	assert.NotNil(t, preview.Instruction())
	assert.Zero(t, tracker.Stats().Total.Events, "prepare emits no telemetry")
}

func TestPrepare_InvalidInput(t *testing.T) {
	svc, _ := newService(t, rules.MustDefault())

	_, err := svc.Prepare(context.Background(), "   ", classify.Fields{})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, KindInvalidInput, Describe(err).Kind)
}

func TestPrepare_ContradictionBlocks(t *testing.T) {
	svc, _ := newService(t, contradictoryCatalog(t))

	_, err := svc.Prepare(context.Background(), "registratie", classify.Fields{})
	var cErr *consistency.ContradictionError
	require.ErrorAs(t, err, &cErr)
	require.Len(t, cErr.Contradictions, 1)
	assert.Equal(t, "STR-02", cErr.Contradictions[0].RequiredRule)

	f := Describe(err)
	assert.Equal(t, KindContradiction, f.Kind)
	assert.Len(t, f.Details, 1)
}

func TestGenerate(t *testing.T) {
	svc, tracker := newService(t, rules.MustDefault())

	var sent llm.Request
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
		sent = req
		return &llm.Completion{Text: goodDefinition, Provider: "stub"}, nil
	})
	res, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, completer)
	require.NoError(t, err)

	assert.Equal(t, res.Preview.Text, sent.Prompt)
	assert.Equal(t, goodDefinition, res.Candidate)
	require.NotNil(t, res.Report)
	assert.Equal(t, res.Preview.CatalogVersion, res.Report.CatalogVersion)
	assert.Len(t, res.Report.Results, rules.MustDefault().Len())

	recent := tracker.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "registratie", recent[0].Term)
	assert.Equal(t, res.Preview.RequestID, recent[0].RequestID)
	assert.Equal(t, res.Report.IsAcceptable, recent[0].IsAcceptable)
	assert.InDelta(t, res.Report.OverallScore, recent[0].OverallScore, 1e-12)
}

func TestGenerate_OverBudgetIsReported(t *testing.T) {
	o, err := prompt.NewDefaultOrchestrator(prompt.DefaultRegistryOptions(), prompt.WithTokenBudget(1))
	require.NoError(t, err)
	svc, tracker := newService(t, rules.MustDefault(), WithOrchestrator(o))

	res, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, answer(goodDefinition))
	require.NoError(t, err)
	assert.True(t, res.Preview.OverBudget)
	assert.True(t, res.Preview.Manifest.OverBudget)
	assert.Greater(t, res.Preview.TokenEstimate, res.Preview.Manifest.BudgetLimit)

	recent := tracker.Recent(0)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].OverBudget)
	assert.EqualValues(t, 1, tracker.Stats().Total.OverBudget)

	svc, tracker = newService(t, rules.MustDefault())
	res, err = svc.Generate(context.Background(), "registratie", classify.Fields{}, answer(goodDefinition))
	require.NoError(t, err)
	assert.False(t, res.Preview.OverBudget)
	assert.Zero(t, tracker.Stats().Total.OverBudget)
}

func TestGenerate_CriticalFailureRejected(t *testing.T) {
	svc, tracker := newService(t, rules.MustDefault())

	res, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, answer("de "+goodDefinition))
	require.NoError(t, err)
	assert.Contains(t, res.Report.CriticalFailures, "STR-01")
	assert.False(t, res.Report.IsAcceptable)
	assert.EqualValues(t, 1, tracker.Stats().Total.Rejected)
}

func TestGenerate_TimeoutProducesNoReport(t *testing.T) {
	svc, tracker := newService(t, rules.MustDefault(), WithLLMTimeout(20*time.Millisecond))

	slow := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	res, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, slow)
	assert.Nil(t, res)
	var timeout *ExternalCallTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.Equal(t, KindExternalCallTimeout, Describe(err).Kind)
	assert.Zero(t, tracker.Stats().Total.Events)
}

func TestGenerate_CancelledProducesNoReport(t *testing.T) {
	svc, tracker := newService(t, rules.MustDefault())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hangsUp := llm.CompleterFunc(func(callCtx context.Context, req llm.Request) (*llm.Completion, error) {
		cancel()
		<-callCtx.Done()
		// an answer arriving after cancellation is discarded
		return &llm.Completion{Text: goodDefinition}, nil
	})
	res, err := svc.Generate(ctx, "registratie", classify.Fields{}, hangsUp)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, Describe(err).Kind)
	assert.Zero(t, tracker.Stats().Total.Events)
}

func TestGenerate_CompleterFailure(t *testing.T) {
	svc, _ := newService(t, rules.MustDefault())

	boom := errors.New("503 from upstream")
	broken := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
		return nil, boom
	})
	_, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, broken)
	var callErr *ExternalCallError
	require.ErrorAs(t, err, &callErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, KindExternalCall, Describe(err).Kind)

	_, err = svc.Generate(context.Background(), "registratie", classify.Fields{}, answer("   "))
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)

	_, err = svc.Generate(context.Background(), "registratie", classify.Fields{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidate_AllowedContradictionsAreCounted(t *testing.T) {
	svc, tracker := newService(t, contradictoryCatalog(t), AllowContradictions())

	preview, err := svc.Prepare(context.Background(), "registratie", classify.Fields{})
	require.NoError(t, err)
	require.Len(t, preview.Contradictions, 1)

	report, err := svc.Validate(context.Background(), preview, "de registratie van gegevens")
	require.NoError(t, err)
	assert.Contains(t, report.CriticalFailures, "STR-01")
	assert.EqualValues(t, 1, tracker.Stats().Total.Contradictions)

	_, err = svc.Validate(context.Background(), preview, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Validate(context.Background(), nil, "x")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidate_UsesPreviewCatalog(t *testing.T) {
	svc, _ := newService(t, rules.MustDefault())
	preview, err := svc.Prepare(context.Background(), "registratie", classify.Fields{})
	require.NoError(t, err)

	svc.Store().Swap(contradictoryCatalog(t))
	report, err := svc.Validate(context.Background(), preview, goodDefinition)
	require.NoError(t, err)
	assert.Equal(t, preview.CatalogVersion, report.CatalogVersion)
}

func TestCatalogChangeInvalidatesCache(t *testing.T) {
	svc, _ := newService(t, rules.MustDefault())
	_, err := svc.Prepare(context.Background(), "registratie", classify.Fields{})
	require.NoError(t, err)

	cache := svc.Orchestrator().Cache()
	require.NotNil(t, cache)
	require.Positive(t, cache.Stats().Entries)

	svc.Store().Swap(contradictoryCatalog(t))
	assert.Zero(t, cache.Stats().Entries)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	catalog, err := LoadCatalog(cfg)
	require.NoError(t, err)

	tracker, err := usage.NewTracker("")
	require.NoError(t, err)
	svc, err := NewFromConfig(cfg, rules.NewStore(catalog), tracker)
	require.NoError(t, err)

	res, err := svc.Generate(context.Background(), "registratie", classify.Fields{}, answer(goodDefinition))
	require.NoError(t, err)
	assert.NotNil(t, res.Report)
	assert.EqualValues(t, 1, tracker.Stats().Total.Events)

	cfg.Validation.CategoryThresholds = map[string]float64{"spelling": 0.5}
	_, err = NewFromConfig(cfg, rules.NewStore(catalog), nil)
	assert.Error(t, err)

	_, err = NewService(rules.NewStore(nil))
	var loadErr *rules.CatalogLoadError
	assert.ErrorAs(t, err, &loadErr)
}
