package pipeline_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/narrative/cache"
	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/llm"
	"github.com/veridoc/narrative/pipeline"
	"github.com/veridoc/narrative/tenant"
)

func tenantDefault() tenant.AIConfig { return tenant.DefaultConfig() }

// fakeCompleter scripts per-model responses and counts calls.
type fakeCompleter struct {
	responses map[string]response
	calls     atomic.Int32
}

type response struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt llm.Prompt, model llm.ModelConfig) (string, error) {
	f.calls.Add(1)
	resp, ok := f.responses[model.Name]
	if !ok {
		return "", fmt.Errorf("unscripted model %s", model.Name)
	}
	return resp.text, resp.err
}

// blockingCompleter hangs until the call context is cancelled.
type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, prompt llm.Prompt, model llm.ModelConfig) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// gateFunc adapts a bool to the rollout gate.
type gateFunc bool

func (g gateFunc) ShouldUseAI(string) bool { return bool(g) }

func breachInput() *compliance.Input {
	return &compliance.Input{
		WorkerName:   "Amira Hassan",
		CoSReference: "COS-2025-0042",
		JobTitle:     "Software Engineer",
		SOCCode:      "2134",
		Step1Pass:    false,
		Step2Pass:    true,
		Step3Pass:    true,
		Step4Pass:    true,
		Step5Pass:    true,
		IsCompliant:  false,
		RiskLevel:    compliance.RiskMedium,
		MissingDocs:  []string{"Payslips"},
		TenantID:     "tenant-1",
	}
}

// validNarrativeFor builds a model response that clears base validation for
// the given input.
func validNarrativeFor(in *compliance.Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Assessment of %s, sponsored under %s. ", in.WorkerName, in.CoSReference)
	sb.WriteString("The failures identified engage paragraph C1.38 of the sponsor guidance. ")
	sb.WriteString("Decision Tree Summary:\n")
	for i, pass := range in.StepResults() {
		marker := "❌ Fail"
		if pass {
			marker = "✅ Pass"
		}
		fmt.Fprintf(&sb, "Step %d: %s\n", i+1, marker)
	}
	if in.IsCompliant {
		sb.WriteString("Overall Finding: COMPLIANT. ")
	} else {
		sb.WriteString("Overall Finding: SERIOUS BREACH. ")
	}
	sb.WriteString(strings.Repeat("The sponsorship records were reviewed against the published guidance. ", 14))
	return sb.String()
}

func models(names ...string) []llm.ModelConfig {
	out := make([]llm.ModelConfig, len(names))
	for i, name := range names {
		out[i] = llm.ModelConfig{Name: name, Provider: "test", Model: name, CostPer1K: 0.01}
	}
	return out
}

func TestGenerate_GateDisabledFallsBack(t *testing.T) {
	completer := &fakeCompleter{}
	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary")),
		pipeline.WithGate(gateFunc(false)),
	)

	out := g.Generate(context.Background(), breachInput(), tenantDefault())

	assert.True(t, out.FallbackUsed)
	assert.False(t, out.CacheHit)
	assert.Equal(t, compliance.SourceTemplateFallback, out.Source)
	assert.NotEmpty(t, out.Text)
	assert.Equal(t, int32(0), completer.calls.Load(), "no model may be attempted when gated off")
}

func TestGenerate_NoGateNeverAttemptsModels(t *testing.T) {
	completer := &fakeCompleter{}
	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary")),
	)

	out := g.Generate(context.Background(), breachInput(), tenantDefault())

	assert.True(t, out.FallbackUsed)
	assert.Equal(t, int32(0), completer.calls.Load())
}

func TestGenerate_AcceptsFirstValidModel(t *testing.T) {
	in := breachInput()
	completer := &fakeCompleter{responses: map[string]response{
		"primary": {text: validNarrativeFor(in)},
	}}

	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary", "secondary")),
		pipeline.WithGate(gateFunc(true)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.Equal(t, "primary", out.Source)
	assert.False(t, out.FallbackUsed)
	assert.True(t, out.ValidationPassed)
	assert.GreaterOrEqual(t, out.Score, 70)
	assert.Positive(t, out.TokensEstimated)
	assert.Positive(t, out.CostEstimated)
	assert.Equal(t, int32(1), completer.calls.Load())
}

func TestGenerate_AcceptedNarrativeIsCached(t *testing.T) {
	in := breachInput()
	completer := &fakeCompleter{responses: map[string]response{
		"primary": {text: validNarrativeFor(in)},
	}}

	c := cache.New()
	g := pipeline.NewGenerator(
		pipeline.WithCache(c),
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary")),
		pipeline.WithGate(gateFunc(true)),
	)

	first := g.Generate(context.Background(), in, tenantDefault())
	require.Equal(t, "primary", first.Source)

	// Same signature, different worker: served from cache, personalized.
	other := breachInput()
	other.WorkerName = "Jan Kowalski"
	other.CoSReference = "COS-2025-0099"

	second := g.Generate(context.Background(), other, tenantDefault())

	assert.Equal(t, compliance.SourceCacheHit, second.Source)
	assert.True(t, second.CacheHit)
	assert.Contains(t, second.Text, "Jan Kowalski")
	assert.Contains(t, second.Text, "COS-2025-0099")
	assert.NotContains(t, second.Text, "Amira Hassan")
	assert.Zero(t, second.CostEstimated)
	assert.Equal(t, int32(1), completer.calls.Load(), "cache hit must not call a model")
}

func TestGenerate_InvalidCandidateAdvancesToNextModel(t *testing.T) {
	in := breachInput()
	completer := &fakeCompleter{responses: map[string]response{
		"primary":   {text: "Too short and missing everything."},
		"secondary": {text: validNarrativeFor(in)},
	}}

	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary", "secondary")),
		pipeline.WithGate(gateFunc(true)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.Equal(t, "secondary", out.Source)
	assert.Equal(t, int32(2), completer.calls.Load())
}

func TestGenerate_ProviderErrorAdvancesToNextModel(t *testing.T) {
	in := breachInput()
	completer := &fakeCompleter{responses: map[string]response{
		"primary":   {err: llm.NewTransientError(fmt.Errorf("upstream 503"))},
		"secondary": {text: validNarrativeFor(in)},
	}}

	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary", "secondary")),
		pipeline.WithGate(gateFunc(true)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.Equal(t, "secondary", out.Source)
	assert.False(t, out.FallbackUsed)
}

func TestGenerate_ExhaustionFallsBackToTemplate(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]response{
		"primary":   {err: fmt.Errorf("down")},
		"secondary": {text: "garbage"},
	}}

	in := breachInput()
	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary", "secondary")),
		pipeline.WithGate(gateFunc(true)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.True(t, out.FallbackUsed)
	assert.Equal(t, compliance.SourceTemplateFallback, out.Source)
	assert.Contains(t, out.Text, in.WorkerName)
	assert.Equal(t, int32(2), completer.calls.Load())
}

func TestGenerate_HungProviderIsBounded(t *testing.T) {
	g := pipeline.NewGenerator(
		pipeline.WithCompleter(blockingCompleter{}),
		pipeline.WithModels(models("primary")),
		pipeline.WithGate(gateFunc(true)),
		pipeline.WithCallTimeout(20*time.Millisecond),
	)

	start := time.Now()
	out := g.Generate(context.Background(), breachInput(), tenantDefault())

	assert.True(t, out.FallbackUsed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGenerate_InvalidCacheEntryIsNotServed(t *testing.T) {
	in := breachInput()

	c := cache.New()
	c.Set(in, "stale garbage that validates nothing")

	g := pipeline.NewGenerator(
		pipeline.WithCache(c),
		pipeline.WithGate(gateFunc(false)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.False(t, out.CacheHit)
	assert.True(t, out.FallbackUsed)
}

func TestGenerate_HighRiskAppliesStricterGate(t *testing.T) {
	in := breachInput()
	in.RiskLevel = compliance.RiskHigh

	// Valid under the base rules but missing the Annex C citation.
	completer := &fakeCompleter{responses: map[string]response{
		"primary": {text: validNarrativeFor(in)},
	}}

	g := pipeline.NewGenerator(
		pipeline.WithCompleter(completer),
		pipeline.WithModels(models("primary")),
		pipeline.WithGate(gateFunc(true)),
	)

	out := g.Generate(context.Background(), in, tenantDefault())

	assert.True(t, out.FallbackUsed, "base-valid output must not clear the HIGH-risk gate")
}
