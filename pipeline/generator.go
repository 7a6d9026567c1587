// Package pipeline implements the model fallback orchestrator: cache, then
// each configured remote model in priority order with quality gating, then
// the deterministic template builder. Models are attempted sequentially;
// acceptance is first-valid-wins.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/veridoc/narrative/cache"
	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/compose"
	"github.com/veridoc/narrative/llm"
	"github.com/veridoc/narrative/tenant"
	"github.com/veridoc/narrative/validate"
)

// DefaultExperiment is the rollout flag consulted before any remote model
// is attempted.
const DefaultExperiment = "ai-narrative-generation"

// Gate decides whether remote-model generation is attempted for a call.
type Gate interface {
	ShouldUseAI(experimentName string) bool
}

// Outcome is the orchestrator's result: the narrative plus the path
// metadata the audit needs.
type Outcome struct {
	// Text is the final narrative. Never empty.
	Text string

	// Source is the model name that produced the text, or "cache-hit" /
	// "template-fallback".
	Source string

	// Score is the validation score of the accepted narrative.
	Score int

	// ValidationPassed records whether the accepted narrative passed its
	// quality gate. The template fallback is accepted without gating and
	// reports true.
	ValidationPassed bool

	// CacheHit and FallbackUsed describe the path taken.
	CacheHit     bool
	FallbackUsed bool

	// PromptVersion identifies the prompt template used for model calls.
	PromptVersion string

	// TokensEstimated is the character-length/4 estimate over prompt and
	// output. Provider-reported usage is ignored so the cost model stays
	// comparable across providers.
	TokensEstimated int

	// CostEstimated is the estimated spend in USD. Zero for cache hits
	// and template fallbacks.
	CostEstimated float64
}

// Generator walks the fallback chain for one request at a time. Safe for
// concurrent use; the cache is the only shared mutable state.
type Generator struct {
	cache     *cache.Cache
	builder   *compose.Builder
	completer llm.Completer
	models    []llm.ModelConfig

	gate        Gate
	experiment  string
	callTimeout time.Duration
	logger      *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCache sets the narrative cache.
func WithCache(c *cache.Cache) GeneratorOption {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithCompleter sets the model-call client.
func WithCompleter(c llm.Completer) GeneratorOption {
	return func(g *Generator) {
		g.completer = c
	}
}

// WithModels sets the remote model list, in priority order.
func WithModels(models []llm.ModelConfig) GeneratorOption {
	return func(g *Generator) {
		g.models = models
	}
}

// WithGate sets the rollout gate. Without a gate, remote generation is
// never attempted.
func WithGate(gate Gate) GeneratorOption {
	return func(g *Generator) {
		g.gate = gate
	}
}

// WithExperiment overrides the rollout experiment name.
func WithExperiment(name string) GeneratorOption {
	return func(g *Generator) {
		if name != "" {
			g.experiment = name
		}
	}
}

// WithCallTimeout bounds each individual model call.
func WithCallTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator creates the fallback orchestrator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		cache:       cache.New(),
		builder:     compose.NewBuilder(),
		experiment:  DefaultExperiment,
		callTimeout: llm.DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate walks cache → models → template and always returns a non-empty
// narrative. Only a defect in the template builder itself could make it
// panic; every other failure mode is absorbed by the chain.
func (g *Generator) Generate(ctx context.Context, in *compliance.Input, cfg tenant.AIConfig) Outcome {
	validateFn := validate.ForRisk(in.RiskLevel)

	// Cache first. Hits are re-validated: a stale or malformed template
	// must not short-circuit quality gating.
	if text, ok := g.cache.Get(in); ok {
		if res := validateFn(text, in); res.Valid {
			return Outcome{
				Text:             text,
				Source:           compliance.SourceCacheHit,
				Score:            res.Score,
				ValidationPassed: true,
				CacheHit:         true,
				PromptVersion:    PromptVersion,
				TokensEstimated:  estimateTokens(len(text)),
			}
		}
		g.logger.Warn("Cached narrative failed validation, regenerating",
			"signature", in.Signature().Key())
	}

	if g.gate != nil && g.completer != nil && g.gate.ShouldUseAI(g.experiment) {
		if outcome, ok := g.tryModels(ctx, in, cfg, validateFn); ok {
			return outcome
		}
	}

	return g.fallback(in, cfg, validateFn)
}

// tryModels iterates the configured models in priority order, one attempt
// each under the call timeout. The first candidate that validates is
// accepted and cached.
func (g *Generator) tryModels(ctx context.Context, in *compliance.Input, cfg tenant.AIConfig, validateFn func(string, *compliance.Input) validate.Result) (Outcome, bool) {
	prompt := BuildPrompt(in, cfg)

	for _, model := range g.models {
		text, err := g.completeOnce(ctx, prompt, model)
		if err != nil {
			g.logger.Warn("Model attempt failed, advancing",
				"model", model.Name,
				"transient", llm.IsTransient(err),
				"error", err)
			continue
		}

		res := validateFn(text, in)
		if !res.Valid {
			g.logger.Warn("Model output failed validation, advancing",
				"model", model.Name,
				"score", res.Score,
				"errors", len(res.Errors))
			continue
		}

		g.cache.Set(in, text)

		tokens := estimateTokens(prompt.Size() + len(text))
		return Outcome{
			Text:             text,
			Source:           model.Name,
			Score:            res.Score,
			ValidationPassed: true,
			PromptVersion:    prompt.Version,
			TokensEstimated:  tokens,
			CostEstimated:    float64(tokens) / 1000 * model.CostPer1K,
		}, true
	}

	return Outcome{}, false
}

// completeOnce makes a single bounded model call.
func (g *Generator) completeOnce(ctx context.Context, prompt llm.Prompt, model llm.ModelConfig) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.completer.Complete(callCtx, prompt, model)
}

// fallback produces the narrative via the deterministic template builder.
// The result is accepted unconditionally; it is still scored so the audit
// reflects its quality.
func (g *Generator) fallback(in *compliance.Input, cfg tenant.AIConfig, validateFn func(string, *compliance.Input) validate.Result) Outcome {
	text := g.builder.Build(in, cfg)
	res := validateFn(text, in)

	return Outcome{
		Text:             text,
		Source:           compliance.SourceTemplateFallback,
		Score:            res.Score,
		ValidationPassed: true,
		FallbackUsed:     true,
		PromptVersion:    PromptVersion,
		TokensEstimated:  estimateTokens(len(text)),
	}
}

// estimateTokens applies the fixed character-length/4 token model.
func estimateTokens(chars int) int {
	return chars / 4
}
