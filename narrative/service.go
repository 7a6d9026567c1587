// Package narrative is the composition root of the generation pipeline.
// Service wires the fallback orchestrator to the tenant configuration store
// and the audit ledger, and exposes the single public operation: Generate.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/ledger"
	"github.com/veridoc/narrative/pipeline"
	"github.com/veridoc/narrative/tenant"
)

// Service generates compliance narratives. The caller always receives a
// narrative; quality degradation is visible only in the audit record.
type Service struct {
	generator *pipeline.Generator
	tenants   tenant.Store
	ledger    *ledger.Ledger
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTenantStore sets the tenant configuration store. Without one, every
// generation uses the built-in default configuration.
func WithTenantStore(store tenant.Store) ServiceOption {
	return func(s *Service) {
		s.tenants = store
	}
}

// WithLedger sets the metrics/audit ledger.
func WithLedger(l *ledger.Ledger) ServiceOption {
	return func(s *Service) {
		s.ledger = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the narrative generation service around an
// orchestrator.
func NewService(generator *pipeline.Generator, opts ...ServiceOption) *Service {
	s := &Service{
		generator: generator,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate produces a narrative for the input and records the attempt. The
// audit write is fire-and-forget; the only error this method returns is a
// nil input. A defect in the last-resort template path panics through,
// deliberately: that path must never be broken.
func (s *Service) Generate(ctx context.Context, in *compliance.Input) (string, *compliance.Audit, error) {
	if in == nil {
		return "", nil, fmt.Errorf("input is required")
	}

	// The caller is the source of truth for IsCompliant; an inconsistency
	// with the step results is surfaced but not rejected.
	if !in.StepsConsistent() {
		s.logger.Warn("IsCompliant contradicts step results",
			"cos_reference", in.CoSReference,
			"failed_steps", in.FailedSteps(),
			"is_compliant", in.IsCompliant)
	}

	cfg := tenant.DefaultConfig()
	if s.tenants != nil {
		cfg = s.tenants.Config(in.TenantID)
	}

	started := s.now()
	outcome := s.generator.Generate(ctx, in, cfg)
	completed := s.now()

	audit := &compliance.Audit{
		ID:                  uuid.NewString(),
		Timestamp:           completed,
		Input:               *in,
		Narrative:           outcome.Text,
		Model:               outcome.Source,
		PromptVersion:       outcome.PromptVersion,
		Duration:            completed.Sub(started),
		TokensEstimated:     outcome.TokensEstimated,
		CostEstimated:       outcome.CostEstimated,
		ValidationPassed:    outcome.ValidationPassed,
		ValidationScore:     outcome.Score,
		FallbackUsed:        outcome.FallbackUsed,
		CacheHit:            outcome.CacheHit,
		TenantTone:          string(cfg.Tone),
		TenantStyle:         string(cfg.Style),
		TenantStrictness:    string(cfg.Strictness),
		TenantRiskTolerance: string(cfg.RiskTolerance),
	}

	if s.ledger != nil {
		s.ledger.LogGeneration(audit)
	}

	return outcome.Text, audit, nil
}
