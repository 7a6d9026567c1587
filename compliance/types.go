// Package compliance defines the core data model for sponsor-compliance
// narrative generation: the generation input, the worker-independent decision
// signature used for cache equivalence, and the per-generation audit record.
package compliance

import (
	"fmt"
	"time"
)

// RiskLevel classifies the overall risk of a compliance case.
type RiskLevel string

// Risk levels in ascending order of severity.
const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel normalizes a risk level string. Unknown values map to MEDIUM.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s)
	default:
		return RiskMedium
	}
}

// Verdict strings that must appear verbatim in a finished narrative.
const (
	VerdictCompliant = "COMPLIANT"
	VerdictBreach    = "SERIOUS BREACH"
)

// Generation source markers recorded in the audit when no remote model
// produced the narrative.
const (
	SourceCacheHit         = "cache-hit"
	SourceTemplateFallback = "template-fallback"
)

// Input is the full input to a narrative generation call. It combines the
// extraction service's flat record (document flags, duty texts, worker
// identity) with the decision-tree outcome. The caller is the source of
// truth for IsCompliant; the service surfaces but does not reject
// inconsistencies with the step booleans.
type Input struct {
	// Worker identity.
	WorkerName     string `json:"worker_name"`
	CoSReference   string `json:"cos_reference"`
	AssignmentDate string `json:"assignment_date"`
	JobTitle       string `json:"job_title"`
	SOCCode        string `json:"soc_code"`

	// Duty texts compared during extraction.
	CoSDuties            string `json:"cos_duties"`
	JobDescriptionDuties string `json:"job_description_duties"`

	// Decision-tree step results.
	Step1Pass bool `json:"step1_pass"`
	Step2Pass bool `json:"step2_pass"`
	Step3Pass bool `json:"step3_pass"`
	Step4Pass bool `json:"step4_pass"`
	Step5Pass bool `json:"step5_pass"`

	// Document presence flags from the extraction service.
	HasCV             bool `json:"has_cv"`
	HasPayslips       bool `json:"has_payslips"`
	HasRightToWork    bool `json:"has_right_to_work"`
	HasContract       bool `json:"has_contract"`
	HasJobDescription bool `json:"has_job_description"`
	HasTimesheets     bool `json:"has_timesheets"`

	// InconsistencyDescription is free text describing duty mismatches.
	InconsistencyDescription string `json:"inconsistency_description,omitempty"`

	// MissingDocs lists document names the sponsor failed to provide.
	MissingDocs []string `json:"missing_docs,omitempty"`

	// Overall outcome.
	IsCompliant bool      `json:"is_compliant"`
	RiskLevel   RiskLevel `json:"risk_level"`

	// Optional evidence context.
	Evidence   string `json:"evidence,omitempty"`
	BreachType string `json:"breach_type,omitempty"`

	// AgentType selects the domain prompt variant ("sponsor-compliance",
	// "right-to-work", ...).
	AgentType string `json:"agent_type,omitempty"`

	// TenantID selects the tenant AI configuration.
	TenantID string `json:"tenant_id,omitempty"`
}

// FailedSteps returns how many of the five decision-tree steps failed.
func (in *Input) FailedSteps() int {
	count := 0
	for _, pass := range in.StepResults() {
		if !pass {
			count++
		}
	}
	return count
}

// StepResults returns the five step outcomes in order.
func (in *Input) StepResults() [5]bool {
	return [5]bool{in.Step1Pass, in.Step2Pass, in.Step3Pass, in.Step4Pass, in.Step5Pass}
}

// StepsConsistent reports whether IsCompliant agrees with the step booleans:
// any failed step implies non-compliance.
func (in *Input) StepsConsistent() bool {
	if in.FailedSteps() > 0 && in.IsCompliant {
		return false
	}
	return true
}

// Signature projects the input onto its worker-independent decision
// signature.
func (in *Input) Signature() Signature {
	return Signature{
		Step1Pass:      in.Step1Pass,
		Step2Pass:      in.Step2Pass,
		Step3Pass:      in.Step3Pass,
		Step4Pass:      in.Step4Pass,
		Step5Pass:      in.Step5Pass,
		RiskLevel:      in.RiskLevel,
		HasMissingDocs: len(in.MissingDocs) > 0,
	}
}

// Signature is the canonical fingerprint of a compliance case. Two cases
// with identical signatures are cache-equivalent regardless of worker
// identity.
type Signature struct {
	Step1Pass      bool      `json:"step1_pass"`
	Step2Pass      bool      `json:"step2_pass"`
	Step3Pass      bool      `json:"step3_pass"`
	Step4Pass      bool      `json:"step4_pass"`
	Step5Pass      bool      `json:"step5_pass"`
	RiskLevel      RiskLevel `json:"risk_level"`
	HasMissingDocs bool      `json:"has_missing_docs"`
}

// Key serializes the signature deterministically with fixed field order.
// This is the cache key.
func (s Signature) Key() string {
	return fmt.Sprintf("s1=%t|s2=%t|s3=%t|s4=%t|s5=%t|risk=%s|missing=%t",
		s.Step1Pass, s.Step2Pass, s.Step3Pass, s.Step4Pass, s.Step5Pass,
		s.RiskLevel, s.HasMissingDocs)
}

// Audit is the immutable record of one generation attempt. Created once per
// call and written best-effort to the audit sink; never mutated.
type Audit struct {
	// ID uniquely identifies this generation.
	ID string `json:"id"`

	// Timestamp is when the generation completed.
	Timestamp time.Time `json:"timestamp"`

	// Input is the full generation input.
	Input Input `json:"input"`

	// Narrative is the output text returned to the caller.
	Narrative string `json:"narrative"`

	// Model names the remote model that produced the narrative, or
	// "cache-hit" / "template-fallback".
	Model string `json:"model"`

	// PromptVersion identifies the prompt template in use.
	PromptVersion string `json:"prompt_version"`

	// Duration is the end-to-end generation time.
	Duration time.Duration `json:"duration"`

	// TokensEstimated is the character-length/4 token estimate. Provider
	// usage reports are deliberately ignored so cost stays comparable
	// across heterogeneous providers.
	TokensEstimated int `json:"tokens_estimated"`

	// CostEstimated is the estimated spend in USD.
	CostEstimated float64 `json:"cost_estimated"`

	// ValidationPassed records whether the accepted narrative passed
	// validation. Always true for cache hits; the template fallback is
	// accepted without gating.
	ValidationPassed bool `json:"validation_passed"`

	// ValidationScore is the 0-100 quality score of the accepted narrative.
	ValidationScore int `json:"validation_score"`

	// FallbackUsed is true when the deterministic template produced the
	// narrative.
	FallbackUsed bool `json:"fallback_used"`

	// CacheHit is true when the narrative came from the cache.
	CacheHit bool `json:"cache_hit"`

	// TenantTone, TenantStyle, TenantStrictness and TenantRiskTolerance
	// snapshot the tenant configuration used for this generation.
	TenantTone          string `json:"tenant_tone"`
	TenantStyle         string `json:"tenant_style"`
	TenantStrictness    string `json:"tenant_strictness"`
	TenantRiskTolerance string `json:"tenant_risk_tolerance"`
}
