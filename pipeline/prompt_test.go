package pipeline_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/pipeline"
	"github.com/veridoc/narrative/tenant"
)

func TestBuildPrompt_CaseFactsInUserMessage(t *testing.T) {
	in := breachInput()
	p := pipeline.BuildPrompt(in, tenant.DefaultConfig())

	assert.Equal(t, pipeline.PromptVersion, p.Version)
	assert.Contains(t, p.User, "Amira Hassan")
	assert.Contains(t, p.User, "COS-2025-0042")
	assert.Contains(t, p.User, "Step 1: FAIL")
	assert.Contains(t, p.User, "Step 2: PASS")
	assert.Contains(t, p.User, "Missing documents: Payslips")
	assert.Contains(t, p.User, "risk=MEDIUM")
}

func TestBuildPrompt_RequirementsNameVerdictsAndSummary(t *testing.T) {
	p := pipeline.BuildPrompt(breachInput(), tenant.DefaultConfig())

	assert.Contains(t, p.System, compliance.VerdictCompliant)
	assert.Contains(t, p.System, compliance.VerdictBreach)
	assert.Contains(t, p.System, "Decision Tree Summary")
	assert.Contains(t, p.System, "C1.38")
}

func TestBuildPrompt_HighRiskBreachAddsAnnexCInstruction(t *testing.T) {
	in := breachInput()
	in.RiskLevel = compliance.RiskHigh

	p := pipeline.BuildPrompt(in, tenant.DefaultConfig())
	assert.Contains(t, p.System, "Annex C")

	compliant := breachInput()
	compliant.RiskLevel = compliance.RiskHigh
	compliant.IsCompliant = true
	compliant.Step1Pass = true

	p = pipeline.BuildPrompt(compliant, tenant.DefaultConfig())
	assert.NotContains(t, p.System, "Annex C")
}

func TestBuildPrompt_TenantDialsChangeSystemPrompt(t *testing.T) {
	in := breachInput()

	strict := pipeline.BuildPrompt(in, tenant.AIConfig{
		Tone:       tenant.ToneStrict,
		Strictness: tenant.StrictnessHigh,
	})
	lenient := pipeline.BuildPrompt(in, tenant.AIConfig{
		Tone:       tenant.ToneLenient,
		Strictness: tenant.StrictnessLow,
	})

	assert.NotEqual(t, strict.System, lenient.System)
	assert.Contains(t, strict.System, "strict tone")
	assert.Contains(t, lenient.System, "measured tone")
}

func TestBuildPrompt_CustomFragmentsAreSortedAndDeterministic(t *testing.T) {
	cfg := tenant.DefaultConfig()
	cfg.CustomPrompts = map[string]string{
		"zeta":  "Always reference the sponsor licence number.",
		"alpha": "Open with the assessment date.",
	}

	in := breachInput()
	p := pipeline.BuildPrompt(in, cfg)

	alphaIdx := strings.Index(p.System, "alpha")
	zetaIdx := strings.Index(p.System, "zeta")
	assert.Greater(t, alphaIdx, -1)
	assert.Greater(t, zetaIdx, alphaIdx, "custom fragments must be serialized in sorted order")

	for i := 0; i < 5; i++ {
		assert.Equal(t, p, pipeline.BuildPrompt(in, cfg))
	}
}

func TestBuildPrompt_UnknownAgentTypeFallsBackToDefault(t *testing.T) {
	in := breachInput()
	in.AgentType = "unheard-of"

	p := pipeline.BuildPrompt(in, tenant.DefaultConfig())
	assert.Contains(t, p.System, "sponsor-licence compliance officer")

	in.AgentType = "right-to-work"
	p = pipeline.BuildPrompt(in, tenant.DefaultConfig())
	assert.Contains(t, p.System, "right-to-work compliance officer")
}
