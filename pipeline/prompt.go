package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/llm"
	"github.com/veridoc/narrative/tenant"
)

// PromptVersion identifies the prompt template. Recorded in every audit so
// narrative quality can be correlated with prompt changes.
const PromptVersion = "v2.1"

// basePrompts holds the domain instruction block per agent type.
var basePrompts = map[string]string{
	"sponsor-compliance": "You are a UK sponsor-licence compliance officer writing a formal assessment narrative " +
		"for a sponsored worker case. Base the narrative strictly on the facts provided; never invent documents, " +
		"dates or findings. Write in the third person without contractions.",
	"right-to-work": "You are a UK right-to-work compliance officer writing a formal assessment narrative. " +
		"Base the narrative strictly on the facts provided; never invent checks or outcomes. " +
		"Write in the third person without contractions.",
}

// defaultAgentType is used when the input carries no or an unknown agent
// type tag.
const defaultAgentType = "sponsor-compliance"

// toneInstructions maps the tenant tone dial to prompt guidance.
var toneInstructions = map[tenant.Tone]string{
	tenant.ToneStrict:   "Adopt a strict tone: characterize every failure as serious and state consequences plainly.",
	tenant.ToneModerate: "Adopt a balanced tone: state failures clearly and proportionately.",
	tenant.ToneLenient:  "Adopt a measured tone: note failures factually and emphasize remediation.",
}

var styleInstructions = map[tenant.Style]string{
	tenant.StyleFormal:         "Use formal legal register throughout.",
	tenant.StyleProfessional:   "Use plain professional business English.",
	tenant.StyleConversational: "Use approachable but precise language.",
}

var strictnessInstructions = map[tenant.Strictness]string{
	tenant.StrictnessHigh:   "Apply the highest compliance threshold: flag every departure from the guidance.",
	tenant.StrictnessMedium: "Apply the standard compliance threshold.",
	tenant.StrictnessLow:    "Focus on material failures over administrative imperfections.",
}

var riskToleranceInstructions = map[tenant.RiskTolerance]string{
	tenant.RiskToleranceLow:    "Treat ambiguous evidence as adverse to the sponsor.",
	tenant.RiskToleranceMedium: "Weigh ambiguous evidence neutrally.",
	tenant.RiskToleranceHigh:   "Give the sponsor the benefit of the doubt on ambiguous evidence.",
}

// BuildPrompt assembles the tenant-adjusted generation prompt: the base
// domain prompt, the tone/style/strictness/risk instructions, the tenant's
// custom fragments (serialized in sorted order so prompts are
// deterministic), and the case facts.
func BuildPrompt(in *compliance.Input, cfg tenant.AIConfig) llm.Prompt {
	cfg = cfg.Normalize()

	agentType := in.AgentType
	base, ok := basePrompts[agentType]
	if !ok {
		base = basePrompts[defaultAgentType]
	}

	var system strings.Builder
	system.WriteString(base)
	system.WriteString("\n\n")
	system.WriteString(toneInstructions[cfg.Tone])
	system.WriteString(" ")
	system.WriteString(styleInstructions[cfg.Style])
	system.WriteString(" ")
	system.WriteString(strictnessInstructions[cfg.Strictness])
	system.WriteString(" ")
	system.WriteString(riskToleranceInstructions[cfg.RiskTolerance])

	if len(cfg.CustomPrompts) > 0 {
		names := make([]string, 0, len(cfg.CustomPrompts))
		for name := range cfg.CustomPrompts {
			names = append(names, name)
		}
		sort.Strings(names)

		system.WriteString("\n\nTenant instructions:")
		for _, name := range names {
			fmt.Fprintf(&system, "\n- %s: %s", name, cfg.CustomPrompts[name])
		}
	}

	system.WriteString("\n\nThe narrative must: name the worker and quote the CoS reference exactly; ")
	system.WriteString("cite the relevant sponsor-guidance paragraphs (for example C1.38); ")
	fmt.Fprintf(&system, "include a %q section listing Step 1 to Step 5 with ✅ or ❌ markers; ", "Decision Tree Summary")
	fmt.Fprintf(&system, "state the verdict verbatim as %q or %q; ", compliance.VerdictCompliant, compliance.VerdictBreach)
	system.WriteString("and run between 1000 and 5000 characters.")

	if in.RiskLevel == compliance.RiskHigh && !in.IsCompliant {
		system.WriteString(" This is a HIGH risk breach: cite the Annex C revocation grounds and state that immediate action is required.")
	}

	return llm.Prompt{
		System:  system.String(),
		User:    caseFacts(in),
		Version: PromptVersion,
	}
}

// caseFacts serializes the input as the user message.
func caseFacts(in *compliance.Input) string {
	var sb strings.Builder

	sb.WriteString("Case facts:\n")
	fmt.Fprintf(&sb, "Worker: %s\n", in.WorkerName)
	fmt.Fprintf(&sb, "CoS reference: %s\n", in.CoSReference)
	fmt.Fprintf(&sb, "Assignment date: %s\n", in.AssignmentDate)
	fmt.Fprintf(&sb, "Job title: %s (SOC %s)\n", in.JobTitle, in.SOCCode)

	sb.WriteString("Step results:\n")
	for i, pass := range in.StepResults() {
		outcome := "FAIL"
		if pass {
			outcome = "PASS"
		}
		fmt.Fprintf(&sb, "  Step %d: %s\n", i+1, outcome)
	}

	fmt.Fprintf(&sb, "Documents held: CV=%t payslips=%t right-to-work=%t contract=%t job-description=%t timesheets=%t\n",
		in.HasCV, in.HasPayslips, in.HasRightToWork, in.HasContract, in.HasJobDescription, in.HasTimesheets)

	if len(in.MissingDocs) > 0 {
		fmt.Fprintf(&sb, "Missing documents: %s\n", strings.Join(in.MissingDocs, ", "))
	}
	if in.InconsistencyDescription != "" {
		fmt.Fprintf(&sb, "Duty inconsistency: %s\n", in.InconsistencyDescription)
	}
	if in.CoSDuties != "" {
		fmt.Fprintf(&sb, "CoS duties: %s\n", in.CoSDuties)
	}
	if in.JobDescriptionDuties != "" {
		fmt.Fprintf(&sb, "Job description duties: %s\n", in.JobDescriptionDuties)
	}
	if in.Evidence != "" {
		fmt.Fprintf(&sb, "Evidence: %s\n", in.Evidence)
	}
	if in.BreachType != "" {
		fmt.Fprintf(&sb, "Breach type: %s\n", in.BreachType)
	}

	fmt.Fprintf(&sb, "Overall: compliant=%t risk=%s\n", in.IsCompliant, in.RiskLevel)

	return sb.String()
}
