// Package compose implements the deterministic template narrative builder:
// a rule-based prose assembler driven by the decision signature and tenant
// tone settings. It is the last-resort fallback of the generation pipeline,
// so it is total: it never fails and never returns an empty string.
package compose

import (
	"fmt"
	"strings"

	"github.com/veridoc/narrative/compliance"
	"github.com/veridoc/narrative/legal"
	"github.com/veridoc/narrative/tenant"
)

// toneProfile carries the tone-dependent vocabulary.
type toneProfile struct {
	concern  string // how worried the opening sounds
	severity string // how a breach is characterized
}

// styleProfile carries the style-dependent evidence phrasing.
type styleProfile struct {
	evidencePhrase string
}

// Fixed lookup tables; unrecognized or absent dials fall back to the
// moderate/professional rows.
var toneProfiles = map[tenant.Tone]toneProfile{
	tenant.ToneStrict:   {concern: "serious", severity: "a grave and unacceptable failure"},
	tenant.ToneModerate: {concern: "significant", severity: "a significant failure"},
	tenant.ToneLenient:  {concern: "potential", severity: "an apparent shortfall"},
}

var styleProfiles = map[tenant.Style]styleProfile{
	tenant.StyleFormal:         {evidencePhrase: "The documentary evidence before this assessment demonstrates"},
	tenant.StyleProfessional:   {evidencePhrase: "The evidence reviewed shows"},
	tenant.StyleConversational: {evidencePhrase: "Looking at the evidence provided, it shows"},
}

// Builder assembles fixed-structure compliance narratives.
type Builder struct{}

// NewBuilder creates a template narrative builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build produces a complete narrative for the input under the tenant's tone
// and style settings. Identical arguments always produce identical output.
func (b *Builder) Build(in *compliance.Input, cfg tenant.AIConfig) string {
	cfg = cfg.Normalize()
	tone := toneProfiles[cfg.Tone]
	style := styleProfiles[cfg.Style]

	worker := in.WorkerName
	if worker == "" {
		worker = "the sponsored worker"
	}

	var sb strings.Builder

	sb.WriteString(b.opening(in, worker, tone))
	sb.WriteString("\n\n")

	if len(in.MissingDocs) > 0 {
		sb.WriteString(b.missingDocuments(in, tone))
		sb.WriteString("\n\n")
	}

	sb.WriteString(b.detailedAssessment(in, worker, tone, style, cfg.Strictness))
	sb.WriteString("\n\n")

	sb.WriteString(b.decisionSummary(in))
	sb.WriteString("\n\n")

	sb.WriteString(b.verdict(in, worker, tone))

	return sb.String()
}

// opening names the role and asserts the tone-appropriate level of concern.
func (b *Builder) opening(in *compliance.Input, worker string, tone toneProfile) string {
	var sb strings.Builder

	fmt.Fprintf(&sb,
		"This assessment concerns %s, sponsored under Certificate of Sponsorship %s as %s (SOC code %s), with an assignment date of %s. ",
		worker, orUnknown(in.CoSReference), orUnknown(in.JobTitle), orUnknown(in.SOCCode), orUnknown(in.AssignmentDate))

	if in.IsCompliant {
		fmt.Fprintf(&sb,
			"The compliance review of the sponsorship records for this worker has been completed against the Workers and Temporary Workers sponsor guidance (version %s), including the record-keeping duties at paragraph %s.",
			legal.GuidanceVersion, legal.CodeRecordKeeping)
	} else {
		fmt.Fprintf(&sb,
			"The compliance review of the sponsorship records for this worker has identified matters of %s concern against the Workers and Temporary Workers sponsor guidance (version %s), including the record-keeping duties at paragraph %s.",
			tone.concern, legal.GuidanceVersion, legal.CodeRecordKeeping)
	}

	return sb.String()
}

// missingDocuments lists the documents the sponsor failed to provide and
// cites the failure-to-provide guidance paragraph.
func (b *Builder) missingDocuments(in *compliance.Input, tone toneProfile) string {
	ref, _ := legal.Lookup(legal.CodeFailureToProvideDocuments)

	var sb strings.Builder
	fmt.Fprintf(&sb,
		"The following requested documents were not provided: %s. ",
		strings.Join(in.MissingDocs, ", "))
	fmt.Fprintf(&sb,
		"Under paragraph %s of the sponsor guidance (%s), this constitutes %s of the sponsor's duties in its own right.",
		ref.Code, ref.Description, tone.severity)

	return sb.String()
}

// detailedAssessment escalates its wording on the number of failed steps,
// further modulated by the tenant's compliance strictness.
func (b *Builder) detailedAssessment(in *compliance.Input, worker string, tone toneProfile, style styleProfile, strictness tenant.Strictness) string {
	failed := in.FailedSteps()

	var sb strings.Builder
	sb.WriteString("Detailed Assessment: ")

	switch {
	case failed >= 3:
		fmt.Fprintf(&sb,
			"%s critical failures across %d of the five assessment steps. The pattern of non-compliance is systemic rather than isolated, and the sponsorship of %s cannot be regarded as being managed in accordance with the sponsor's duties.",
			style.evidencePhrase, failed, worker)
	case failed == 2:
		fmt.Fprintf(&sb,
			"%s significant failures in %d of the five assessment steps. Taken together these represent a moderate but material departure from the record-keeping and monitoring duties attached to the licence.",
			style.evidencePhrase, failed)
	case failed == 1:
		fmt.Fprintf(&sb,
			"%s a minor failure in one of the five assessment steps. In isolation this is %s, and remedial action should be straightforward.",
			style.evidencePhrase, tone.severity)
	default:
		fmt.Fprintf(&sb,
			"%s that all five assessment steps were passed. The sponsorship records for %s are maintained to the standard the guidance requires.",
			style.evidencePhrase, worker)
	}

	switch strictness {
	case tenant.StrictnessHigh:
		sb.WriteString(" Applying the high compliance threshold configured for this assessment, any departure from the guidance, however small, must be recorded and remediated before the next reporting cycle.")
	case tenant.StrictnessLow:
		sb.WriteString(" Applying the proportionate compliance threshold configured for this assessment, emphasis is placed on material failures over administrative imperfections.")
	default:
		sb.WriteString(" The standard compliance threshold has been applied to this assessment.")
	}

	if in.InconsistencyDescription != "" {
		fmt.Fprintf(&sb,
			" An inconsistency was identified between the duties stated on the Certificate of Sponsorship and the duties described in the supporting documentation: %s.",
			in.InconsistencyDescription)
	}
	if in.Evidence != "" {
		fmt.Fprintf(&sb, " Supporting evidence: %s.", in.Evidence)
	}

	return sb.String()
}

// decisionSummary renders the per-step outcome table the validator expects.
func (b *Builder) decisionSummary(in *compliance.Input) string {
	labels := [5]string{
		"Right to work and identity verification",
		"Certificate of Sponsorship accuracy",
		"Salary and payment compliance",
		"Role and duties alignment",
		"Record-keeping and reporting duties",
	}

	var sb strings.Builder
	sb.WriteString(validatedSummaryMarker + ":\n")
	for i, passed := range in.StepResults() {
		marker := "❌ Fail"
		if passed {
			marker = "✅ Pass"
		}
		fmt.Fprintf(&sb, "Step %d: %s — %s\n", i+1, marker, labels[i])
	}

	return strings.TrimRight(sb.String(), "\n")
}

// validatedSummaryMarker must match validate.SummaryMarker.
const validatedSummaryMarker = "Decision Tree Summary"

// verdict states the final outcome, escalating HIGH-risk breaches with the
// Annex C revocation grounds and urgency phrasing.
func (b *Builder) verdict(in *compliance.Input, worker string, tone toneProfile) string {
	var sb strings.Builder

	if in.IsCompliant {
		fmt.Fprintf(&sb,
			"Overall Finding: %s. The sponsorship of %s meets the requirements of the guidance and no further action is required at this time.",
			compliance.VerdictCompliant, worker)
		return sb.String()
	}

	fmt.Fprintf(&sb,
		"Overall Finding: %s. The failures identified amount to %s of the sponsor's duties in respect of %s",
		compliance.VerdictBreach, tone.severity, worker)
	if in.BreachType != "" {
		fmt.Fprintf(&sb, " (breach category: %s)", in.BreachType)
	}
	sb.WriteString(". ")

	if in.RiskLevel == compliance.RiskHigh {
		annexC1, _ := legal.Lookup(legal.CodeAnnexC1)
		fmt.Fprintf(&sb,
			"Given the HIGH risk classification, the findings engage %s (%s) and immediate remedial action is required without delay.",
			annexC1.Code, annexC1.Description)
	} else {
		sb.WriteString("Remedial action should be taken before the next compliance review.")
	}

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "[not recorded]"
	}
	return s
}
