// Package validate scores finished compliance narratives against
// required-content rules derived from the generation input. Validation is a
// pure function of the narrative and the input; it gates acceptance of
// remote-model candidates and of personalized cache hits.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/veridoc/narrative/compliance"
)

// Pass thresholds. A narrative is valid when it has no hard errors and its
// score meets the threshold; HIGH-risk cases are held to the stricter bar.
const (
	PassThreshold         = 70
	HighRiskPassThreshold = 80
)

// Score penalties.
const (
	penaltyMissingWorkerName = 20
	penaltyMissingCoSRef     = 20
	penaltyMissingVerdict    = 20
	penaltyMissingCitation   = 15
	penaltyMissingSummary    = 10
	penaltyMissingAnnexC     = 15
	penaltyLengthOutlier     = 5
	penaltyStepMismatch      = 3
	penaltyHedging           = 2
	penaltyMissingUrgency    = 5
)

// Narrative length bounds outside of which a soft warning applies.
const (
	minNarrativeLength = 1000
	maxNarrativeLength = 5000
)

// SummaryMarker is the decision-tree section heading every narrative must
// carry.
const SummaryMarker = "Decision Tree Summary"

// stepWindow is how far past a step label the indicator heuristic scans.
const stepWindow = 80

// citationPattern matches legal-paragraph-shaped citations such as C1.38.
var citationPattern = regexp.MustCompile(`[A-Za-z]\d+\.\d+`)

// urgencyPattern matches the urgency phrasing required for non-compliant
// HIGH-risk narratives.
var urgencyPattern = regexp.MustCompile(`(?i)\b(immediate(ly)?|urgent(ly)?|without delay)\b`)

// hedgingPatterns are informal or opinionated phrasings penalized in
// published assessments.
var hedgingPatterns = []string{
	"I think", "I believe", "I feel", "in my opinion",
	"maybe", "perhaps",
	"don't", "can't", "won't", "isn't", "aren't", "doesn't", "didn't",
	"it's", "that's", "there's",
}

// passIndicators and failIndicators are accepted step-outcome markers.
var (
	passIndicators = []string{"✅", "Yes", "Pass"}
	failIndicators = []string{"❌", "No", "Fail"}
)

// Result holds the outcome of validating one narrative.
type Result struct {
	// Valid is true when there are no hard errors and the score meets the
	// applicable threshold.
	Valid bool `json:"valid"`

	// Score is the 0-100 quality score.
	Score int `json:"score"`

	// Errors lists hard failures. Any entry forces Valid=false.
	Errors []string `json:"errors,omitempty"`

	// Warnings lists soft quality issues that only cost score.
	Warnings []string `json:"warnings,omitempty"`
}

// Validate scores a narrative against the base required-content rules.
func Validate(narrative string, in *compliance.Input) Result {
	res := baseValidate(narrative, in)
	res.Valid = len(res.Errors) == 0 && res.Score >= PassThreshold
	return res
}

// ValidateHighRisk runs the base validation plus the stricter HIGH-risk
// rules: a non-compliant case must cite Annex C (hard error) and should
// carry urgency phrasing (warning). The pass threshold rises to 80.
func ValidateHighRisk(narrative string, in *compliance.Input) Result {
	res := baseValidate(narrative, in)

	if !in.IsCompliant {
		if !strings.Contains(narrative, "Annex C") {
			res.Errors = append(res.Errors, "high-risk breach narrative must cite Annex C")
			res.Score -= penaltyMissingAnnexC
		}
		if !urgencyPattern.MatchString(narrative) {
			res.Warnings = append(res.Warnings, "high-risk breach narrative lacks urgency phrasing")
			res.Score -= penaltyMissingUrgency
		}
	}

	res.Score = clamp(res.Score)
	res.Valid = len(res.Errors) == 0 && res.Score >= HighRiskPassThreshold
	return res
}

// ForRisk returns the validator appropriate for the input's risk level.
func ForRisk(level compliance.RiskLevel) func(string, *compliance.Input) Result {
	if level == compliance.RiskHigh {
		return ValidateHighRisk
	}
	return Validate
}

// baseValidate applies the shared hard and soft checks. Score is clamped,
// Valid is left for the caller to derive against its threshold.
func baseValidate(narrative string, in *compliance.Input) Result {
	var res Result
	res.Score = 100

	// Hard checks: each failure records an error and costs score.
	if in.WorkerName != "" && !strings.Contains(narrative, in.WorkerName) {
		res.Errors = append(res.Errors, fmt.Sprintf("narrative does not name the worker %q", in.WorkerName))
		res.Score -= penaltyMissingWorkerName
	}
	if in.CoSReference != "" && !strings.Contains(narrative, in.CoSReference) {
		res.Errors = append(res.Errors, fmt.Sprintf("narrative does not cite CoS reference %q", in.CoSReference))
		res.Score -= penaltyMissingCoSRef
	}
	if !citationPattern.MatchString(narrative) {
		res.Errors = append(res.Errors, "narrative contains no guidance paragraph citation")
		res.Score -= penaltyMissingCitation
	}
	verdict := compliance.VerdictBreach
	if in.IsCompliant {
		verdict = compliance.VerdictCompliant
	}
	if !strings.Contains(narrative, verdict) {
		res.Errors = append(res.Errors, fmt.Sprintf("narrative does not state the %s verdict", verdict))
		res.Score -= penaltyMissingVerdict
	}
	if !strings.Contains(narrative, SummaryMarker) {
		res.Errors = append(res.Errors, "narrative has no decision tree summary section")
		res.Score -= penaltyMissingSummary
	}

	// Soft checks: score only.
	if len(narrative) < minNarrativeLength {
		res.Warnings = append(res.Warnings, fmt.Sprintf("narrative is short (%d chars, expected at least %d)", len(narrative), minNarrativeLength))
		res.Score -= penaltyLengthOutlier
	}
	if len(narrative) > maxNarrativeLength {
		res.Warnings = append(res.Warnings, fmt.Sprintf("narrative is long (%d chars, expected at most %d)", len(narrative), maxNarrativeLength))
		res.Score -= penaltyLengthOutlier
	}

	res = checkStepIndicators(narrative, in, res)
	res = checkHedging(narrative, res)

	res.Score = clamp(res.Score)
	return res
}

// checkStepIndicators scans a fixed window after each step label for a
// pass or fail marker matching the recorded outcome. This is a heuristic:
// repeated or reordered labels make it unreliable, so a mismatch is only
// ever a warning.
func checkStepIndicators(narrative string, in *compliance.Input, res Result) Result {
	for i, passed := range in.StepResults() {
		label := fmt.Sprintf("Step %d", i+1)
		idx := strings.Index(narrative, label)
		if idx < 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s is not mentioned", label))
			res.Score -= penaltyStepMismatch
			continue
		}

		end := idx + len(label) + stepWindow
		if end > len(narrative) {
			end = len(narrative)
		}
		window := narrative[idx:end]

		expected := failIndicators
		if passed {
			expected = passIndicators
		}
		if !containsAny(window, expected) {
			outcome := "fail"
			if passed {
				outcome = "pass"
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s outcome marker does not indicate %s", label, outcome))
			res.Score -= penaltyStepMismatch
		}
	}
	return res
}

// checkHedging penalizes first-person opinion phrasing, speculation words
// and contractions.
func checkHedging(narrative string, res Result) Result {
	for _, pattern := range hedgingPatterns {
		if strings.Contains(narrative, pattern) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("informal or hedging language: %q", pattern))
			res.Score -= penaltyHedging
		}
	}
	return res
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
