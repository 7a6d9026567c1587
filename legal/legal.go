// Package legal provides the static lookup table of sponsor-guidance
// citation codes used in compliance narratives. Pure data, no logic.
package legal

// GuidanceVersion identifies the edition of the Workers and Temporary
// Workers sponsor guidance the citation table was compiled from.
const GuidanceVersion = "04/2025"

// Citation codes referenced by the narrative pipeline.
const (
	// CodeFailureToProvideDocuments is cited when the sponsor failed to
	// provide required documents.
	CodeFailureToProvideDocuments = "C1.38"

	// CodeRecordKeeping covers Appendix D record-keeping duties.
	CodeRecordKeeping = "C1.19"

	// CodeGenuineVacancy covers the genuine-vacancy requirement.
	CodeGenuineVacancy = "S1.30"

	// CodeAnnexC1 is the Annex C ground for licence revocation.
	CodeAnnexC1 = "Annex C1"

	// CodeAnnexC2 is the Annex C discretionary revocation ground.
	CodeAnnexC2 = "Annex C2"
)

// Reference describes a single guidance citation.
type Reference struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// references maps citation codes to their descriptions.
var references = map[string]Reference{
	CodeFailureToProvideDocuments: {
		Code:        CodeFailureToProvideDocuments,
		Description: "failure to provide documents or information requested within the specified time limit",
	},
	CodeRecordKeeping: {
		Code:        CodeRecordKeeping,
		Description: "failure to comply with Appendix D record-keeping duties",
	},
	CodeGenuineVacancy: {
		Code:        CodeGenuineVacancy,
		Description: "the role does not meet the genuine-vacancy requirement",
	},
	CodeAnnexC1: {
		Code:        CodeAnnexC1,
		Description: "mandatory grounds for licence revocation",
	},
	CodeAnnexC2: {
		Code:        CodeAnnexC2,
		Description: "discretionary grounds for licence revocation",
	},
}

// Lookup returns the reference for a citation code.
func Lookup(code string) (Reference, bool) {
	ref, ok := references[code]
	return ref, ok
}

// Codes returns all known citation codes.
func Codes() []string {
	codes := make([]string, 0, len(references))
	for code := range references {
		codes = append(codes, code)
	}
	return codes
}
