// Package tenant provides per-tenant narrative AI configuration: four
// enumerated dials plus optional custom prompt fragments, loaded read-only
// at generation time.
package tenant

// Tone controls how severely the narrative frames concerns.
type Tone string

const (
	ToneStrict   Tone = "strict"
	ToneModerate Tone = "moderate"
	ToneLenient  Tone = "lenient"
)

// Style controls the narrative register.
type Style string

const (
	StyleFormal         Style = "formal"
	StyleProfessional   Style = "professional"
	StyleConversational Style = "conversational"
)

// Strictness controls how aggressively findings are escalated.
type Strictness string

const (
	StrictnessHigh   Strictness = "high"
	StrictnessMedium Strictness = "medium"
	StrictnessLow    Strictness = "low"
)

// RiskTolerance controls how much benefit of the doubt the narrative gives.
type RiskTolerance string

const (
	RiskToleranceLow    RiskTolerance = "low"
	RiskToleranceMedium RiskTolerance = "medium"
	RiskToleranceHigh   RiskTolerance = "high"
)

// AIConfig holds a tenant's narrative generation settings. Zero values are
// replaced by defaults via Normalize.
type AIConfig struct {
	Tone          Tone          `yaml:"ai_tone" json:"ai_tone"`
	Style         Style         `yaml:"narrative_style" json:"narrative_style"`
	Strictness    Strictness    `yaml:"compliance_strictness" json:"compliance_strictness"`
	RiskTolerance RiskTolerance `yaml:"risk_tolerance" json:"risk_tolerance"`

	// CustomPrompts holds optional tenant prompt fragments appended to the
	// generation prompt, keyed by fragment name.
	CustomPrompts map[string]string `yaml:"custom_prompts,omitempty" json:"custom_prompts,omitempty"`
}

// DefaultConfig returns the built-in configuration used when a tenant has
// no settings or the store is unavailable.
func DefaultConfig() AIConfig {
	return AIConfig{
		Tone:          ToneModerate,
		Style:         StyleProfessional,
		Strictness:    StrictnessMedium,
		RiskTolerance: RiskToleranceMedium,
	}
}

// Normalize fills unrecognized or absent dials with defaults and returns
// the result. The receiver is not modified.
func (c AIConfig) Normalize() AIConfig {
	switch c.Tone {
	case ToneStrict, ToneModerate, ToneLenient:
	default:
		c.Tone = ToneModerate
	}
	switch c.Style {
	case StyleFormal, StyleProfessional, StyleConversational:
	default:
		c.Style = StyleProfessional
	}
	switch c.Strictness {
	case StrictnessHigh, StrictnessMedium, StrictnessLow:
	default:
		c.Strictness = StrictnessMedium
	}
	switch c.RiskTolerance {
	case RiskToleranceLow, RiskToleranceMedium, RiskToleranceHigh:
	default:
		c.RiskTolerance = RiskToleranceMedium
	}
	return c
}
