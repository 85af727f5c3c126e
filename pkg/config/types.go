package config

// RankingMethod selects the Aggregator's primary ordering algorithm.
type RankingMethod string

const (
	RankingMethodBorda   RankingMethod = "borda"
	RankingMethodSchulze RankingMethod = "schulze"
)

// IsValid reports whether m is one of the known ranking methods.
func (m RankingMethod) IsValid() bool {
	return m == RankingMethodBorda || m == RankingMethodSchulze
}

// ChainConfig is the per-session-shape configuration surface enumerated in
// the deliberation call contract: everything a caller may set besides the
// query text itself.
type ChainConfig struct {
	Name                 string        `yaml:"name" validate:"required"`
	RankingMethod        RankingMethod `yaml:"ranking_method,omitempty"`
	ExcludeSelfVotes     *bool         `yaml:"exclude_self_votes,omitempty"`
	StyleNormalization   bool          `yaml:"style_normalization,omitempty"`
	MaxReviewers         int           `yaml:"max_reviewers,omitempty" validate:"omitempty,min=1"`
	PositionRandom       *bool         `yaml:"position_randomization,omitempty"`
	Offline              bool          `yaml:"offline,omitempty"`
	ModelIntelligence    bool          `yaml:"model_intelligence_enabled,omitempty"`
	StageBudget          StageBudget   `yaml:"stage_budget,omitempty"`
	PerCallDeadlineCeilingMS int       `yaml:"per_call_deadline_ceiling_ms,omitempty"`
}

// StageBudget is the fraction of remaining query time allotted to each
// stage; the three fields should sum to 1.0 but this is not enforced so a
// caller can intentionally under-allocate and leave slack.
type StageBudget struct {
	Stage1 float64 `yaml:"stage1,omitempty"`
	Stage2 float64 `yaml:"stage2,omitempty"`
	Stage3 float64 `yaml:"stage3,omitempty"`
}

// DefaultStageBudget matches the 60/25/15 split from the concurrency model.
var DefaultStageBudget = StageBudget{Stage1: 0.60, Stage2: 0.25, Stage3: 0.15}

// ExcludeSelfVotesOrDefault returns the configured value or the documented
// default of true when unset.
func (c *ChainConfig) ExcludeSelfVotesOrDefault() bool {
	if c.ExcludeSelfVotes == nil {
		return true
	}
	return *c.ExcludeSelfVotes
}

// PositionRandomOrDefault returns the configured value or the documented
// default of true when unset.
func (c *ChainConfig) PositionRandomOrDefault() bool {
	if c.PositionRandom == nil {
		return true
	}
	return *c.PositionRandom
}

// RankingMethodOrDefault returns the configured method, or "borda" when
// none is set or the configured one is not valid.
func (c *ChainConfig) RankingMethodOrDefault() RankingMethod {
	if c.RankingMethod.IsValid() {
		return c.RankingMethod
	}
	return RankingMethodBorda
}

// ModelManifestEntry is the static registry manifest's on-disk shape for one
// model descriptor.
type ModelManifestEntry struct {
	ModelID         string   `yaml:"model_id" validate:"required"`
	Provider        string   `yaml:"provider" validate:"required"`
	Tier            string   `yaml:"tier" validate:"required"`
	ContextWindow   int      `yaml:"context_window" validate:"required,min=1"`
	PricePerInputTk float64  `yaml:"price_per_input_token"`
	PricePerOutTk   float64  `yaml:"price_per_output_token"`
	QualityScore    float64  `yaml:"quality_score" validate:"min=0,max=1"`
	Capabilities    []string `yaml:"capabilities,omitempty"`
	HardwareProfile string   `yaml:"hardware_profile,omitempty"`
}

// Manifest is the root document of the registry's static YAML manifest.
type Manifest struct {
	Models []ModelManifestEntry `yaml:"models" validate:"required,min=1,dive"`
	Chains []ChainConfig        `yaml:"chains,omitempty"`
}
