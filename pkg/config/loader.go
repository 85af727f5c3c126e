package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/deliberation-engine/council/pkg/council"
)

// Config is the umbrella object returned by Load, bundling the chain
// registry and the static model descriptors parsed from the manifest.
type Config struct {
	configDir     string
	ChainRegistry *ChainRegistry
	Models        []council.ModelDescriptor
}

// ConfigDir returns the directory the manifest was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats reports counts useful for a health/status endpoint.
type Stats struct {
	Chains int
	Models int
}

// Stats returns summary counts over the loaded configuration.
func (c *Config) Stats() Stats {
	return Stats{Chains: c.ChainRegistry.Len(), Models: len(c.Models)}
}

// Load reads manifest.yaml from configDir, expands environment references,
// validates it, and builds the Config. Mirrors the teacher's
// load-then-expand-then-validate pipeline.
func Load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "manifest.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	var manifest Manifest
	if err := yaml.Unmarshal(expanded, &manifest); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, err
	}

	models := make([]council.ModelDescriptor, 0, len(manifest.Models))
	for _, m := range manifest.Models {
		tier, ok := council.ParseTier(m.Tier)
		if !ok {
			return nil, NewValidationError("model", m.ModelID, "tier", fmt.Errorf("%w: %s", ErrInvalidValue, m.Tier))
		}
		caps := make(map[string]struct{}, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps[c] = struct{}{}
		}
		models = append(models, council.ModelDescriptor{
			ModelID:         m.ModelID,
			Provider:        m.Provider,
			Tier:            tier,
			ContextWindow:   m.ContextWindow,
			PricePerInputTk: m.PricePerInputTk,
			PricePerOutTk:   m.PricePerOutTk,
			QualityScore:    m.QualityScore,
			Capabilities:    caps,
			HardwareProfile: m.HardwareProfile,
			Available:       true,
		})
	}

	chains := make(map[string]*ChainConfig, len(manifest.Chains))
	for i := range manifest.Chains {
		c := manifest.Chains[i]
		chains[c.Name] = &c
	}
	if _, ok := chains["default"]; !ok {
		chains["default"] = &ChainConfig{Name: "default", StageBudget: DefaultStageBudget}
	}

	return &Config{
		configDir:     configDir,
		ChainRegistry: NewChainRegistry(chains),
		Models:        models,
	}, nil
}

// validateManifest applies the manifest's hand-rolled checks: at least one
// model, every model id present and unique, quality scores in [0,1], every
// chain named, and any configured ranking method valid. Struct tags are
// not evaluated, and chain stage budgets are not checked.
func validateManifest(m *Manifest) error {
	if len(m.Models) == 0 {
		return fmt.Errorf("%w: models", ErrMissingRequiredField)
	}
	seen := make(map[string]struct{}, len(m.Models))
	for _, model := range m.Models {
		if model.ModelID == "" {
			return NewValidationError("model", "", "model_id", ErrMissingRequiredField)
		}
		if _, dup := seen[model.ModelID]; dup {
			return NewValidationError("model", model.ModelID, "model_id", fmt.Errorf("duplicate model id"))
		}
		seen[model.ModelID] = struct{}{}
		if model.QualityScore < 0 || model.QualityScore > 1 {
			return NewValidationError("model", model.ModelID, "quality_score", ErrInvalidValue)
		}
	}
	for _, chain := range m.Chains {
		if chain.Name == "" {
			return NewValidationError("chain", "", "name", ErrMissingRequiredField)
		}
		if chain.RankingMethod != "" && !chain.RankingMethod.IsValid() {
			return NewValidationError("chain", chain.Name, "ranking_method", ErrInvalidValue)
		}
	}
	return nil
}
