// Package config defines the data structures related to configuration and
// includes functions for loading and validating the config.
package config

import (
	"fmt"
	"io"
	"sort"

	"github.com/promopilot/promopilot/internal/policy"
	"github.com/promopilot/promopilot/pkg/constants"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for promopilot.
type Configuration struct {
	Objectives  []Objective
	Assumptions Assumptions
	Artifacts   ArtifactsConfig `yaml:"artifacts,omitempty"`
	Logging     LoggingConfig   `yaml:"logging,omitempty"`
	Output      OutputConfig    `yaml:"output,omitempty"`
}

// Objective describes one product variant of the decision engine as data:
// which outcome metrics the utility combines, which metric is charted, how
// the population is segmented, and which treatment levels exist. Near
// identical variants (discount tiers vs guardrail strictness) differ only in
// this structure, never in engine code.
type Objective struct {
	Name             string
	PrimaryMetric    string             `yaml:"primaryMetric"`
	Weights          map[string]float64 `yaml:"weights"`
	SegmentDimension string             `yaml:"segmentDimension"`
	LevelSet         []int              `yaml:"levelSet,omitempty"`
	UnitLabel        string             `yaml:"unitLabel,omitempty"`
}

// Assumptions holds the external business assumptions decisions are scaled
// against.
type Assumptions struct {
	LevelCap      int     `yaml:"levelCap"`
	ScalingFactor float64 `yaml:"scalingFactor"`
	PerUnit       float64 `yaml:"perUnit,omitempty"`
	AnnualWeeks   float64 `yaml:"annualWeeks,omitempty"`
}

// ArtifactsConfig locates the estimation artifacts and controls their cache.
type ArtifactsConfig struct {
	Dir      string `yaml:"dir,omitempty"`
	CacheTTL string `yaml:"cacheTtl,omitempty"` // Go duration string, empty disables expiry
	Watch    bool   `yaml:"watch,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv, json
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()

	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	return unmarshalConfiguration(v)
}

// LoadConfigurationFromReader loads YAML configuration from an arbitrary
// reader, e.g. an uploaded document.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yml")

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config data, %s", err)
	}

	return unmarshalConfiguration(v)
}

func unmarshalConfiguration(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	configuration.applyDefaults()
	return &configuration, nil
}

func (c *Configuration) applyDefaults() {
	if c.Assumptions.PerUnit == 0 {
		c.Assumptions.PerUnit = constants.DefaultPerUnit
	}
	if c.Assumptions.AnnualWeeks == 0 {
		c.Assumptions.AnnualWeeks = constants.AnnualWeeks
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = constants.DefaultArtifactDir
	}
	for i := range c.Objectives {
		if len(c.Objectives[i].LevelSet) == 0 {
			c.Objectives[i].LevelSet = append([]int(nil), constants.DefaultLevelSet...)
		}
		if c.Objectives[i].UnitLabel == "" {
			c.Objectives[i].UnitLabel = fmt.Sprintf("per %.0f observations", c.Assumptions.PerUnit)
		}
	}
}

// Objective returns the named objective configuration.
func (c *Configuration) Objective(name string) (Objective, bool) {
	for _, o := range c.Objectives {
		if o.Name == name {
			return o, true
		}
	}
	return Objective{}, false
}

// ObjectiveNames returns the configured objective names in lexicographic order.
func (c *Configuration) ObjectiveNames() []string {
	names := make([]string, 0, len(c.Objectives))
	for _, o := range c.Objectives {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}

// EngineAssumptions converts the configured assumptions and one objective's
// weights into the form the policy engine consumes.
func (c *Configuration) EngineAssumptions(o Objective) policy.Assumptions {
	return policy.Assumptions{
		LevelCap:      c.Assumptions.LevelCap,
		ScalingFactor: c.Assumptions.ScalingFactor,
		PerUnit:       c.Assumptions.PerUnit,
		AnnualWeeks:   c.Assumptions.AnnualWeeks,
		Weights:       policy.Weights(o.Weights),
	}
}

// ValidateConfiguration performs general validation of the configuration and
// returns warnings for conditions that do not prevent a run. Hard failures
// (no objectives, broken weights, non-positive conversion factors) surface
// as errors.
func (c *Configuration) ValidateConfiguration() ([]string, error) {
	var warnings []string

	if len(c.Objectives) == 0 {
		return nil, fmt.Errorf("%w: at least one objective must be configured", policy.ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(c.Objectives))
	for _, o := range c.Objectives {
		if o.Name == "" {
			return nil, fmt.Errorf("%w: objective with empty name", policy.ErrConfiguration)
		}
		if _, dup := seen[o.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate objective %q", policy.ErrConfiguration, o.Name)
		}
		seen[o.Name] = struct{}{}

		if len(o.Weights) == 0 {
			return nil, fmt.Errorf("%w: objective %q has no utility weights", policy.ErrConfiguration, o.Name)
		}
		if o.PrimaryMetric == "" {
			return nil, fmt.Errorf("%w: objective %q has no primary metric", policy.ErrConfiguration, o.Name)
		}
		if _, ok := o.Weights[o.PrimaryMetric]; !ok {
			warnings = append(warnings, fmt.Sprintf("Objective '%s' primary metric '%s' carries no utility weight", o.Name, o.PrimaryMetric))
		}

		if !levelInSet(c.Assumptions.LevelCap, o.LevelSet) {
			warnings = append(warnings, fmt.Sprintf("Objective '%s' level cap %d is not itself a configured treatment level", o.Name, c.Assumptions.LevelCap))
		}
		if c.Assumptions.LevelCap < minLevel(o.LevelSet) {
			warnings = append(warnings, fmt.Sprintf("Objective '%s' level cap %d excludes every configured treatment level", o.Name, c.Assumptions.LevelCap))
		}
	}

	if err := c.EngineAssumptions(c.Objectives[0]).Validate(); err != nil {
		return nil, err
	}

	return warnings, nil
}

func levelInSet(level int, set []int) bool {
	for _, l := range set {
		if l == level {
			return true
		}
	}
	return false
}

func minLevel(set []int) int {
	if len(set) == 0 {
		return 0
	}
	min := set[0]
	for _, l := range set[1:] {
		if l < min {
			min = l
		}
	}
	return min
}
