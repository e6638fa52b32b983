package warnings

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Config parameterizes the built-in rules.
type Config struct {
	Statute            StatuteConfig                        `yaml:"statute_of_limitations"`
	ExpectedCategories map[string][]domain.DocumentCategory `yaml:"expected_categories"`
	Treatment          TreatmentConfig                      `yaml:"treatment"`
	Damages            DamagesConfig                        `yaml:"damages"`
}

type StatuteConfig struct {
	CriticalDays  int                     `yaml:"critical_days"`
	WarningDays   int                     `yaml:"warning_days"`
	Jurisdictions map[string]Jurisdiction `yaml:"jurisdictions"`
}

type Jurisdiction struct {
	Name  string `yaml:"name"`
	Years int    `yaml:"years"`
}

type TreatmentConfig struct {
	InitialDelayDays int `yaml:"initial_delay_days"`
}

type DamagesConfig struct {
	WagePeriodSlackDays int `yaml:"wage_period_slack_days"`
}

// DefaultConfig returns the embedded rule configuration.
func DefaultConfig() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultRulesYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded rule config: %v", err))
	}
	return cfg
}

// LoadConfig overlays the YAML file at path on the defaults. Map entries in
// the file replace entries with the same key; other entries are kept.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read rules config: %w", err)
	}
	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Config{}, fmt.Errorf("parse rules config: %w", err)
	}
	cfg.merge(override)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.Statute.CriticalDays > 0 {
		c.Statute.CriticalDays = o.Statute.CriticalDays
	}
	if o.Statute.WarningDays > 0 {
		c.Statute.WarningDays = o.Statute.WarningDays
	}
	for code, j := range o.Statute.Jurisdictions {
		c.Statute.Jurisdictions[strings.ToUpper(code)] = j
	}
	for incidentType, categories := range o.ExpectedCategories {
		c.ExpectedCategories[normalizeIncidentType(incidentType)] = categories
	}
	if o.Treatment.InitialDelayDays > 0 {
		c.Treatment.InitialDelayDays = o.Treatment.InitialDelayDays
	}
	if o.Damages.WagePeriodSlackDays > 0 {
		c.Damages.WagePeriodSlackDays = o.Damages.WagePeriodSlackDays
	}
}

func (c Config) Validate() error {
	if c.Statute.CriticalDays <= 0 || c.Statute.WarningDays <= c.Statute.CriticalDays {
		return domain.WrapError(domain.ErrInvalidInput, "validate rules config",
			fmt.Errorf("statute warning_days (%d) must exceed critical_days (%d) > 0", c.Statute.WarningDays, c.Statute.CriticalDays))
	}
	for code, j := range c.Statute.Jurisdictions {
		if j.Years <= 0 {
			return domain.WrapError(domain.ErrInvalidInput, "validate rules config", fmt.Errorf("jurisdiction %s: years must be positive", code))
		}
	}
	for incidentType, categories := range c.ExpectedCategories {
		for _, category := range categories {
			if !category.Valid() {
				return domain.WrapError(domain.ErrInvalidInput, "validate rules config",
					fmt.Errorf("incident type %s: unknown category %q", incidentType, category))
			}
		}
	}
	return nil
}

// LookupJurisdiction matches a state code or full name, case-insensitively.
func (c Config) LookupJurisdiction(raw string) (Jurisdiction, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if key == "" {
		return Jurisdiction{}, false
	}
	if j, ok := c.Statute.Jurisdictions[key]; ok {
		return j, true
	}
	for _, j := range c.Statute.Jurisdictions {
		if strings.EqualFold(j.Name, key) {
			return j, true
		}
	}
	return Jurisdiction{}, false
}

func normalizeIncidentType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_", "&", "and").Replace(s)
	return s
}
