// Package config holds the slipway.yaml manifest types and loading, plus the
// user-level TOML preferences file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the manifest omits them.
const (
	DefaultComposeFile     = "docker-compose.yaml"
	DefaultWorkDir         = ".slipway/src"
	DefaultStorePath       = ".slipway/slipway.db"
	DefaultServerAddr      = ":8530"
	DefaultCheckoutRetries = 2

	DefaultPerUnitTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultOverallBudget  = 120 * time.Second
)

// Duration decodes YAML values like "60s" or "10m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"60s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Manifest is the top-level slipway.yaml configuration.
type Manifest struct {
	Project      string                       `yaml:"project"`
	ComposeFile  string                       `yaml:"compose_file,omitempty"`
	Source       SourceConfig                 `yaml:"source"`
	Units        []UnitConfig                 `yaml:"units"`
	Health       HealthConfig                 `yaml:"health,omitempty"`
	Stages       map[string]StageConfig       `yaml:"stages,omitempty"`
	Notify       NotifyConfig                 `yaml:"notify,omitempty"`
	Store        StoreConfig                  `yaml:"store,omitempty"`
	Server       ServerConfig                 `yaml:"server,omitempty"`
	Environments map[string]EnvironmentConfig `yaml:"environments,omitempty"`
}

// SourceConfig declares where the project source comes from.
type SourceConfig struct {
	Repo            string `yaml:"repo"`
	WorkDir         string `yaml:"work_dir,omitempty"`
	CheckoutRetries *int   `yaml:"checkout_retries,omitempty"`
}

// CheckoutRetriesOrDefault returns the configured retry count, which may be
// zero, or DefaultCheckoutRetries when unset.
func (s SourceConfig) CheckoutRetriesOrDefault() int {
	if s.CheckoutRetries != nil && *s.CheckoutRetries >= 0 {
		return *s.CheckoutRetries
	}
	return DefaultCheckoutRetries
}

// UnitConfig declares one independently buildable, deployable service.
type UnitConfig struct {
	Name        string   `yaml:"name"`
	Context     string   `yaml:"context,omitempty"`    // build context dir within the snapshot; defaults to the unit name
	Dockerfile  string   `yaml:"dockerfile,omitempty"` // relative to context
	Image       string   `yaml:"image"`
	HealthURL   string   `yaml:"health_url"`
	TestCommand []string `yaml:"test_command,omitempty"`
}

// HealthConfig bounds the post-deploy readiness verification.
type HealthConfig struct {
	PerUnitTimeout Duration `yaml:"per_unit_timeout,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty"`
	OverallBudget  Duration `yaml:"overall_budget,omitempty"`
}

// StageConfig overrides per-stage execution settings.
type StageConfig struct {
	Timeout Duration `yaml:"timeout,omitempty"`
}

// NotifyConfig lists webhook endpoints that receive a run summary after every
// run. An empty list disables the notify stage entirely.
type NotifyConfig struct {
	URLs []string `yaml:"urls,omitempty"`
}

// StoreConfig locates the run log database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// ServerConfig configures the trigger API started by `slipway serve`.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// EnvironmentConfig overrides manifest settings for a named environment.
type EnvironmentConfig struct {
	ComposeFile string `yaml:"compose_file,omitempty"`
}

// ParseManifest parses raw YAML bytes, applies defaults, and checks required
// fields.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing slipway config: %w", err)
	}

	if m.Project == "" {
		return nil, fmt.Errorf("slipway config: project is required")
	}
	if m.Source.Repo == "" {
		return nil, fmt.Errorf("slipway config: source.repo is required")
	}
	if len(m.Units) == 0 {
		return nil, fmt.Errorf("slipway config: at least one unit is required")
	}
	for i := range m.Units {
		u := &m.Units[i]
		if u.Name == "" {
			return nil, fmt.Errorf("slipway config: units[%d].name is required", i)
		}
		if u.Image == "" {
			return nil, fmt.Errorf("slipway config: unit %q: image is required", u.Name)
		}
		if u.HealthURL == "" {
			return nil, fmt.Errorf("slipway config: unit %q: health_url is required", u.Name)
		}
		if u.Context == "" {
			u.Context = u.Name
		}
		if u.Dockerfile == "" {
			u.Dockerfile = "Dockerfile"
		}
	}

	m.applyDefaults()
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading slipway config: %w", err)
	}
	return ParseManifest(data)
}

func (m *Manifest) applyDefaults() {
	if m.ComposeFile == "" {
		m.ComposeFile = DefaultComposeFile
	}
	if m.Source.WorkDir == "" {
		m.Source.WorkDir = DefaultWorkDir
	}
	if m.Health.PerUnitTimeout == 0 {
		m.Health.PerUnitTimeout = Duration(DefaultPerUnitTimeout)
	}
	if m.Health.PollInterval == 0 {
		m.Health.PollInterval = Duration(DefaultPollInterval)
	}
	if m.Health.OverallBudget == 0 {
		m.Health.OverallBudget = Duration(DefaultOverallBudget)
	}
	if m.Store.Path == "" {
		m.Store.Path = DefaultStorePath
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultServerAddr
	}
}

// Unit returns the named unit config.
func (m *Manifest) Unit(name string) (UnitConfig, bool) {
	for _, u := range m.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitConfig{}, false
}

// UnitNames returns the declared unit names in manifest order.
func (m *Manifest) UnitNames() []string {
	names := make([]string, len(m.Units))
	for i, u := range m.Units {
		names[i] = u.Name
	}
	return names
}

// StageTimeout returns the configured timeout override for the named stage,
// or def when the manifest does not override it.
func (m *Manifest) StageTimeout(stage string, def time.Duration) time.Duration {
	if sc, ok := m.Stages[stage]; ok && sc.Timeout > 0 {
		return sc.Timeout.Std()
	}
	return def
}

// ForEnvironment returns a copy of the manifest with the named environment's
// overrides applied. An empty name returns the manifest unchanged.
func (m *Manifest) ForEnvironment(name string) (*Manifest, error) {
	if name == "" {
		return m, nil
	}
	env, ok := m.Environments[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", name)
	}
	out := *m
	if env.ComposeFile != "" {
		out.ComposeFile = env.ComposeFile
	}
	return &out, nil
}
