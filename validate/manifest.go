package validate

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/initializ/slipway/config"
)

var namePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidationResult holds errors and warnings from manifest validation.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ValidateManifest checks a parsed manifest for errors and warnings beyond
// what the schema can express.
func ValidateManifest(m *config.Manifest) *ValidationResult {
	r := &ValidationResult{}

	if m.Project == "" {
		r.Errors = append(r.Errors, "project is required")
	} else if !namePattern.MatchString(m.Project) {
		r.Errors = append(r.Errors, fmt.Sprintf("project %q must match ^[a-z0-9-]+$", m.Project))
	}

	if m.Source.Repo == "" {
		r.Errors = append(r.Errors, "source.repo is required")
	}

	seen := make(map[string]bool, len(m.Units))
	for i, u := range m.Units {
		if u.Name == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("units[%d]: name is required", i))
			continue
		}
		if !namePattern.MatchString(u.Name) {
			r.Errors = append(r.Errors, fmt.Sprintf("unit %q must match ^[a-z0-9-]+$", u.Name))
		}
		if seen[u.Name] {
			r.Errors = append(r.Errors, fmt.Sprintf("duplicate unit name %q", u.Name))
		}
		seen[u.Name] = true

		if u.Image == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("unit %q: image is required", u.Name))
		} else if _, err := name.NewRepository(u.Image, name.WithDefaultRegistry("")); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("unit %q: invalid image repository %q: %v", u.Name, u.Image, err))
		}

		if u.HealthURL == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("unit %q: health_url is required", u.Name))
		} else if parsed, err := url.Parse(u.HealthURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("unit %q: health_url %q must be an absolute http(s) URL", u.Name, u.HealthURL))
		}

		if len(u.TestCommand) == 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("unit %q declares no test_command; the test stage will skip it", u.Name))
		}
	}

	if m.Health.PollInterval.Std() > 0 && m.Health.PerUnitTimeout.Std() > 0 &&
		m.Health.PollInterval.Std() >= m.Health.PerUnitTimeout.Std() {
		r.Errors = append(r.Errors, fmt.Sprintf(
			"health.poll_interval (%s) must be shorter than health.per_unit_timeout (%s)",
			m.Health.PollInterval.Std(), m.Health.PerUnitTimeout.Std()))
	}
	if m.Health.OverallBudget.Std() > 0 && m.Health.PerUnitTimeout.Std() > m.Health.OverallBudget.Std() {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"health.per_unit_timeout (%s) exceeds health.overall_budget (%s); the budget wins",
			m.Health.PerUnitTimeout.Std(), m.Health.OverallBudget.Std()))
	}

	for _, raw := range m.Notify.URLs {
		if parsed, err := url.Parse(raw); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("notify url %q must be an absolute http(s) URL", raw))
		}
	}

	for envName, env := range m.Environments {
		if !namePattern.MatchString(envName) {
			r.Errors = append(r.Errors, fmt.Sprintf("environment %q must match ^[a-z0-9-]+$", envName))
		}
		if env.ComposeFile == "" {
			r.Warnings = append(r.Warnings, fmt.Sprintf("environment %q overrides nothing", envName))
		}
	}

	return r
}
