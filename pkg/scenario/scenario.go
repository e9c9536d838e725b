// Package scenario loads, validates and registers verification scenarios
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"dev/bravebird/flow-verify/pkg/locator"
	"dev/bravebird/flow-verify/pkg/models"
)

// ErrNotFound is returned for unregistered scenario names
var ErrNotFound = errors.New("scenario not found")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, then the per-action requirements
func Validate(s models.Scenario) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid scenario %q: %w", s.Name, err)
	}

	for i, step := range s.Steps {
		switch step.Action {
		case models.StepExpectVisible, models.StepExpectHidden, models.StepClick:
			if step.Target == nil {
				return fmt.Errorf("step %d (%s): %s needs a target", i+1, step.Name, step.Action)
			}
			if err := locator.Validate(*step.Target); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
			}
		case models.StepScreenshot:
			if step.Path == "" {
				return fmt.Errorf("step %d (%s): screenshot needs a path", i+1, step.Name)
			}
		case models.StepNavigate:
			if _, err := ResolveURL(s.BaseURL, step.URL); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
			}
		}
	}
	return nil
}

// Load decodes and validates a YAML scenario
func Load(r io.Reader) (models.Scenario, error) {
	var s models.Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return models.Scenario{}, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if err := Validate(s); err != nil {
		return models.Scenario{}, err
	}
	return s, nil
}

// LoadFile reads a YAML scenario from disk
func LoadFile(path string) (models.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Scenario{}, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Marshal encodes a scenario as YAML
func Marshal(s models.Scenario) ([]byte, error) {
	return yaml.Marshal(s)
}

// ResolveURL resolves a navigate target against the base URL. An empty ref is the base itself.
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("base url %q is not absolute", base)
	}
	if ref == "" {
		return b.String(), nil
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// StepTimeout returns the wait bound for a step
func StepTimeout(s models.Scenario, step models.Step) time.Duration {
	switch {
	case step.Timeout > 0:
		return step.Timeout
	case s.Timeout > 0:
		return s.Timeout
	}
	return DefaultTimeout
}

// ==================== Registry ====================

// Registry holds named scenarios
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]models.Scenario
}

// NewRegistry returns a registry holding the built-in scenarios for baseURL
func NewRegistry(baseURL, screenshotPath string) *Registry {
	r := &Registry{scenarios: make(map[string]models.Scenario)}
	builtin := FlowRunnerModalScenario(baseURL, screenshotPath)
	r.scenarios[builtin.Name] = builtin
	return r
}

// Register validates and adds s, replacing any scenario with the same name
func (r *Registry) Register(s models.Scenario) error {
	if err := Validate(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[s.Name] = s
	return nil
}

// Get returns the scenario registered under name
func (r *Registry) Get(name string) (models.Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[name]
	if !ok {
		return models.Scenario{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns all scenarios sorted by name
func (r *Registry) List() []models.Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithBaseURL returns a copy of s aimed at another deployment
func WithBaseURL(s models.Scenario, baseURL string) models.Scenario {
	if baseURL != "" {
		s.BaseURL = baseURL
	}
	return s
}
