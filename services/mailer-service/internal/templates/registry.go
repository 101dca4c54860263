// Package templates renders notification emails from named HTML templates
// and the loosely typed data carried by each event.
package templates

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nexaledger/platform/libs/events"
)

const (
	NotFoundBody    = "<p>Template not found.</p>"
	InvalidDataBody = "<p>Invalid data for the template.</p>"
)

var ErrUnknownTemplate = errors.New("unknown template")

// Data is the template-specific field bag from an email event.
type Data map[string]any

type Template struct {
	Name     string
	Required []string
	Render   func(Data) (string, error)
}

// Registry maps template names to renderers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewRegistry() *Registry {
	return &Registry{templates: map[string]Template{}}
}

// Register adds t, replacing any template with the same name.
func (r *Registry) Register(t Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template name is required")
	}
	if t.Render == nil {
		return fmt.Errorf("template %s has no renderer", t.Name)
	}
	t.Required = slices.Clone(t.Required)
	r.mu.Lock()
	r.templates[t.Name] = t
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// RequiredFields lists the data keys the named template needs.
func (r *Registry) RequiredFields(name string) ([]string, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return slices.Clone(t.Required), true
}

// Names returns the registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate reports ErrUnknownTemplate for unregistered names and
// events.ErrValidation when required keys are absent. Key matching is exact.
func (r *Registry) Validate(name string, data Data) error {
	t, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	var missing []string
	for _, field := range t.Required {
		if _, ok := data[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: template %s missing %s", events.ErrValidation, name, strings.Join(missing, ", "))
	}
	return nil
}

// Render never fails: unknown templates give NotFoundBody and invalid data
// gives InvalidDataBody.
func (r *Registry) Render(name string, data Data) string {
	t, ok := r.lookup(name)
	if !ok {
		return NotFoundBody
	}
	if err := r.Validate(name, data); err != nil {
		return InvalidDataBody
	}
	body, err := t.Render(data)
	if err != nil {
		return InvalidDataBody
	}
	return body
}
