package endpoint

import (
	"strings"

	"github.com/pkg/errors"

	"tablegate/internal/apperr"
	"tablegate/internal/schema"
)

// Model is one exposed table with its endpoint configuration.
type Model struct {
	Table  *schema.Table
	Config Config
}

func (m *Model) Name() string { return m.Table.Name }

// Registry is the set of exposed tables, fixed at startup.
type Registry struct {
	models []*Model
	byName map[string]*Model
}

// NewRegistry checks the descriptors together and indexes them. Any lint
// issue is a configuration error.
func NewRegistry(models ...Model) (*Registry, error) {
	tables := make([]*schema.Table, 0, len(models))
	for _, m := range models {
		if m.Table == nil {
			return nil, apperr.Configuration(errors.New("model without table descriptor"))
		}
		tables = append(tables, m.Table)
	}
	if issues := schema.Lint(tables); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.String()
		}
		return nil, apperr.Configuration(errors.New(strings.Join(msgs, "; ")))
	}

	r := &Registry{byName: make(map[string]*Model, len(models))}
	for i := range models {
		m := models[i]
		r.models = append(r.models, &m)
		r.byName[strings.ToLower(m.Table.Name)] = &m
	}
	return r, nil
}

// Models returns the models in registration order.
func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.models...)
}

// Get returns the model registered under exactly name.
func (r *Registry) Get(name string) (*Model, bool) {
	m, ok := r.byName[strings.ToLower(name)]
	if !ok || m.Table.Name != name {
		return nil, false
	}
	return m, true
}

// Lookup resolves a loosely written name: case-insensitive, tolerating a
// trailing "s" in either direction ("Product" and "products" both find
// products).
func (r *Registry) Lookup(name string) (*Model, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return nil, false
	}
	for _, cand := range []string{n, n + "s", strings.TrimSuffix(n, "s")} {
		if m, ok := r.byName[cand]; ok {
			return m, true
		}
	}
	return nil, false
}

// Table implements serialize.Loader lookups.
func (r *Registry) Table(name string) (*schema.Table, bool) {
	m, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return m.Table, true
}
