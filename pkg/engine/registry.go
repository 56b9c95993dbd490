package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// Registry holds the units known to the installer and their dependency
// graph. Units come from a static registration table; Discover builds one
// instance of each to read its metadata and dependencies.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// catalog is the registration table units are built from.
	catalog []components.Registration

	// env is passed to every factory.
	env components.Env

	// units maps unit name to its instance.
	units map[string]components.Unit

	// graph is the dependency graph of the discovered units.
	graph *Graph

	discovered bool
	logger     telemetry.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCatalog replaces the built-in registration table.
func WithCatalog(catalog []components.Registration) RegistryOption {
	return func(r *Registry) { r.catalog = catalog }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger telemetry.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry whose units are built with env.
func NewRegistry(env components.Env, opts ...RegistryOption) *Registry {
	r := &Registry{
		catalog: components.Catalog(),
		env:     env,
		units:   make(map[string]components.Unit),
		graph:   NewGraph(),
		logger:  env.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = telemetry.Nop()
	}
	return r
}

// Discover instantiates every registered unit. It runs once unless force
// is set, in which case the registry is rebuilt from scratch. A unit that
// fails to build is logged and skipped.
func (r *Registry) Discover(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoverLocked(force)
}

func (r *Registry) discoverLocked(force bool) {
	if r.discovered && !force {
		return
	}

	r.units = make(map[string]components.Unit)
	r.graph = NewGraph()

	for _, reg := range r.catalog {
		unit, err := build(reg, r.env)
		if err != nil {
			r.logger.Warn(fmt.Sprintf("could not instantiate component %s: %v", reg.Name, err))
			continue
		}
		name := unit.Metadata().Name
		if err := r.graph.Add(name, unit.Dependencies()); err != nil {
			r.logger.Warn(fmt.Sprintf("skipping component %s: %v", reg.Name, err))
			continue
		}
		r.units[name] = unit
	}

	r.discovered = true
	r.logger.Debug(fmt.Sprintf("discovered %d components", len(r.units)))
}

// build runs a factory, turning a panic into an error.
func build(reg components.Registration, env components.Env) (unit components.Unit, err error) {
	defer func() {
		if p := recover(); p != nil {
			unit, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	if reg.Factory == nil {
		return nil, fmt.Errorf("no factory")
	}
	unit, err = reg.Factory(env)
	if err == nil && unit == nil {
		err = fmt.Errorf("factory returned no unit")
	}
	return unit, err
}

// snapshot discovers if needed and returns the current state.
func (r *Registry) snapshot() (map[string]components.Unit, *Graph) {
	r.mu.RLock()
	if r.discovered {
		defer r.mu.RUnlock()
		return r.units, r.graph
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.discoverLocked(false)
	return r.units, r.graph
}

// List returns the names of all discovered units, sorted.
func (r *Registry) List() []string {
	_, g := r.snapshot()
	return g.Names()
}

// Unit returns the discovered instance of name.
func (r *Registry) Unit(name string) (components.Unit, bool) {
	units, _ := r.snapshot()
	u, ok := units[name]
	return u, ok
}

// Create builds a fresh instance of name with env, for a different
// install directory for example.
func (r *Registry) Create(name string, env components.Env) (components.Unit, error) {
	for _, reg := range r.catalog {
		if reg.Name == name {
			return build(reg, env)
		}
	}
	return nil, NewFatalError(ErrCodeUnknownComponent, fmt.Sprintf("unknown component: %s", name), nil).WithUnit(name)
}

// Metadata returns the metadata of name.
func (r *Registry) Metadata(name string) (components.Metadata, bool) {
	u, ok := r.Unit(name)
	if !ok {
		return components.Metadata{}, false
	}
	return u.Metadata(), true
}

// Dependencies returns the direct dependencies of name.
func (r *Registry) Dependencies(name string) []string {
	_, g := r.snapshot()
	return g.Dependencies(name)
}

// Dependents returns the units that directly depend on name.
func (r *Registry) Dependents(name string) []string {
	_, g := r.snapshot()
	return g.Dependents(name)
}

// ResolveDependencies orders names and their dependencies for install.
func (r *Registry) ResolveDependencies(names []string) ([]string, error) {
	_, g := r.snapshot()
	return g.Resolve(names)
}

// InstallationLevels groups the resolved names into batches that could
// be installed concurrently.
func (r *Registry) InstallationLevels(names []string) ([][]string, error) {
	_, g := r.snapshot()
	return g.Levels(names)
}

// ValidateDependencyGraph checks all discovered units for dangling
// dependencies and cycles.
func (r *Registry) ValidateDependencyGraph() []string {
	_, g := r.snapshot()
	return g.Validate()
}

// ByCategory returns the units in category, sorted.
func (r *Registry) ByCategory(category string) []string {
	units, _ := r.snapshot()
	var out []string
	for name, u := range units {
		if u.Metadata().Category == category {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Graph returns the dependency graph.
func (r *Registry) Graph() *Graph {
	_, g := r.snapshot()
	return g
}

// RegistryInfo summarizes the registry.
type RegistryInfo struct {
	Total            int                 `json:"total_components"`
	Categories       map[string][]string `json:"categories"`
	Dependencies     map[string][]string `json:"dependency_graph"`
	ValidationErrors []string            `json:"validation_errors"`
}

// Info returns counts, categories, the dependency graph and validation
// errors.
func (r *Registry) Info() RegistryInfo {
	units, g := r.snapshot()
	info := RegistryInfo{
		Total:        len(units),
		Categories:   make(map[string][]string),
		Dependencies: make(map[string][]string),
	}
	for _, name := range g.Names() {
		category := units[name].Metadata().Category
		if category == "" {
			category = "unknown"
		}
		info.Categories[category] = append(info.Categories[category], name)
		info.Dependencies[name] = g.Dependencies(name)
	}
	info.ValidationErrors = g.Validate()
	return info
}
