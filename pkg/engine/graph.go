package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph maps unit names to the names they directly depend on.
type Graph struct {
	// deps maps a unit to its dependencies in declaration order
	deps map[string][]string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Add registers name with its dependencies. Dependencies need not be
// registered yet; dangling references surface in Resolve and Validate.
func (g *Graph) Add(name string, deps []string) error {
	if name == "" {
		return NewFatalError(ErrCodeValidation, "unit has empty name", nil)
	}
	if _, exists := g.deps[name]; exists {
		return NewFatalError(ErrCodeValidation, fmt.Sprintf("duplicate unit: %s", name), nil)
	}
	g.deps[name] = append([]string(nil), deps...)
	return nil
}

// Has reports whether name is registered.
func (g *Graph) Has(name string) bool {
	_, ok := g.deps[name]
	return ok
}

// Names returns every registered unit, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.deps))
	for name := range g.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the units that directly depend on name, sorted.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for unit, deps := range g.deps {
		for _, d := range deps {
			if d == name {
				out = append(out, unit)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns names plus their transitive dependencies, each after all
// of its dependencies and each exactly once. Re-entering a unit that is
// still being resolved is a cycle; a name that is not registered is an
// unknown component. Both are fatal.
func (g *Graph) Resolve(names []string) ([]string, error) {
	resolved := make([]string, 0, len(names))
	done := make(map[string]bool)
	resolving := make(map[string]bool)

	var resolve func(name string) error
	resolve = func(name string) error {
		if done[name] {
			return nil
		}
		if resolving[name] {
			return NewFatalError(ErrCodeDependencyCycle,
				fmt.Sprintf("circular dependency detected: %s", name), nil).WithUnit(name)
		}
		deps, ok := g.deps[name]
		if !ok {
			return NewFatalError(ErrCodeUnknownComponent,
				fmt.Sprintf("unknown component: %s", name), nil).WithUnit(name)
		}

		resolving[name] = true
		for _, dep := range deps {
			if err := resolve(dep); err != nil {
				return err
			}
		}
		delete(resolving, name)

		done[name] = true
		resolved = append(resolved, name)
		return nil
	}

	for _, name := range names {
		if err := resolve(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// Levels groups the resolved set of names into batches. Every unit in a
// batch depends only on units in earlier batches, so a batch could be
// installed concurrently. Names within a batch are sorted.
func (g *Graph) Levels(names []string) ([][]string, error) {
	ordered, err := g.Resolve(names)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]bool, len(ordered))
	for _, name := range ordered {
		remaining[name] = true
	}

	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		for name := range remaining {
			ready := true
			for _, dep := range g.deps[name] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			// Resolve succeeded, so this is a broken invariant.
			return nil, NewFatalError(ErrCodeInternal, "circular dependency while computing installation levels", nil)
		}
		sort.Strings(level)
		for _, name := range level {
			delete(remaining, name)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Validate checks every registered unit for dangling dependencies and
// cycles, independent of any install request. It returns one message per
// problem, or nil when the graph is sound.
func (g *Graph) Validate() []string {
	var errs []string
	seen := make(map[string]bool)
	add := func(msg string) {
		if !seen[msg] {
			seen[msg] = true
			errs = append(errs, msg)
		}
	}

	names := g.Names()
	for _, name := range names {
		var missing []string
		for _, dep := range g.deps[name] {
			if !g.Has(dep) {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			add(fmt.Sprintf("component %s has missing dependencies: %s", name, strings.Join(missing, ", ")))
		}
	}

	for _, name := range names {
		if _, err := g.Resolve([]string{name}); err != nil && HasCode(err, ErrCodeDependencyCycle) {
			add(err.Error())
		}
	}
	return errs
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per
// installation level. Edges point from a dependency to its dependent.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph components {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	if levels, err := g.Levels(g.Names()); err == nil {
		for level, names := range levels {
			sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
			sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
			sb.WriteString("    style=dashed;\n")
			for _, name := range names {
				sb.WriteString(fmt.Sprintf("    %q;\n", name))
			}
			sb.WriteString("  }\n\n")
		}
	} else {
		for _, name := range g.Names() {
			sb.WriteString(fmt.Sprintf("  %q;\n", name))
		}
		sb.WriteString("\n")
	}

	for _, name := range g.Names() {
		for _, dep := range g.deps[name] {
			style := "style=solid, color=black"
			if !g.Has(dep) {
				style = "style=dashed, color=red"
			}
			sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", dep, name, style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
