package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

func TestRegistry_SkipsBrokenFactories(t *testing.T) {
	log := &callLog{}
	core := &fakeUnit{name: "core", version: "1.0.0", log: log}
	modes := &fakeUnit{name: "modes", version: "1.0.0", deps: []string{"core"}, log: log}

	catalog := append(catalogOf(core, modes),
		components.Registration{Name: "nil-factory"},
		components.Registration{Name: "erroring", Factory: func(components.Env) (components.Unit, error) {
			return nil, errors.New("broken")
		}},
		components.Registration{Name: "panicking", Factory: func(components.Env) (components.Unit, error) {
			panic("bad factory")
		}},
		components.Registration{Name: "empty", Factory: func(components.Env) (components.Unit, error) {
			return nil, nil
		}},
	)

	rec := telemetry.NewRecorder()
	reg := NewRegistry(components.Env{InstallDir: t.TempDir()}, WithCatalog(catalog), WithRegistryLogger(rec))

	if got := reg.List(); !reflect.DeepEqual(got, []string{"core", "modes"}) {
		t.Fatalf("Expected [core modes], got %v", got)
	}
	for _, name := range []string{"nil-factory", "erroring", "panicking", "empty"} {
		if !rec.Contains("warn", name) {
			t.Errorf("Expected warning about %s", name)
		}
	}
}

func TestRegistry_Queries(t *testing.T) {
	log := &callLog{}
	reg := NewRegistry(components.Env{InstallDir: t.TempDir()}, WithCatalog(catalogOf(
		&fakeUnit{name: "core", version: "1.0.0", log: log},
		&fakeUnit{name: "modes", version: "1.0.0", deps: []string{"core"}, log: log},
		&fakeUnit{name: "mcp", version: "1.0.0", deps: []string{"core"}, log: log},
	)))

	order, err := reg.ResolveDependencies([]string{"modes"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"core", "modes"}) {
		t.Errorf("Expected [core modes], got %v", order)
	}

	if got := reg.Dependents("core"); !reflect.DeepEqual(got, []string{"mcp", "modes"}) {
		t.Errorf("Expected [mcp modes], got %v", got)
	}

	meta, ok := reg.Metadata("mcp")
	if !ok || meta.Name != "mcp" {
		t.Errorf("Expected mcp metadata, got %+v", meta)
	}
	if _, ok := reg.Metadata("ghost"); ok {
		t.Error("Expected no metadata for unknown unit")
	}

	if got := reg.ByCategory("test"); len(got) != 3 {
		t.Errorf("Expected 3 units in category, got %v", got)
	}

	info := reg.Info()
	if info.Total != 3 {
		t.Errorf("Expected 3 components, got %d", info.Total)
	}
	if len(info.ValidationErrors) != 0 {
		t.Errorf("Expected no validation errors, got %v", info.ValidationErrors)
	}

	if _, err := reg.Create("ghost", components.Env{}); !HasCode(err, ErrCodeUnknownComponent) {
		t.Errorf("Expected unknown component error, got: %v", err)
	}
}

func TestRegistry_BuiltinCatalog(t *testing.T) {
	home := t.TempDir()
	reg := NewRegistry(components.Env{
		InstallDir:       home + "/.claude",
		SourceDir:        t.TempDir(),
		ClaudeConfigPath: home + "/.claude.json",
	})

	names := reg.List()
	expected := []string{"core", "mcp", "mcp_docs", "modes"}
	if !reflect.DeepEqual(names, expected) {
		t.Fatalf("Expected %v, got %v", expected, names)
	}
	if errs := reg.ValidateDependencyGraph(); len(errs) != 0 {
		t.Errorf("Expected a sound graph, got %v", errs)
	}

	levels, err := reg.InstallationLevels(names)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(levels) == 0 || !reflect.DeepEqual(levels[0], []string{"core"}) {
		t.Errorf("Expected core alone in the first level, got %v", levels)
	}
}
