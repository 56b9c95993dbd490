package engine

import (
	"fmt"
	"sync"

	"github.com/superclaude-org/scinstall/pkg/components"
	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
)

// callLog records unit operations in call order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeUnit registers itself in the state store on install and refuses to
// install while a dependency is not installed.
type fakeUnit struct {
	name         string
	version      string
	deps         []string
	prereqErrs   []string
	validateErrs []string
	failInstall  bool
	panics       bool
	size         int64

	st  *state.Store
	log *callLog
}

func (f *fakeUnit) Metadata() components.Metadata {
	return components.Metadata{Name: f.name, Version: f.version, Category: "test"}
}

func (f *fakeUnit) Dependencies() []string              { return f.deps }
func (f *fakeUnit) FilesToInstall() []security.FilePair { return nil }
func (f *fakeUnit) SizeEstimate() int64                 { return f.size }

func (f *fakeUnit) ValidatePrerequisites() (bool, []string) {
	return len(f.prereqErrs) == 0, f.prereqErrs
}

func (f *fakeUnit) Install(components.InstallConfig) bool {
	f.log.add("install:" + f.name)
	if f.panics {
		panic("boom")
	}
	if f.failInstall {
		return false
	}
	for _, d := range f.deps {
		if !f.st.IsComponentInstalled(d) {
			return false
		}
	}
	return f.register()
}

func (f *fakeUnit) Update(components.InstallConfig) bool {
	f.log.add("update:" + f.name)
	return f.register()
}

func (f *fakeUnit) Uninstall() bool {
	f.log.add("uninstall:" + f.name)
	if _, err := f.st.RemoveComponentRegistration(f.name); err != nil {
		return false
	}
	return true
}

func (f *fakeUnit) ValidateInstallation() (bool, []string) {
	return len(f.validateErrs) == 0, f.validateErrs
}

func (f *fakeUnit) register() bool {
	return f.st.AddComponentRegistration(f.name, state.Object(map[string]state.Value{
		"version": state.String(f.version),
	})) == nil
}

// catalogOf builds a registration table serving the given units.
func catalogOf(units ...*fakeUnit) []components.Registration {
	regs := make([]components.Registration, 0, len(units))
	for _, u := range units {
		u := u
		regs = append(regs, components.Registration{
			Name: u.name,
			Factory: func(components.Env) (components.Unit, error) {
				if u == nil {
					return nil, fmt.Errorf("no unit")
				}
				return u, nil
			},
		})
	}
	return regs
}
