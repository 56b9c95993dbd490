package components

import (
	"github.com/superclaude-org/scinstall/pkg/state"
)

// MergeAction says what MergeServers did with one server entry.
type MergeAction string

const (
	MergeAdded     MergeAction = "added"
	MergePreserved MergeAction = "preserved"
)

// MergeResult describes the outcome for one server.
type MergeResult struct {
	Server    string
	Action    MergeAction
	AddedKeys []string
}

// EnvReference is the deferred expansion form written instead of a secret.
func EnvReference(name string) string {
	return "${" + name + "}"
}

// MergeServers merges incoming server definitions into an existing
// mcpServers object and returns the new object.
//
// A server absent from existing is inserted as given. For a server that is
// already present, only keys missing from the existing entry are added;
// existing values are never changed. In both cases env entries whose name
// is in secrets and whose value is the empty string become EnvReference
// values, so the secret itself stays out of the document.
func MergeServers(existing, incoming state.Value, secrets map[string]string) (state.Value, []MergeResult) {
	if !existing.IsObject() {
		existing = state.EmptyObject()
	}

	var results []MergeResult
	for _, name := range incoming.Keys() {
		def, _ := incoming.Get(name)

		current, found := existing.Get(name)
		if !found || !current.IsObject() || !def.IsObject() {
			if found && !current.IsObject() {
				// Not an entry we can merge into; the user's value stays.
				results = append(results, MergeResult{Server: name, Action: MergePreserved})
				continue
			}
			existing = existing.With(name, withSecretRefs(def, secrets))
			results = append(results, MergeResult{Server: name, Action: MergeAdded})
			continue
		}

		var added []string
		for _, key := range def.Keys() {
			if current.Has(key) {
				continue
			}
			v, _ := def.Get(key)
			current = current.With(key, v)
			added = append(added, key)
		}
		existing = existing.With(name, withSecretRefs(current, secrets))
		results = append(results, MergeResult{Server: name, Action: MergePreserved, AddedKeys: added})
	}
	return existing, results
}

func withSecretRefs(server state.Value, secrets map[string]string) state.Value {
	if len(secrets) == 0 {
		return server
	}
	env, ok := server.Get("env")
	if !ok || !env.IsObject() {
		return server
	}
	changed := false
	for _, key := range env.Keys() {
		if _, collected := secrets[key]; !collected {
			continue
		}
		v, _ := env.Get(key)
		if s, isString := v.AsString(); isString && s == "" {
			env = env.With(key, state.String(EnvReference(key)))
			changed = true
		}
	}
	if !changed {
		return server
	}
	return server.With("env", env)
}
