package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), telemetry.Nop())
}

func mustParse(t *testing.T, doc string) Value {
	t.Helper()
	v, err := Parse([]byte(doc))
	require.NoError(t, err)
	return v
}

func TestDeepMerge(t *testing.T) {
	base := mustParse(t, `{"a": {"x": 1, "y": [1, 2]}, "b": "keep", "c": {"n": 1}}`)
	overlay := mustParse(t, `{"a": {"y": [3], "z": true}, "c": "scalar", "d": null}`)

	merged := DeepMerge(base, overlay)
	want := mustParse(t, `{"a": {"x": 1, "y": [3], "z": true}, "b": "keep", "c": "scalar", "d": null}`)
	assert.True(t, want.Equal(merged), "got %s", encodeString(t, merged))

	// Inputs are not modified.
	assert.True(t, mustParse(t, `{"a": {"x": 1, "y": [1, 2]}, "b": "keep", "c": {"n": 1}}`).Equal(base))
}

func TestEncode_SortedKeysAndIndent(t *testing.T) {
	v := mustParse(t, `{"z": 1, "a": {"c": 2, "b": 1.5}}`)
	assert.Equal(t, "{\n  \"a\": {\n    \"b\": 1.5,\n    \"c\": 2\n  },\n  \"z\": 1\n}\n", encodeString(t, v))
}

func TestEncode_KeepsHTMLCharacters(t *testing.T) {
	v := mustParse(t, `{"url": "https://x.dev/sse?a=1&b=<2>", "args": ["--flag=a&b"]}`)
	assert.Equal(t,
		"{\n  \"args\": [\n    \"--flag=a&b\"\n  ],\n  \"url\": \"https://x.dev/sse?a=1&b=<2>\"\n}\n",
		encodeString(t, v))
}

func TestValueWithPath(t *testing.T) {
	v := EmptyObject().WithPath([]string{"framework", "version"}, String("4.0.8"))
	got, ok := v.Lookup("framework", "version")
	require.True(t, ok)
	s, _ := got.AsString()
	assert.Equal(t, "4.0.8", s)

	v = String("scalar").WithPath([]string{"a"}, Int(1))
	n, ok := v.Get("a")
	require.True(t, ok)
	i, _ := n.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestComponentRegistration(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMetadata(mustParse(t, `{"components": {"core": {"version": "4.0.8"}}}`)))

	assert.True(t, s.IsComponentInstalled("core"))
	v, ok := s.GetComponentVersion("core")
	assert.True(t, ok)
	assert.Equal(t, "4.0.8", v)

	// Files left on disk do not count as installed.
	require.NoError(t, os.WriteFile(filepath.Join(s.InstallDir(), "CORE.md"), []byte("x"), 0644))

	removed, err := s.RemoveComponentRegistration("core")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.IsComponentInstalled("core"))
	_, ok = s.GetComponentVersion("core")
	assert.False(t, ok)

	removed, err = s.RemoveComponentRegistration("core")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestComponentWithoutVersionIsNotInstalled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMetadata(mustParse(t, `{"components": {"modes": {"files_count": 3}}}`)))
	assert.False(t, s.IsComponentInstalled("modes"))
	assert.Empty(t, s.InstalledComponents())
}

func TestAddComponentRegistration(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(t.TempDir(), telemetry.Nop(), WithClock(func() time.Time { return fixed }))

	require.NoError(t, s.AddComponentRegistration("core", Object(map[string]Value{
		"version":     String("4.0.8"),
		"files_count": Int(9),
	})))
	require.NoError(t, s.AddComponentRegistration("modes", Object(map[string]Value{"version": String("4.0.8")})))

	assert.Equal(t, map[string]string{"core": "4.0.8", "modes": "4.0.8"}, s.InstalledComponents())

	at, ok := s.GetMetadataSetting("components.core.installed_at")
	require.True(t, ok)
	str, _ := at.AsString()
	assert.Equal(t, "2025-03-01T12:00:00Z", str)
}

func TestSaveMetadata_RejectsInvalidDocument(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveMetadata(mustParse(t, `{"components": {"core": {"version": 4}}}`))
	assert.Error(t, err)
	assert.False(t, s.InstallationExists())

	assert.Error(t, s.SaveMetadata(Strings("not", "an", "object")))
}

func TestSaveMetadata_KeepsPreviousCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateFrameworkVersion("4.0.7"))
	require.NoError(t, s.UpdateFrameworkVersion("4.0.8"))

	prev, err := loadDocument(s.MetadataPath() + ".bak")
	require.NoError(t, err)
	v, _ := prev.Lookup("framework", "version")
	str, _ := v.AsString()
	assert.Equal(t, "4.0.7", str)

	cur, ok := s.GetMetadataSetting("framework.version")
	require.True(t, ok)
	str, _ = cur.AsString()
	assert.Equal(t, "4.0.8", str)
	assert.True(t, s.InstallationExists())
}

func TestLoadMetadata_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.MetadataPath(), []byte("{not json"), 0644))
	_, err := s.LoadMetadata()
	assert.Error(t, err)
	assert.False(t, s.IsComponentInstalled("core"))
}

func TestMigrateLegacySettings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.SettingsPath(), []byte(`{
  "permissions": {"allow": ["Bash"]},
  "components": {"core": {"version": "3.0.0"}},
  "framework": {"version": "3.0.0"}
}`), 0644))
	require.NoError(t, s.SaveMetadata(mustParse(t, `{"framework": {"name": "SuperClaude"}}`)))

	migrated, err := s.MigrateLegacySettings()
	require.NoError(t, err)
	assert.True(t, migrated)

	settings, err := s.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"permissions"}, settings.Keys())

	meta, err := s.LoadMetadata()
	require.NoError(t, err)
	assert.True(t, mustParse(t, `{"version": "3.0.0", "name": "SuperClaude"}`).Equal(mustGet(t, meta, "framework")))
	assert.True(t, s.IsComponentInstalled("core"))

	// A second run finds nothing to move.
	migrated, err = s.MigrateLegacySettings()
	require.NoError(t, err)
	assert.False(t, migrated)

	assert.Len(t, s.ListSettingsBackups(), 1)
}

func TestSettingsDottedPaths(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSetting("env.MORPH_API_KEY", String("${MORPH_API_KEY}"), false))
	require.NoError(t, s.SetSetting("env.OTHER", String("x"), false))

	v, ok := s.GetSetting("env.MORPH_API_KEY")
	require.True(t, ok)
	str, _ := v.AsString()
	assert.Equal(t, "${MORPH_API_KEY}", str)

	removed, err := s.RemoveSetting("env.MORPH_API_KEY", false)
	require.NoError(t, err)
	assert.True(t, removed)
	_, ok = s.GetSetting("env.MORPH_API_KEY")
	assert.False(t, ok)
	_, ok = s.GetSetting("env.OTHER")
	assert.True(t, ok)

	removed, err = s.RemoveSetting("missing", false)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSettingsBackupsArePruned(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(t.TempDir(), telemetry.Nop(), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	require.NoError(t, os.WriteFile(s.SettingsPath(), []byte(`{"n": 0}`), 0644))

	for i := 0; i < SettingsBackupKeep+3; i++ {
		_, err := s.BackupSettings()
		require.NoError(t, err)
	}

	backups := s.ListSettingsBackups()
	assert.Len(t, backups, SettingsBackupKeep)
}

func TestRestoreSettingsBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSettings(mustParse(t, `{"theme": "dark"}`), false))
	name, err := s.BackupSettings()
	require.NoError(t, err)
	require.NoError(t, s.SaveSettings(mustParse(t, `{"theme": "light"}`), false))

	require.NoError(t, s.RestoreSettingsBackup(filepath.Base(name)))
	v, _ := s.GetSetting("theme")
	str, _ := v.AsString()
	assert.Equal(t, "dark", str)

	assert.Error(t, s.RestoreSettingsBackup("missing.json"))
	assert.Error(t, s.RestoreSettingsBackup("../settings.json"))
}

func TestBackupSettings_NoFile(t *testing.T) {
	s := newTestStore(t)
	path, err := s.BackupSettings()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestValidate_ClaudeConfig(t *testing.T) {
	assert.NoError(t, Validate(SchemaClaudeConfig, mustParse(t, `{"mcpServers": {"a": {"command": "npx", "args": ["-y", "x"]}}}`)))
	assert.Error(t, Validate(SchemaClaudeConfig, mustParse(t, `{"mcpServers": {"a": {"args": "not-a-list"}}}`)))
	assert.Error(t, Validate("unknown", EmptyObject()))
}

func mustGet(t *testing.T, v Value, key string) Value {
	t.Helper()
	f, ok := v.Get(key)
	require.True(t, ok, "missing key %s", key)
	return f
}

func encodeString(t *testing.T, v Value) string {
	t.Helper()
	data, err := Encode(v)
	require.NoError(t, err)
	return string(data)
}
