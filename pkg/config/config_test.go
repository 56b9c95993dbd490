package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_STATE_HOME", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load(LoadOptions{HomeDir: home})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".claude"), cfg.InstallDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, filepath.Join(home, ".local", "state", "scinstall", "history.db"), cfg.History.Path)
	assert.Equal(t, filepath.Join(home, ".local", "state", "scinstall", "scinstall.prom"), cfg.Metrics.Textfile)
	assert.True(t, cfg.Security.AuditEnabled)
	assert.Equal(t, filepath.Join(home, ".local", "state", "scinstall", "security.log"), cfg.Security.AuditLog)
	assert.Equal(t, filepath.Join(home, ".claude.json"), cfg.MCP.ClaudeConfig)
	assert.Equal(t, 2*time.Second, cfg.UpdateCheck.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.UpdateCheck.Interval)
	assert.Equal(t, 5, cfg.Backup.Keep)
	assert.True(t, filepath.IsAbs(cfg.SourceDir))
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	home := isolate(t)
	dir := DefaultConfigDir(home)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
install_dir: ~/custom
log_level: debug
mcp:
  servers: [context7, magic]
backup:
  keep: 3
`), 0644))

	t.Setenv("SCINSTALL_LOG_LEVEL", "warn")
	t.Setenv("SCINSTALL_BACKUP_KEEP", "7")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("install-dir", "", "")
	fs.Bool("no-history", false, "")
	require.NoError(t, fs.Parse([]string{"--install-dir", filepath.Join(home, "flagged"), "--no-history"}))

	cfg, err := Load(LoadOptions{HomeDir: home, Flags: fs})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "flagged"), cfg.InstallDir, "flag wins over file")
	assert.Equal(t, "warn", cfg.LogLevel, "env wins over file")
	assert.Equal(t, 7, cfg.Backup.Keep)
	assert.Equal(t, []string{"context7", "magic"}, cfg.MCP.Servers)
	assert.False(t, cfg.History.Enabled)
}

func TestLoad_FileValueUsedWithoutOverrides(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "explicit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("install_dir: ~/custom\n"), 0644))

	cfg, err := Load(LoadOptions{HomeDir: home, File: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "custom"), cfg.InstallDir)
	assert.Equal(t, filepath.Join(home, ".local", "state", "scinstall", "history.db"), cfg.History.Path)

	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "state"))
	cfg, err = Load(LoadOptions{HomeDir: home, File: path})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "state", "scinstall", "scinstall.prom"), cfg.Metrics.Textfile)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	home := isolate(t)
	_, err := Load(LoadOptions{HomeDir: home, File: filepath.Join(home, "missing.yaml")})
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "log level", env: map[string]string{"SCINSTALL_LOG_LEVEL": "loud"}},
		{name: "log format", env: map[string]string{"SCINSTALL_LOG_FORMAT": "xml"}},
		{name: "otlp without endpoint", env: map[string]string{"SCINSTALL_TRACING_EXPORTER": "otlp"}},
		{name: "sampling rate", env: map[string]string{"SCINSTALL_TRACING_SAMPLING_RATE": "2"}},
		{name: "compression", env: map[string]string{"SCINSTALL_BACKUP_COMPRESSION": "bzip2"}},
		{name: "update url", env: map[string]string{"SCINSTALL_UPDATE_CHECK_URL": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(LoadOptions{HomeDir: home})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/u", expandHome("~", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", "x"), expandHome("~/x", "/home/u"))
	assert.Equal(t, "/abs", expandHome("/abs", "/home/u"))
}
