package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SCINSTALL_INSTALL_DIR.
	EnvPrefix = "SCINSTALL"

	configFileName = "config"
	configFileType = "yaml"
	configDirName  = "scinstall"

	// DefaultUpdateURL serves the latest release as JSON.
	DefaultUpdateURL = "https://pypi.org/pypi/SuperClaude/json"
)

// Config keys.
const (
	KeyInstallDir        = "install_dir"
	KeySourceDir         = "source_dir"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
	KeyNoColor           = "no_color"
	KeyMetricsEnabled    = "metrics.enabled"
	KeyMetricsTextfile   = "metrics.textfile"
	KeyTracingExporter   = "tracing.exporter"
	KeyTracingEndpoint   = "tracing.endpoint"
	KeyTracingSampling   = "tracing.sampling_rate"
	KeyTracingInsecure   = "tracing.insecure"
	KeyHistoryEnabled    = "history.enabled"
	KeyHistoryPath       = "history.path"
	KeyHistoryKeep       = "history.keep"
	KeyMCPServers        = "mcp.servers"
	KeyMCPClaudeConfig   = "mcp.claude_config"
	KeyBackupKeep        = "backup.keep"
	KeyBackupCompression = "backup.compression"
	KeyAuditEnabled      = "security.audit_enabled"
	KeyAuditLog          = "security.audit_log"
	KeyUpdateEnabled     = "update_check.enabled"
	KeyUpdateURL         = "update_check.url"
	KeyUpdateTimeout     = "update_check.timeout"
	KeyUpdateInterval    = "update_check.interval"
)

// flagKeys maps command line flags to config keys. Flags override every
// other source.
var flagKeys = map[string]string{
	"install-dir":   KeyInstallDir,
	"source-dir":    KeySourceDir,
	"log-level":     KeyLogLevel,
	"log-format":    KeyLogFormat,
	"no-color":      KeyNoColor,
	"mcp-servers":   KeyMCPServers,
	"claude-config": KeyMCPClaudeConfig,
	"metrics":       KeyMetricsEnabled,
}

// Config is the installer configuration.
type Config struct {
	// InstallDir is the framework's target directory (~/.claude).
	InstallDir string `mapstructure:"install_dir" validate:"required"`

	// SourceDir holds the artifact tree shipped with the installer.
	SourceDir string `mapstructure:"source_dir" validate:"required"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`
	NoColor   bool   `mapstructure:"no_color"`

	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	History     HistoryConfig     `mapstructure:"history"`
	MCP         MCPConfig         `mapstructure:"mcp"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Security    SecurityConfig    `mapstructure:"security"`
	UpdateCheck UpdateCheckConfig `mapstructure:"update_check"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Textfile defaults to scinstall.prom in the state directory.
	Textfile string `mapstructure:"textfile"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to history.db in the state directory. It lives outside
	// the install dir so that opening it never makes a fresh target look
	// like an existing installation.
	Path string `mapstructure:"path"`
	// Keep is the number of runs retained; 0 keeps everything.
	Keep int `mapstructure:"keep" validate:"gte=0"`
}

// MCPConfig selects integration servers.
type MCPConfig struct {
	Servers      []string `mapstructure:"servers"`
	ClaudeConfig string   `mapstructure:"claude_config" validate:"required"`
}

// BackupConfig sets backup defaults.
type BackupConfig struct {
	Keep        int    `mapstructure:"keep" validate:"gte=0"`
	Compression string `mapstructure:"compression" validate:"oneof=gzip none"`
}

// SecurityConfig controls the path decision log.
type SecurityConfig struct {
	AuditEnabled bool `mapstructure:"audit_enabled"`
	// AuditLog defaults to security.log in the state directory.
	AuditLog string `mapstructure:"audit_log"`
}

// UpdateCheckConfig controls the release check.
type UpdateCheckConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// LoadOptions configures Load.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set.
	File string
	// Flags are bound over every other source.
	Flags *pflag.FlagSet
	// HomeDir overrides the user's home directory.
	HomeDir string
}

// Load reads the configuration from defaults, the config file, SCINSTALL_
// environment variables and flags, in increasing precedence. A missing
// default config file is not an error.
func Load(opts LoadOptions) (*Config, error) {
	home := opts.HomeDir
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		home = h
	}

	v := viper.New()
	setDefaults(v, home)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(DefaultConfigDir(home))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolvePaths(home)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/scinstall or
// ~/.config/scinstall.
func DefaultConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName)
	}
	return filepath.Join(home, ".config", configDirName)
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault(KeyInstallDir, filepath.Join(home, ".claude"))
	v.SetDefault(KeySourceDir, "SuperClaude")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyNoColor, false)
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyMetricsTextfile, "")
	v.SetDefault(KeyTracingExporter, "none")
	v.SetDefault(KeyTracingEndpoint, "")
	v.SetDefault(KeyTracingSampling, 1.0)
	v.SetDefault(KeyTracingInsecure, false)
	v.SetDefault(KeyHistoryEnabled, true)
	v.SetDefault(KeyHistoryPath, "")
	v.SetDefault(KeyHistoryKeep, 100)
	v.SetDefault(KeyMCPServers, []string{})
	v.SetDefault(KeyMCPClaudeConfig, filepath.Join(home, ".claude.json"))
	v.SetDefault(KeyBackupKeep, 5)
	v.SetDefault(KeyBackupCompression, "gzip")
	v.SetDefault(KeyAuditEnabled, true)
	v.SetDefault(KeyAuditLog, "")
	v.SetDefault(KeyUpdateEnabled, true)
	v.SetDefault(KeyUpdateURL, DefaultUpdateURL)
	v.SetDefault(KeyUpdateTimeout, 2*time.Second)
	v.SetDefault(KeyUpdateInterval, 24*time.Hour)
}

// bindFlags binds the known flags present in fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	if f := fs.Lookup("no-history"); f != nil && f.Changed && f.Value.String() == "true" {
		v.Set(KeyHistoryEnabled, false)
	}
	return nil
}

// DefaultStateDir returns $XDG_STATE_HOME/scinstall or
// ~/.local/state/scinstall.
func DefaultStateDir(home string) string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName)
	}
	return filepath.Join(home, ".local", "state", configDirName)
}

// resolvePaths expands ~ and fills the default paths.
func (c *Config) resolvePaths(home string) {
	c.InstallDir = expandHome(c.InstallDir, home)
	c.SourceDir = expandHome(c.SourceDir, home)
	c.MCP.ClaudeConfig = expandHome(c.MCP.ClaudeConfig, home)

	if abs, err := filepath.Abs(c.InstallDir); err == nil {
		c.InstallDir = abs
	}
	if abs, err := filepath.Abs(c.SourceDir); err == nil {
		c.SourceDir = abs
	}

	if c.History.Path == "" {
		c.History.Path = filepath.Join(DefaultStateDir(home), "history.db")
	} else {
		c.History.Path = expandHome(c.History.Path, home)
	}
	if c.Security.AuditLog == "" {
		c.Security.AuditLog = filepath.Join(DefaultStateDir(home), "security.log")
	} else {
		c.Security.AuditLog = expandHome(c.Security.AuditLog, home)
	}
	if c.Metrics.Textfile == "" {
		c.Metrics.Textfile = filepath.Join(DefaultStateDir(home), "scinstall.prom")
	} else {
		c.Metrics.Textfile = expandHome(c.Metrics.Textfile, home)
	}
}

func expandHome(path, home string) string {
	switch {
	case path == "~":
		return home
	case strings.HasPrefix(path, "~/"), strings.HasPrefix(path, `~\`):
		return filepath.Join(home, path[2:])
	}
	return path
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
