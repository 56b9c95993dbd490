// Package updater asks a release index whether a newer framework version
// exists. A check never fails the caller: every error means "no update".
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
	"github.com/superclaude-org/scinstall/pkg/version"
)

const (
	// CacheFile records the time of the last check inside the install dir.
	CacheFile = ".last_update_check"

	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 24 * time.Hour

	userAgent = "scinstall-updater"

	// maxBody bounds the index response; release indexes are small.
	maxBody = 4 << 20
)

// Result is the outcome of a check.
type Result struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	Available bool   `json:"available"`
}

// Config configures a Checker.
type Config struct {
	URL        string
	Current    string
	InstallDir string
	Timeout    time.Duration
	Interval   time.Duration
}

// Checker performs throttled update checks.
type Checker struct {
	cfg    Config
	client *http.Client
	logger telemetry.Logger
	now    func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient replaces the HTTP client. Its timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(ch *Checker) { ch.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(ch *Checker) { ch.now = now }
}

// New creates a Checker.
func New(cfg Config, opts ...Option) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Current == "" {
		cfg.Current = version.Framework
	}
	c := &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = telemetry.Nop()
	}
	return c
}

type cacheEntry struct {
	LastCheck int64 `json:"last_check"`
}

func (c *Checker) cachePath() string {
	return filepath.Join(c.cfg.InstallDir, CacheFile)
}

// ShouldCheck reports whether the throttle interval has passed since the
// last recorded check. force always checks.
func (c *Checker) ShouldCheck(force bool) bool {
	if force {
		return true
	}
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return true
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return true
	}
	return c.now().Sub(time.Unix(entry.LastCheck, 0)) > c.cfg.Interval
}

// saveTimestamp records the check. A missing install dir is not created:
// it would make a fresh target look like an existing installation.
func (c *Checker) saveTimestamp() {
	if c.cfg.InstallDir == "" {
		return
	}
	data, _ := json.Marshal(cacheEntry{LastCheck: c.now().Unix()})
	if err := os.WriteFile(c.cachePath(), data, 0644); err != nil {
		c.logger.Debug(fmt.Sprintf("update check: save timestamp: %v", err))
	}
}

// indexDoc accepts both a flat {"version": ...} document and the PyPI
// JSON API layout {"info": {"version": ...}}.
type indexDoc struct {
	Version string `json:"version"`
	Info    struct {
		Version string `json:"version"`
	} `json:"info"`
}

// Latest fetches the newest published version. It returns false on any
// failure.
func (c *Checker) Latest(ctx context.Context) (string, bool) {
	if c.cfg.URL == "" {
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		c.logger.Debug(fmt.Sprintf("update check: build request: %v", err))
		return "", false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug(fmt.Sprintf("update check failed: %v", err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug(fmt.Sprintf("update check failed: status %d", resp.StatusCode))
		return "", false
	}

	var doc indexDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&doc); err != nil {
		c.logger.Debug(fmt.Sprintf("update check: decode: %v", err))
		return "", false
	}
	latest := doc.Version
	if latest == "" {
		latest = doc.Info.Version
	}
	if latest == "" {
		c.logger.Debug("update check: index has no version")
		return "", false
	}
	c.logger.Debug(fmt.Sprintf("latest published version: %s", latest))
	return latest, true
}

// Check runs a throttled check. The second return value is false when
// the check was skipped or failed.
func (c *Checker) Check(ctx context.Context, force bool) (Result, bool) {
	res := Result{Current: c.cfg.Current}
	if !c.ShouldCheck(force) {
		c.logger.Debug("update check skipped: checked recently")
		return res, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	latest, ok := c.Latest(ctx)
	c.saveTimestamp()
	if !ok {
		return res, false
	}
	res.Latest = latest
	res.Available = version.IsNewer(latest, c.cfg.Current)
	return res, true
}
