package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// DefaultMinFreeMB is the free space required when no requirement is
// configured.
const DefaultMinFreeMB = 500

const writeTestFile = ".write_test"

// errFreeSpaceUnsupported is returned by freeBytes on platforms without a
// free space query. The disk space check is then skipped.
var errFreeSpaceUnsupported = errors.New("free space check not supported on this platform")

// Preflight holds the batch-level checks run before any unit is touched.
type Preflight struct {
	InstallDir string
	// MinFreeMB is the minimum free space on the target filesystem.
	MinFreeMB int64
	// RequiredBytes is the estimated size of the artifacts to install. It
	// raises the free space requirement when larger than MinFreeMB.
	RequiredBytes int64
	DryRun        bool
	Guard         *security.Guard
	Logger        telemetry.Logger

	// free is replaceable in tests.
	free func(path string) (uint64, error)
}

// Check runs every check and returns all failures as fatal errors. In dry
// run mode the write test is replaced by a permission check so nothing is
// created.
func (p Preflight) Check() []error {
	logger := p.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	free := p.free
	if free == nil {
		free = freeBytes
	}

	var errs []error

	if p.Guard != nil {
		if ok, reason := p.Guard.ValidateInstallTarget(p.InstallDir); !ok {
			errs = append(errs, NewFatalError(ErrCodePathDenied,
				fmt.Sprintf("installation directory rejected: %s", reason), nil))
			// Nothing else is safe to check on a rejected target.
			return errs
		}
	}

	anchor := existingAncestor(p.InstallDir)
	required := uint64(p.MinFreeMB) * 1024 * 1024
	if p.RequiredBytes > 0 && uint64(p.RequiredBytes) > required {
		required = uint64(p.RequiredBytes)
	}
	if avail, err := free(anchor); errors.Is(err, errFreeSpaceUnsupported) {
		logger.Warn("skipping disk space check: " + err.Error())
	} else if err != nil {
		errs = append(errs, NewFatalError(ErrCodeDiskSpace, "could not check disk space", err))
	} else if avail < required {
		errs = append(errs, NewFatalError(ErrCodeDiskSpace, fmt.Sprintf(
			"insufficient disk space: %.1fMB free (%.1fMB required)",
			float64(avail)/(1024*1024), float64(required)/(1024*1024)), nil))
	} else {
		logger.Debug(fmt.Sprintf("%.1fMB free on %s", float64(avail)/(1024*1024), anchor))
	}

	if p.DryRun {
		if ok, reason := security.CheckPermissions(p.InstallDir, false, true); !ok {
			errs = append(errs, NewFatalError(ErrCodePermissionDenied,
				fmt.Sprintf("no write permission for %s: %s", p.InstallDir, reason), nil))
		}
		return errs
	}

	if err := writeTest(p.InstallDir); err != nil {
		errs = append(errs, NewFatalError(ErrCodePermissionDenied,
			fmt.Sprintf("no write permission for %s", p.InstallDir), err))
	}
	return errs
}

// writeTest creates dir if needed and creates and removes a file in it.
func writeTest(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, writeTestFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// existingAncestor returns path or its nearest ancestor that exists.
func existingAncestor(path string) string {
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}
