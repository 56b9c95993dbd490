package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// checkAccess verifies read and/or write access on path. A path that does
// not exist yet is checked through its nearest existing ancestor, which is
// where it would be created.
func checkAccess(path string, read, write bool) (bool, string) {
	existing := path
	for {
		if _, err := os.Stat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return false, fmt.Sprintf("No existing parent directory for %s", path)
		}
		existing = parent
	}

	if read && !canAccess(existing, false) {
		return false, fmt.Sprintf("Insufficient permissions: no read access to %s", existing)
	}
	if write && !canAccess(existing, true) {
		return false, fmt.Sprintf("Insufficient permissions: no write access to %s", existing)
	}
	return true, ""
}

// CheckPermissions reports whether path (or the ancestor it would be
// created under) grants the requested access.
func CheckPermissions(path string, read, write bool) (bool, string) {
	return checkAccess(path, read, write)
}
