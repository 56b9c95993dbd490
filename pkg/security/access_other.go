//go:build !unix

package security

import "os"

// canAccess falls back to permission bits where access(2) is unavailable.
func canAccess(path string, write bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if write {
		return info.Mode().Perm()&0200 != 0
	}
	return true
}
