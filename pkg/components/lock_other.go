//go:build !unix && !windows

package components

import "os"

// Platforms without flock or LockFileEx write unlocked.
func tryLock(*os.File, bool) error { return nil }

func unlock(*os.File) error { return nil }
