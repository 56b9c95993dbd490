package components

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrFileLocked is returned when another process holds a conflicting lock.
var ErrFileLocked = errors.New("file is locked by another process")

// lockRetry is the retry policy for the shared integration config.
type lockRetry struct {
	attempts int
	delay    time.Duration
}

var defaultLockRetry = lockRetry{attempts: 3, delay: 100 * time.Millisecond}

// withLock runs fn while holding a lock on f. Lock contention is retried
// with exponential backoff: delay, 2*delay, 4*delay...
func withLock(f *os.File, exclusive bool, retry lockRetry, fn func() error) error {
	var err error
	for attempt := 0; attempt < retry.attempts; attempt++ {
		if err = tryLock(f, exclusive); err == nil {
			break
		}
		if attempt < retry.attempts-1 {
			time.Sleep(retry.delay * time.Duration(1<<attempt))
		}
	}
	if err != nil {
		return fmt.Errorf("could not lock %s after %d attempts: %w", f.Name(), retry.attempts, err)
	}
	defer unlock(f)
	return fn()
}
