package commands

import (
	"context"
	"errors"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// ErrInterrupted is returned when a batch stopped on a signal.
var ErrInterrupted = errors.New("operation interrupted")

// reportedError marks a failure the command already showed to the user.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// IsReported reports whether err was already printed by the command.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}
