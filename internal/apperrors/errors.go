// Package apperrors defines the error kinds surfaced by the core subsystems.
// Handlers map them to HTTP status codes with errors.Is.
package apperrors

import "errors"

var (
	// ErrNotFound indicates an unknown media file, library, or job.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an already-running job, a duplicate path, or a
	// resource that is already terminal.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument indicates a bad range, an invalid segment name, or
	// an unknown operator in filter criteria.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrForbidden indicates a disabled library or a non-admin operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable indicates the scheduler has not been started.
	ErrUnavailable = errors.New("unavailable")

	// ErrProbeFailed indicates ffprobe could not analyze a file.
	ErrProbeFailed = errors.New("probe failed")

	// ErrEncoderFailed indicates ffmpeg exited abnormally or failed to start.
	ErrEncoderFailed = errors.New("encoder failed")

	// ErrCancellationRequested is returned by job bodies that observed the
	// cancellation flag. It is a terminal status, not a failure.
	ErrCancellationRequested = errors.New("cancellation requested")

	// ErrTimeout indicates an external process exceeded its wall-clock budget.
	ErrTimeout = errors.New("timeout")
)
