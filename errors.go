package vsched

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when a host or device allocation made on behalf of the scheduler
	// fails. The operation is aborted with no state change and may be retried.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrDeviceLost is returned when the device reports loss, or a fence wait fails for any reason
	// other than a timeout. The scheduler is poisoned and every later call returns the same error.
	ErrDeviceLost = errors.New("device lost")
	// ErrSubmissionFailed is returned when the queue rejects a submission. The scheduler is poisoned.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrSurfaceLost is returned when a render surface cannot acquire an image even after being
	// recreated. Only the surface is affected.
	ErrSurfaceLost = errors.New("render surface lost")
	// ErrResourceContextExhausted is returned by ResourceContextPool.TryAcquire when every context is in use
	ErrResourceContextExhausted = errors.New("no resource contexts available")
	// ErrTimeout is returned when a fence wait exceeds CreateOptions.FenceTimeout. It does not poison
	// the scheduler.
	ErrTimeout = errors.New("timed out waiting for fence")
	// ErrNotRecording is returned by Recording methods after the recording has been submitted
	ErrNotRecording = errors.New("recording is not active")
	// ErrAlreadyDestroyed is returned when a resource is marked for destruction more than once
	ErrAlreadyDestroyed = errors.New("resource has already been destroyed")
	// ErrNoResourceContext is returned when resource commands are recorded with a released resource context
	ErrNoResourceContext = errors.New("resource context is not valid")
	// ErrSurfaceNotAcquired is returned by SwapBuffers for a surface that has not been drawn to this frame
	ErrSurfaceNotAcquired = errors.New("render surface was not acquired this frame")
)

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrSubmissionFailed)
}

// classifyWaitError converts an error from a fence query or wait into a device loss. Waits have
// no failure mode other than losing the device.
func classifyWaitError(err error, format string, args ...interface{}) error {
	if errors.Is(err, ErrDeviceLost) {
		return errors.Wrapf(err, format, args...)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrDeviceLost)
}

// classifySubmitError converts an error from Queue.Submit or Queue.Present into a poisoning error.
// Out of memory results are left recoverable.
func classifySubmitError(err error, format string, args ...interface{}) error {
	wrapped := errors.Wrapf(err, format, args...)
	if errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrOutOfMemory) {
		return wrapped
	}
	return errors.Mark(wrapped, ErrSubmissionFailed)
}
