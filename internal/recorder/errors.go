package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/skypro1111/vad-recorder/internal/device"
)

var (
	// ErrPermissionDenied is returned when the host refuses microphone access
	ErrPermissionDenied = device.ErrPermissionDenied
	// ErrDeviceUnavailable is returned when no input device could be opened
	ErrDeviceUnavailable = device.ErrDeviceUnavailable
	// ErrNoActiveSession is returned by StopRecording and Cancel when there
	// is nothing to stop
	ErrNoActiveSession = errors.New("no active recording session")
	// ErrSessionAlreadyActive is returned when a session is already running
	ErrSessionAlreadyActive = errors.New("recording session already active")
	// ErrEncodingFailure wraps encoder errors
	ErrEncodingFailure = errors.New("audio encoding failed")
	// ErrCanceled is returned when a session was canceled before it stopped
	ErrCanceled = errors.New("recording canceled")
)

// canceledError wraps ErrCanceled with the reason the context ended, so a
// deadline stays distinguishable from an explicit cancel
func canceledError(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// withReleaseError attaches a stream release failure to the error that
// ended the session
func withReleaseError(err, releaseErr error) error {
	if releaseErr == nil {
		return err
	}
	if err == nil {
		return releaseErr
	}
	return multierror.Append(err, releaseErr)
}
