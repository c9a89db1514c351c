package nsen

import (
	"errors"
	"fmt"
)

// Error codes the request API reports in its error element.
const (
	RequestErrorNotLoggedIn = "not_login"
	RequestErrorClosed      = "nsen_close"
	RequestErrorTagRequired = "nsen_tag"
	RequestErrorTooLong     = "nsen_long"
	RequestErrorRequested   = "nsen_requested"
)

// Sentinel errors for Nsen channel control.
var (
	// ErrNotNsenBroadcast indicates the broadcast does not belong to an
	// Nsen channel.
	ErrNotNsenBroadcast = errors.New("broadcast is not an nsen channel")
	// ErrDuplicateSkip indicates the playing track was already skipped.
	ErrDuplicateSkip = errors.New("skip already sent for this track")
	// ErrNoPendingBroadcast indicates no rollover target has been
	// announced yet.
	ErrNoPendingBroadcast = errors.New("no next broadcast announced")
	// ErrNothingPlaying indicates a skip with no playing track.
	ErrNothingPlaying = errors.New("nothing is playing")
)

// SyncError indicates the request-state sync answered with an error
// code other than the benign "unknown".
type SyncError struct {
	Code string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync request state: %v", e.Err)
	}
	return fmt.Sprintf("sync request state failed (%s)", e.Code)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ActionError indicates a failed request, cancel, good or skip call.
// Code carries the platform error code from the response body.
type ActionError struct {
	Op   string
	Code string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("nsen %s failed (%s)", e.Op, e.Code)
}
