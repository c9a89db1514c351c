package niconico

import (
	"niconico/live"
	"niconico/nsen"
	"niconico/video"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, live.ErrConnectionTimeout) {
//		fmt.Println("comment server did not answer")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var rejected *live.PostRejectedError
//	if errors.As(err, &rejected) {
//		fmt.Printf("post refused with status %d\n", rejected.Status)
//	}

// Type aliases for convenient error handling.
type (
	// PostRejectedError reports an unrecognized post result status.
	PostRejectedError = live.PostRejectedError
	// MetadataError reports a failed broadcast metadata fetch.
	MetadataError = live.MetadataError
	// SyncError reports a failed Nsen request-state sync.
	SyncError = nsen.SyncError
	// ActionError reports a failed Nsen request/cancel/good/skip call.
	ActionError = nsen.ActionError
	// LookupError reports a failed video metadata lookup.
	LookupError = video.LookupError
)

// Sentinel errors exported from sub-packages.
var (
	// Comment channel errors
	// ErrConnectionTimeout indicates the comment server handshake timed out.
	ErrConnectionTimeout = live.ErrConnectionTimeout
	// ErrChannelDisposed indicates an operation on a disposed channel.
	ErrChannelDisposed = live.ErrChannelDisposed
	// ErrNotConnected indicates a post without a live connection.
	ErrNotConnected = live.ErrNotConnected
	// ErrEmptyComment indicates a post with no text.
	ErrEmptyComment = live.ErrEmptyComment
	// ErrPostKeyFetch indicates no usable postkey could be fetched.
	ErrPostKeyFetch = live.ErrPostKeyFetch
	// ErrPostResultTimeout indicates no post result arrived in time.
	ErrPostResultTimeout = live.ErrPostResultTimeout
	// ErrServiceMaintenance indicates the platform is in maintenance.
	ErrServiceMaintenance = live.ErrServiceMaintenance

	// Nsen errors
	// ErrNotNsenBroadcast indicates the broadcast is not an Nsen station.
	ErrNotNsenBroadcast = nsen.ErrNotNsenBroadcast
	// ErrDuplicateSkip indicates the playing track was already skipped.
	ErrDuplicateSkip = nsen.ErrDuplicateSkip
	// ErrNoPendingBroadcast indicates no rollover target was announced.
	ErrNoPendingBroadcast = nsen.ErrNoPendingBroadcast
	// ErrNothingPlaying indicates a skip with no playing track.
	ErrNothingPlaying = nsen.ErrNothingPlaying

	// Video errors
	// ErrVideoNotFound indicates the video does not exist.
	ErrVideoNotFound = video.ErrNotFound
	// ErrInvalidVideoID indicates a malformed video id.
	ErrInvalidVideoID = video.ErrInvalidID
	// ErrVideoMaintenance indicates the video service is in maintenance.
	ErrVideoMaintenance = video.ErrMaintenance
)
