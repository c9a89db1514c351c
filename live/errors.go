package live

import (
	"errors"
	"fmt"
)

// Sentinel errors for comment channel operations.
var (
	// ErrConnectionTimeout indicates the comment server did not answer the
	// subscribe frame before the connect timeout.
	ErrConnectionTimeout = errors.New("comment server connection timed out")
	// ErrChannelDisposed indicates an operation on a disposed channel.
	ErrChannelDisposed = errors.New("comment channel has been disposed")
	// ErrNotConnected indicates a post attempt without a live connection.
	ErrNotConnected = errors.New("not connected to the comment server")
	// ErrEmptyComment indicates a post with no text after trimming.
	ErrEmptyComment = errors.New("cannot post an empty comment")
	// ErrPostKeyFetch indicates the postkey endpoint returned no usable key.
	ErrPostKeyFetch = errors.New("failed to fetch post key")
	// ErrPostResultTimeout indicates no post result arrived in time.
	ErrPostResultTimeout = errors.New("post result response timed out")
	// ErrServiceMaintenance indicates the platform is in maintenance.
	ErrServiceMaintenance = errors.New("nicovideo is in maintenance")
)

// Post result status codes reported in chat_result frames.
const (
	postStatusSuccess         = 0
	postStatusContinuousPost  = 1
	postStatusThreadIDError   = 2
	postStatusTicketError     = 3
	postStatusPostKeyMismatch = 4
	postStatusLocked          = 5
	// The server reports a postkey mismatch as either 4 or 8.
	postStatusPostKeyMismatchAlt = 8
)

// Sentinel errors for rejected comment posts, keyed by the chat_result
// status code.
var (
	// ErrPostThreadID indicates the post named a wrong thread id.
	ErrPostThreadID = errors.New("post rejected: thread id error")
	// ErrPostTicket indicates the post carried a stale or wrong ticket.
	ErrPostTicket = errors.New("post rejected: ticket error")
	// ErrPostKeyMismatch indicates the postkey did not match.
	ErrPostKeyMismatch = errors.New("post rejected: postkey mismatch")
	// ErrPostLocked indicates posting has been locked for this user.
	ErrPostLocked = errors.New("post rejected: posting is locked")
	// ErrPostDuplicate indicates the same comment was posted twice in a row.
	ErrPostDuplicate = errors.New("post rejected: continuous duplicate post")
)

// PostRejectedError reports a chat_result status this package does not
// recognize.
type PostRejectedError struct {
	Status int
}

func (e *PostRejectedError) Error() string {
	return fmt.Sprintf("post rejected: status %d", e.Status)
}

// postResultError maps a chat_result status to its error, or nil on success.
func postResultError(status int) error {
	switch status {
	case postStatusSuccess:
		return nil
	case postStatusContinuousPost:
		return ErrPostDuplicate
	case postStatusThreadIDError:
		return ErrPostThreadID
	case postStatusTicketError:
		return ErrPostTicket
	case postStatusPostKeyMismatch, postStatusPostKeyMismatchAlt:
		return ErrPostKeyMismatch
	case postStatusLocked:
		return ErrPostLocked
	default:
		return &PostRejectedError{Status: status}
	}
}

// MetadataError indicates the broadcast metadata API answered with a
// non-ok status. Code carries the platform error code from the body.
type MetadataError struct {
	BroadcastID string
	Code        string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("broadcast %s: metadata fetch failed (%s)", e.BroadcastID, e.Code)
}
