// Package video looks up video metadata through the getthumbinfo API.
package video

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/internal/retry"
)

// videoIDPattern matches video ids such as "sm9" or "nm4089643".
var videoIDPattern = regexp.MustCompile(`^[a-z]{2}\d+$`)

// Metadata contains the information getthumbinfo reports for a video.
type Metadata struct {
	// ID is the video id (e.g. "sm9").
	ID string
	// Title is the video title with XML entities decoded.
	Title string
	// Description is the full video description.
	Description string
	// Length is the video duration in seconds.
	Length int
	// MovieType is the container format ("mp4", "flv", "swf").
	MovieType string
	// Thumbnail is the URL of the thumbnail image.
	Thumbnail string
	// IsDeleted reports whether the video has been removed.
	IsDeleted bool
	// Stats holds view, comment and mylist counters.
	Stats Stats
	// Tags are the video's tags across all regions.
	Tags []Tag
	// User is the uploader.
	User User
}

// Stats holds the per-video counters.
type Stats struct {
	View     int
	Comments int
	Mylist   int
}

// Tag is a single video tag.
type Tag struct {
	Name string
	// IsCategory reports whether this is a category tag.
	IsCategory bool
	// IsLocked reports whether the tag is locked by the uploader.
	IsLocked bool
	// Domain is the tag region ("jp" for Japan).
	Domain string
}

// User identifies the uploader of a video.
type User struct {
	ID   string
	Name string
	Icon string
}

// Sentinel errors for video lookups.
var (
	// ErrNotFound indicates the video does not exist or has been deleted.
	ErrNotFound = errors.New("video not found")
	// ErrInvalidID indicates a malformed video id.
	ErrInvalidID = errors.New("invalid video id")
	// ErrMaintenance indicates the video service is in maintenance.
	ErrMaintenance = errors.New("video service in maintenance")
)

// LookupError wraps a failed metadata lookup with the id and, when the
// API reported one, the error code from the response.
type LookupError struct {
	VideoID string
	Code    string
	Err     error
}

func (e *LookupError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("video lookup %s: %s: %v", e.VideoID, e.Code, e.Err)
	}
	return fmt.Sprintf("video lookup %s: %v", e.VideoID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Lookup resolves a video id to its metadata. The nsen controller takes
// one of these so tests can substitute a fake.
type Lookup func(ctx context.Context, videoID string) (*Metadata, error)

// Client fetches video metadata over an authenticated session.
type Client struct {
	session     *nhttp.Session
	endpoints   config.Endpoints
	RetryConfig *retry.Config
}

// NewClient creates a metadata client using the given session and endpoints.
func NewClient(session *nhttp.Session, endpoints config.Endpoints) *Client {
	cfg := retry.DefaultConfig()
	return &Client{
		session:     session,
		endpoints:   endpoints,
		RetryConfig: &cfg,
	}
}

// GetVideoInfo fetches metadata for a single video. Transient failures are
// retried with backoff; a missing or deleted video is permanent.
func (c *Client) GetVideoInfo(ctx context.Context, videoID string) (*Metadata, error) {
	if !videoIDPattern.MatchString(videoID) {
		return nil, &LookupError{VideoID: videoID, Err: ErrInvalidID}
	}

	cfg := c.RetryConfig
	if cfg == nil {
		defaultCfg := retry.DefaultConfig()
		cfg = &defaultCfg
	}

	var meta *Metadata
	err := retry.Do(ctx, *cfg, lookupErrorClassifier, func(ctx context.Context) error {
		res, err := c.session.Get(ctx, c.endpoints.ThumbInfo+videoID)
		if err != nil {
			var httpErr *nhttp.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == 503 {
				return &LookupError{VideoID: videoID, Err: ErrMaintenance}
			}
			return &LookupError{VideoID: videoID, Err: err}
		}

		meta, err = parseThumbResponse(res.Body, videoID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// lookupErrorClassifier retries everything except context errors and
// responses the API answered definitively.
func lookupErrorClassifier(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidID) {
		return false
	}
	return true
}

// thumbResponse mirrors the getthumbinfo XML document.
type thumbResponse struct {
	XMLName xml.Name   `xml:"nicovideo_thumb_response"`
	Status  string     `xml:"status,attr"`
	Error   thumbError `xml:"error"`
	Thumb   thumbBody  `xml:"thumb"`
}

type thumbError struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}

type thumbBody struct {
	VideoID       string      `xml:"video_id"`
	Title         string      `xml:"title"`
	Description   string      `xml:"description"`
	ThumbnailURL  string      `xml:"thumbnail_url"`
	Length        string      `xml:"length"`
	MovieType     string      `xml:"movie_type"`
	ViewCounter   int         `xml:"view_counter"`
	CommentNum    int         `xml:"comment_num"`
	MylistCounter int         `xml:"mylist_counter"`
	Tags          []thumbTags `xml:"tags"`
	UserID        string      `xml:"user_id"`
	UserNickname  string      `xml:"user_nickname"`
	UserIconURL   string      `xml:"user_icon_url"`
}

type thumbTags struct {
	Domain string     `xml:"domain,attr"`
	Tags   []thumbTag `xml:"tag"`
}

type thumbTag struct {
	Name     string `xml:",chardata"`
	Category string `xml:"category,attr"`
	Lock     string `xml:"lock,attr"`
}

func parseThumbResponse(body []byte, videoID string) (*Metadata, error) {
	var res thumbResponse
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, &LookupError{VideoID: videoID, Err: err}
	}

	if res.Status != "ok" {
		err := fmt.Errorf("%s: %w", res.Error.Description, ErrNotFound)
		return nil, &LookupError{VideoID: videoID, Code: res.Error.Code, Err: err}
	}

	tags := make([]Tag, 0)
	for _, group := range res.Thumb.Tags {
		for _, tag := range group.Tags {
			tags = append(tags, Tag{
				Name:       tag.Name,
				IsCategory: tag.Category == "1",
				IsLocked:   tag.Lock == "1",
				Domain:     group.Domain,
			})
		}
	}

	return &Metadata{
		ID:          res.Thumb.VideoID,
		Title:       res.Thumb.Title,
		Description: res.Thumb.Description,
		Length:      parseLength(res.Thumb.Length),
		MovieType:   res.Thumb.MovieType,
		Thumbnail:   res.Thumb.ThumbnailURL,
		IsDeleted:   false,
		Stats: Stats{
			View:     res.Thumb.ViewCounter,
			Comments: res.Thumb.CommentNum,
			Mylist:   res.Thumb.MylistCounter,
		},
		Tags: tags,
		User: User{
			ID:   res.Thumb.UserID,
			Name: res.Thumb.UserNickname,
			Icon: res.Thumb.UserIconURL,
		},
	}, nil
}

// parseLength converts "mm:ss" or "h:mm:ss" to seconds.
func parseLength(s string) int {
	parts := strings.Split(s, ":")
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}
