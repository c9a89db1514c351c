package live

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/internal/emitter"
)

// Content is one entry of a broadcast's playback queue. For videos the
// Content field reads "smile:<videoId>".
type Content struct {
	ID           string
	StartTime    time.Time
	DisableAudio bool
	DisableVideo bool
	Duration     int
	Title        string
	Content      string
}

// Stream is the broadcast itself.
type Stream struct {
	BroadcastID  string
	Title        string
	Description  string
	WatchCount   int
	CommentCount int
	BaseTime     time.Time
	OpenTime     time.Time
	StartTime    time.Time
	EndTime      time.Time
	// IsOfficial reports an officially provided broadcast.
	IsOfficial bool
	// IsNsen reports a broadcast on one of the Nsen auto-DJ channels.
	IsNsen bool
	// NsenType is the channel suffix of "nsen/<type>", empty otherwise.
	NsenType string
	Contents []Content
}

// Owner is the broadcaster.
type Owner struct {
	UserID string
	Name   string
}

// Viewer is the logged-in user as the broadcast sees them.
type Viewer struct {
	ID        string
	Name      string
	IsPremium bool
}

// RTMP carries the media relay parameters.
type RTMP struct {
	IsFMS  bool
	Port   int
	URL    string
	Ticket string
}

// Metadata is everything one getplayerstatus call reports. Fetch
// replaces it wholesale.
type Metadata struct {
	Stream  Stream
	Owner   Owner
	Viewer  Viewer
	RTMP    RTMP
	Comment ServerInfo
}

// BroadcastConfig configures a BroadcastInfo.
type BroadcastConfig struct {
	Session   *nhttp.Session
	Endpoints config.Endpoints
	// Logger defaults to the standard logger.
	Logger *logrus.Logger
	// Dial is handed to the vended comment channel. Optional.
	Dial DialFunc
}

// BroadcastInfo fetches and holds the metadata of one live broadcast,
// and vends the comment channel bound to it.
type BroadcastInfo struct {
	id        string
	session   *nhttp.Session
	endpoints config.Endpoints
	logger    *logrus.Logger
	log       *logrus.Entry
	dial      DialFunc

	mu          sync.RWMutex
	meta        *Metadata
	ended       bool
	channel     *CommentChannel
	refreshedEv emitter.Emitter[*Metadata]
}

// NewBroadcastInfo creates an unfetched BroadcastInfo for the broadcast id.
func NewBroadcastInfo(id string, cfg BroadcastConfig) *BroadcastInfo {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BroadcastInfo{
		id:        id,
		session:   cfg.Session,
		endpoints: cfg.Endpoints,
		logger:    logger,
		log:       logger.WithField("broadcast", id),
		dial:      cfg.Dial,
	}
}

// ID returns the broadcast id.
func (b *BroadcastInfo) ID() string { return b.id }

// Metadata returns the last fetched metadata, or nil before the first
// Fetch.
func (b *BroadcastInfo) Metadata() *Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}

// IsOfficial reports whether this is an official broadcast.
func (b *BroadcastInfo) IsOfficial() bool {
	m := b.Metadata()
	return m != nil && m.Stream.IsOfficial
}

// IsNsen reports whether this broadcast belongs to an Nsen channel.
func (b *BroadcastInfo) IsNsen() bool {
	m := b.Metadata()
	return m != nil && m.Stream.IsNsen
}

// IsEnded reports whether the distributor has ended the broadcast. Once
// set it never resets.
func (b *BroadcastInfo) IsEnded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ended
}

// OnRefreshed registers a listener called after every successful Fetch.
func (b *BroadcastInfo) OnRefreshed(fn func(*Metadata)) *emitter.Subscription {
	return b.refreshedEv.Subscribe(fn)
}

// Fetch retrieves the broadcast metadata and replaces the held copy. A
// 503 response maps to ErrServiceMaintenance; a non-ok body status maps
// to a MetadataError carrying the platform error code.
func (b *BroadcastInfo) Fetch(ctx context.Context) error {
	res, err := b.session.Get(ctx, b.endpoints.PlayerStatus+b.id)
	if err != nil {
		var httpErr *nhttp.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == http.StatusServiceUnavailable {
				return fmt.Errorf("broadcast %s: %w", b.id, ErrServiceMaintenance)
			}
			// Error bodies can arrive with an error status line; fall
			// through to the body when one is present.
			if len(httpErr.Body) > 0 {
				res = &nhttp.Response{StatusCode: httpErr.StatusCode, Body: httpErr.Body}
			} else {
				return fmt.Errorf("broadcast %s: fetch metadata: %w", b.id, err)
			}
		} else {
			return fmt.Errorf("broadcast %s: fetch metadata: %w", b.id, err)
		}
	}

	meta, err := parsePlayerStatus(res.Body, b.id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.meta = meta
	channel := b.channel
	b.mu.Unlock()

	// The response identifies the logged-in viewer; the session carries
	// that identity into post frames and own-post marking.
	b.session.SetIdentity(meta.Viewer.ID, meta.Viewer.IsPremium)

	// The comment thread id occasionally rolls over mid-broadcast.
	if channel != nil {
		channel.SetThread(meta.Comment.Thread)
	}

	b.refreshedEv.Emit(meta)
	return nil
}

// ChannelOptions tunes CommentChannel vending.
type ChannelOptions struct {
	// Connect makes the call wait for the channel's connect handshake.
	Connect bool
	// ConnectOptions applies when Connect is set.
	ConnectOptions *ConnectOptions
}

// CommentChannel returns the comment channel for this broadcast,
// creating it on first use. The metadata must have been fetched. The
// same channel is returned for the life of this instance.
func (b *BroadcastInfo) CommentChannel(ctx context.Context, opts *ChannelOptions) (*CommentChannel, error) {
	if opts == nil {
		opts = &ChannelOptions{}
	}

	b.mu.Lock()
	if b.channel != nil {
		channel := b.channel
		b.mu.Unlock()
		if opts.Connect {
			if err := channel.Connect(ctx, opts.ConnectOptions); err != nil {
				return nil, err
			}
		}
		return channel, nil
	}
	meta := b.meta
	if meta == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("broadcast %s: metadata not fetched", b.id)
	}

	channel := NewCommentChannel(ChannelConfig{
		Session:     b.session,
		Endpoints:   b.endpoints,
		Server:      meta.Comment,
		BroadcastID: b.id,
		Logger:      b.logger,
		Dial:        b.dial,
	})
	b.channel = channel
	b.mu.Unlock()

	channel.OnEnded(func() {
		b.mu.Lock()
		b.ended = true
		b.mu.Unlock()
	})

	if opts.Connect {
		if err := channel.Connect(ctx, opts.ConnectOptions); err != nil {
			return nil, err
		}
	}
	return channel, nil
}

// Dispose releases the vended channel and all subscriptions.
func (b *BroadcastInfo) Dispose() {
	b.mu.Lock()
	channel := b.channel
	b.channel = nil
	b.mu.Unlock()

	if channel != nil {
		channel.Dispose()
	}
	b.refreshedEv.Clear()
}

// playerStatusXML mirrors the getplayerstatus response document.
type playerStatusXML struct {
	XMLName xml.Name `xml:"getplayerstatus"`
	Status  string   `xml:"status,attr"`
	Error   struct {
		Code string `xml:"code"`
	} `xml:"error"`
	Stream struct {
		ID           string `xml:"id"`
		Title        string `xml:"title"`
		Description  string `xml:"description"`
		WatchCount   string `xml:"watch_count"`
		CommentCount string `xml:"comment_count"`
		BaseTime     string `xml:"base_time"`
		OpenTime     string `xml:"open_time"`
		StartTime    string `xml:"start_time"`
		EndTime      string `xml:"end_time"`
		ProviderType string `xml:"provider_type"`
		OwnerID      string `xml:"owner_id"`
		OwnerName    string `xml:"owner_name"`
		ContentsList struct {
			Contents []struct {
				ID           string `xml:"id,attr"`
				StartTime    string `xml:"start_time,attr"`
				DisableAudio string `xml:"disableAudio,attr"`
				DisableVideo string `xml:"disableVideo,attr"`
				Duration     string `xml:"duration,attr"`
				Title        string `xml:"title,attr"`
				Content      string `xml:",chardata"`
			} `xml:"contents"`
		} `xml:"contents_list"`
		Ns *struct {
			NsType string `xml:"nstype"`
		} `xml:"ns"`
	} `xml:"stream"`
	User struct {
		UserID    string `xml:"user_id"`
		Nickname  string `xml:"nickname"`
		IsPremium string `xml:"is_premium"`
	} `xml:"user"`
	RTMP struct {
		IsFMS     string `xml:"is_fms,attr"`
		RtmptPort string `xml:"rtmpt_port,attr"`
		URL       string `xml:"url"`
		Ticket    string `xml:"ticket"`
	} `xml:"rtmp"`
	MS struct {
		Addr   string `xml:"addr"`
		Port   string `xml:"port"`
		Thread string `xml:"thread"`
	} `xml:"ms"`
}

func parsePlayerStatus(body []byte, broadcastID string) (*Metadata, error) {
	var doc playerStatusXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("broadcast %s: parse metadata: %w", broadcastID, err)
	}

	if doc.Status != "ok" {
		return nil, &MetadataError{BroadcastID: broadcastID, Code: doc.Error.Code}
	}

	contents := make([]Content, 0, len(doc.Stream.ContentsList.Contents))
	for _, el := range doc.Stream.ContentsList.Contents {
		contents = append(contents, Content{
			ID:           el.ID,
			StartTime:    unixTime(el.StartTime),
			DisableAudio: atoi(el.DisableAudio) == 1,
			DisableVideo: atoi(el.DisableVideo) == 1,
			Duration:     atoi(el.Duration),
			Title:        el.Title,
			Content:      el.Content,
		})
	}

	nsenType := ""
	if doc.Stream.Ns != nil {
		nsenType = doc.Stream.Ns.NsType
	}

	return &Metadata{
		Stream: Stream{
			BroadcastID:  doc.Stream.ID,
			Title:        doc.Stream.Title,
			Description:  doc.Stream.Description,
			WatchCount:   atoi(doc.Stream.WatchCount),
			CommentCount: atoi(doc.Stream.CommentCount),
			BaseTime:     unixTime(doc.Stream.BaseTime),
			OpenTime:     unixTime(doc.Stream.OpenTime),
			StartTime:    unixTime(doc.Stream.StartTime),
			EndTime:      unixTime(doc.Stream.EndTime),
			IsOfficial:   doc.Stream.ProviderType == "official",
			IsNsen:       doc.Stream.Ns != nil,
			NsenType:     nsenType,
			Contents:     contents,
		},
		Owner: Owner{
			UserID: doc.Stream.OwnerID,
			Name:   doc.Stream.OwnerName,
		},
		Viewer: Viewer{
			ID:        doc.User.UserID,
			Name:      doc.User.Nickname,
			IsPremium: doc.User.IsPremium == "1",
		},
		RTMP: RTMP{
			IsFMS:  doc.RTMP.IsFMS == "1",
			Port:   atoi(doc.RTMP.RtmptPort),
			URL:    doc.RTMP.URL,
			Ticket: doc.RTMP.Ticket,
		},
		Comment: ServerInfo{
			Addr:   doc.MS.Addr,
			Port:   atoi(doc.MS.Port),
			Thread: doc.MS.Thread,
		},
	}, nil
}

func unixTime(s string) time.Time {
	return time.Unix(int64(atoi(s)), 0)
}
