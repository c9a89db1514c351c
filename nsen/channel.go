// Package nsen drives the platform's Nsen auto-DJ channels: it reads
// the station's control comments off a live comment channel, turns them
// into typed events (track changes, panel state, button presses) and
// sends request, cancel, good and skip calls.
package nsen

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/internal/emitter"
	"niconico/live"
	"niconico/video"
)

// trackPattern extracts the video id from the /play source argument and
// from the queue head of broadcast metadata ("smile:sm12345").
var trackPattern = regexp.MustCompile(`smile:((?:sm|nm)[1-9][0-9]*)`)

// TrackChange reports a change of the playing track. Next is nil when
// the station stops playing, Prev is nil for the first track seen.
type TrackChange struct {
	Next *video.Metadata
	Prev *video.Metadata
}

// Config configures a Channel controller.
type Config struct {
	// Session authorizes the station's HTTP calls.
	Session *nhttp.Session
	// Endpoints locates the nsen APIs.
	Endpoints config.Endpoints
	// VideoLookup resolves track ids to metadata.
	VideoLookup video.Lookup
	// Logger defaults to the standard logger.
	Logger *logrus.Logger
	// TrackDebounce is how long /play announcements settle before a
	// track change is committed. Defaults to one second.
	TrackDebounce time.Duration
	// NewBroadcast constructs the BroadcastInfo for a rollover target.
	// Defaults to one built from Session and Endpoints.
	NewBroadcast func(id string) *live.BroadcastInfo
}

// Channel interprets one Nsen station. It wraps the station's live
// broadcast and its comment channel; disposal releases the controller's
// subscriptions but leaves the broadcast to its owner.
type Channel struct {
	session   *nhttp.Session
	endpoints config.Endpoints
	lookup    video.Lookup
	logger    *logrus.Logger
	log       *logrus.Entry
	debounce  time.Duration
	newInfo   func(id string) *live.BroadcastInfo

	mu              sync.Mutex
	broadcast       *live.BroadcastInfo
	channel         *live.CommentChannel
	subs            *emitter.SubscriptionSet
	playing         *video.Metadata
	requested       *video.Metadata
	lastSkippedID   string
	nextBroadcastID string
	trackTimer      *time.Timer

	commentEv          emitter.Emitter[*live.Comment]
	firstBatchEv       emitter.Emitter[[]*live.Comment]
	trackChangingEv    emitter.Emitter[*video.Metadata]
	trackChangedEv     emitter.Emitter[TrackChange]
	skipAvailableEv    emitter.Emitter[struct{}]
	closingEv          emitter.Emitter[string]
	requestStateEv     emitter.Emitter[string]
	goodReceivedEv     emitter.Emitter[struct{}]
	mylistReceivedEv   emitter.Emitter[struct{}]
	djMessageEv        emitter.Emitter[string]
	panelEv            emitter.Emitter[*PanelState]
	goodPushedEv       emitter.Emitter[struct{}]
	skipPushedEv       emitter.Emitter[struct{}]
	requestSentEv      emitter.Emitter[*video.Metadata]
	requestCancelledEv emitter.Emitter[*video.Metadata]
	streamChangedEv    emitter.Emitter[*live.BroadcastInfo]
	endedEv            emitter.Emitter[struct{}]
}

// New creates a controller for an Nsen broadcast. The broadcast must
// have been fetched and belong to an Nsen channel.
func New(broadcast *live.BroadcastInfo, cfg Config) (*Channel, error) {
	if !broadcast.IsNsen() {
		return nil, fmt.Errorf("broadcast %s: %w", broadcast.ID(), ErrNotNsenBroadcast)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	debounce := cfg.TrackDebounce
	if debounce <= 0 {
		debounce = time.Second
	}

	c := &Channel{
		session:   cfg.Session,
		endpoints: cfg.Endpoints,
		lookup:    cfg.VideoLookup,
		logger:    logger,
		debounce:  debounce,
		newInfo:   cfg.NewBroadcast,
	}
	if c.newInfo == nil {
		c.newInfo = func(id string) *live.BroadcastInfo {
			return live.NewBroadcastInfo(id, live.BroadcastConfig{
				Session:   cfg.Session,
				Endpoints: cfg.Endpoints,
				Logger:    logger,
			})
		}
	}

	c.attach(broadcast)
	return c, nil
}

// attach binds the controller to a broadcast, replacing any previous
// subscription set.
func (c *Channel) attach(broadcast *live.BroadcastInfo) {
	c.mu.Lock()
	old := c.subs
	c.subs = &emitter.SubscriptionSet{}
	c.broadcast = broadcast
	c.channel = nil
	c.log = c.logger.WithFields(logrus.Fields{
		"broadcast": broadcast.ID(),
		"nsen":      c.channelTypeLocked(),
	})
	subs := c.subs
	c.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
	subs.Add(broadcast.OnRefreshed(func(m *live.Metadata) {
		c.didRefresh(m)
	}))
}

func (c *Channel) channelTypeLocked() string {
	if m := c.broadcast.Metadata(); m != nil {
		return m.Stream.NsenType
	}
	return ""
}

// ChannelType returns the station type, the "vocaloid" of
// "nsen/vocaloid".
func (c *Channel) ChannelType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelTypeLocked()
}

// Broadcast returns the currently attached broadcast.
func (c *Channel) Broadcast() *live.BroadcastInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broadcast
}

// CurrentVideo returns the playing track, or nil.
func (c *Channel) CurrentVideo() *video.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// RequestedVideo returns the viewer's tracked request, or nil.
func (c *Channel) RequestedVideo() *video.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// IsSkipRequestable reports whether a skip for the playing track would
// be accepted: something must be playing and not already skipped.
func (c *Channel) IsSkipRequestable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing != nil && c.playing.ID != c.lastSkippedID
}

// Connect attaches to the broadcast's comment channel and starts
// interpreting its control comments.
func (c *Channel) Connect(ctx context.Context, opts *live.ConnectOptions) error {
	c.mu.Lock()
	broadcast := c.broadcast
	subs := c.subs
	existing := c.channel
	c.mu.Unlock()

	if existing != nil {
		return existing.Connect(ctx, opts)
	}

	channel, err := broadcast.CommentChannel(ctx, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	// Control comments in the initial backlog are interpreted exactly
	// once, through the first-batch delivery; the per-comment stream is
	// subscribed only after the batch has been handled.
	subs.Add(channel.OnFirstBatch(func(batch []*live.Comment) {
		for _, comment := range batch {
			c.handleComment(comment)
		}
		c.firstBatchEv.Emit(batch)
		subs.Add(channel.OnComment(func(comment *live.Comment) {
			c.handleComment(comment)
		}))
	}))
	subs.Add(channel.OnEnded(func() {
		c.endedEv.Emit(struct{}{})
		if err := c.MoveToNextBroadcast(context.Background(), nil); err != nil {
			c.log.WithError(err).Warn("could not move to the next broadcast")
		}
	}))

	return channel.Connect(ctx, opts)
}

// Reconnect re-establishes the comment channel connection.
func (c *Channel) Reconnect(ctx context.Context, opts *live.ConnectOptions) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return live.ErrNotConnected
	}
	return channel.Reconnect(ctx, opts)
}

// PostComment posts viewer chat through the underlying comment channel.
func (c *Channel) PostComment(ctx context.Context, text string, tags []string, timeout time.Duration) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return live.ErrNotConnected
	}
	return channel.PostComment(ctx, text, tags, timeout)
}

// nsenResponseXML matches any of the nsen API response documents: a
// root status attribute, an optional error code and an optional
// requested video id.
type nsenResponseXML struct {
	Status string `xml:"status,attr"`
	Error  struct {
		Code string `xml:"code"`
	} `xml:"error"`
	ID string `xml:"id"`
}

func (c *Channel) callNsen(ctx context.Context, endpoint string, params url.Values) (*nsenResponseXML, error) {
	res, err := c.session.Get(ctx, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	var doc nsenResponseXML
	if err := xml.Unmarshal(res.Body, &doc); err != nil {
		return nil, fmt.Errorf("parse nsen response: %w", err)
	}
	return &doc, nil
}

// Fetch refreshes the broadcast metadata and synchronizes the tracked
// request with the server. The request API answers a bare "no request
// pending" as status="fail" with error code "unknown"; that clears the
// tracked request instead of failing the call.
func (c *Channel) Fetch(ctx context.Context) error {
	c.mu.Lock()
	broadcast := c.broadcast
	c.mu.Unlock()

	if err := broadcast.Fetch(ctx); err != nil {
		return err
	}

	doc, err := c.callNsen(ctx, c.endpoints.NsenRequest, url.Values{
		"v":    {broadcast.ID()},
		"mode": {"requesting"},
	})
	if err != nil {
		return &SyncError{Err: err}
	}

	if doc.Status != "ok" {
		if doc.Error.Code != "unknown" {
			return &SyncError{Code: doc.Error.Code}
		}
		// Nothing requested on the server side.
		c.mu.Lock()
		requested := c.requested
		c.requested = nil
		c.mu.Unlock()
		if requested != nil {
			c.requestCancelledEv.Emit(requested)
		}
		return nil
	}

	if doc.ID == "" {
		return nil
	}

	c.mu.Lock()
	already := c.requested != nil && c.requested.ID == doc.ID
	c.mu.Unlock()
	if already {
		return nil
	}

	movie, err := c.lookup(ctx, doc.ID)
	if err != nil {
		return &SyncError{Err: err}
	}

	c.mu.Lock()
	c.requested = movie
	c.mu.Unlock()
	c.requestSentEv.Emit(movie)
	return nil
}

// PushRequest resolves videoID and requests it on the station.
func (c *Channel) PushRequest(ctx context.Context, videoID string) error {
	movie, err := c.lookup(ctx, videoID)
	if err != nil {
		return err
	}
	return c.PushRequestVideo(ctx, movie)
}

// PushRequestVideo requests an already resolved video on the station.
func (c *Channel) PushRequestVideo(ctx context.Context, movie *video.Metadata) error {
	c.mu.Lock()
	broadcastID := c.broadcast.ID()
	c.mu.Unlock()

	doc, err := c.callNsen(ctx, c.endpoints.NsenRequest, url.Values{
		"v":  {broadcastID},
		"id": {movie.ID},
	})
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	if doc.Status != "ok" {
		return &ActionError{Op: "request", Code: doc.Error.Code}
	}

	c.mu.Lock()
	c.requested = movie
	c.mu.Unlock()
	c.requestSentEv.Emit(movie)
	return nil
}

// CancelRequest withdraws the tracked request. Succeeds as a no-op when
// nothing is tracked.
func (c *Channel) CancelRequest(ctx context.Context) error {
	c.mu.Lock()
	requested := c.requested
	broadcastID := c.broadcast.ID()
	c.mu.Unlock()

	if requested == nil {
		return nil
	}

	doc, err := c.callNsen(ctx, c.endpoints.NsenRequest, url.Values{
		"v":    {broadcastID},
		"mode": {"cancel"},
	})
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if doc.Status != "ok" {
		return &ActionError{Op: "cancel", Code: doc.Error.Code}
	}

	c.mu.Lock()
	c.requested = nil
	c.mu.Unlock()
	c.requestCancelledEv.Emit(requested)
	return nil
}

// PushGood votes good for the playing track.
func (c *Channel) PushGood(ctx context.Context) error {
	c.mu.Lock()
	broadcastID := c.broadcast.ID()
	c.mu.Unlock()

	doc, err := c.callNsen(ctx, c.endpoints.NsenGood, url.Values{"v": {broadcastID}})
	if err != nil {
		return fmt.Errorf("push good: %w", err)
	}
	if doc.Status != "ok" {
		return &ActionError{Op: "good", Code: doc.Error.Code}
	}

	c.goodPushedEv.Emit(struct{}{})
	return nil
}

// PushSkip votes to skip the playing track. One skip per track: the
// vote is refused until the track changes.
func (c *Channel) PushSkip(ctx context.Context) error {
	c.mu.Lock()
	broadcastID := c.broadcast.ID()
	playing := c.playing
	lastSkipped := c.lastSkippedID
	c.mu.Unlock()

	if playing == nil {
		return ErrNothingPlaying
	}
	if playing.ID == lastSkipped {
		return ErrDuplicateSkip
	}

	doc, err := c.callNsen(ctx, c.endpoints.NsenSkip, url.Values{"v": {broadcastID}})
	if err != nil {
		return fmt.Errorf("push skip: %w", err)
	}
	if doc.Status != "ok" {
		return &ActionError{Op: "skip", Code: doc.Error.Code}
	}

	c.mu.Lock()
	c.lastSkippedID = playing.ID
	c.mu.Unlock()
	c.skipPushedEv.Emit(struct{}{})
	return nil
}

// MoveToNextBroadcast re-attaches the controller to the announced
// rollover target. The station announces the target through a /reset
// control comment; without one the call fails.
func (c *Channel) MoveToNextBroadcast(ctx context.Context, opts *live.ConnectOptions) error {
	c.mu.Lock()
	nextID := c.nextBroadcastID
	c.mu.Unlock()

	if nextID == "" {
		return ErrNoPendingBroadcast
	}

	next := c.newInfo(nextID)
	c.attach(next)

	c.mu.Lock()
	c.nextBroadcastID = ""
	c.mu.Unlock()

	c.streamChangedEv.Emit(next)
	return c.Fetch(ctx)
}

// Dispose drops the controller's subscriptions and listeners. The
// attached broadcast is left alone; its owner disposes it.
func (c *Channel) Dispose() {
	c.mu.Lock()
	subs := c.subs
	c.subs = &emitter.SubscriptionSet{}
	if c.trackTimer != nil {
		c.trackTimer.Stop()
		c.trackTimer = nil
	}
	c.channel = nil
	c.mu.Unlock()

	if subs != nil {
		subs.Dispose()
	}

	c.commentEv.Clear()
	c.firstBatchEv.Clear()
	c.trackChangingEv.Clear()
	c.trackChangedEv.Clear()
	c.skipAvailableEv.Clear()
	c.closingEv.Clear()
	c.requestStateEv.Clear()
	c.goodReceivedEv.Clear()
	c.mylistReceivedEv.Clear()
	c.djMessageEv.Clear()
	c.panelEv.Clear()
	c.goodPushedEv.Clear()
	c.skipPushedEv.Clear()
	c.requestSentEv.Clear()
	c.requestCancelledEv.Clear()
	c.streamChangedEv.Clear()
	c.endedEv.Clear()
}

//
// Control comment interpretation
//

// handleComment routes control comments through the command grammar and
// re-emits every comment to this controller's subscribers.
func (c *Channel) handleComment(comment *live.Comment) {
	if comment.IsControlComment() || comment.IsFromDistributor() {
		fields := strings.Fields(comment.Text)
		if len(fields) > 0 {
			c.processCommand(fields[0], fields[1:])
		}
	}
	c.commentEv.Emit(comment)
}

func (c *Channel) processCommand(command string, params []string) {
	switch command {
	case "/prepare":
		if len(params) > 0 {
			go c.announceUpcoming(params[0])
		}

	case "/play":
		if len(params) > 0 {
			if m := trackPattern.FindStringSubmatch(params[0]); m != nil {
				c.scheduleTrackChange(m[1])
			}
		}

	case "/reset":
		if len(params) > 0 {
			c.mu.Lock()
			c.nextBroadcastID = params[0]
			c.mu.Unlock()
			c.closingEv.Emit(params[0])
		}

	case "/nspanel":
		if len(params) >= 2 {
			c.processPanel(params[0], params[1])
		}

	case "/nsenrequest":
		if len(params) > 0 {
			// "on" or "lot"
			c.requestStateEv.Emit(params[0])
		}
	}
}

// announceUpcoming resolves a /prepare video and emits the
// track-changing notice.
func (c *Channel) announceUpcoming(videoID string) {
	movie, err := c.lookup(context.Background(), videoID)
	if err != nil {
		c.log.WithError(err).WithField("video", videoID).Warn("could not resolve upcoming track")
		return
	}
	c.trackChangingEv.Emit(movie)
}

func (c *Channel) processPanel(op, entity string) {
	if op != "show" {
		return
	}

	ev, err := parsePanelEvent(entity)
	if err != nil {
		c.log.WithError(err).Warn("dropping malformed nspanel payload")
		return
	}

	switch {
	case ev.goodClick:
		c.goodReceivedEv.Emit(struct{}{})
	case ev.mylistClick:
		c.mylistReceivedEv.Emit(struct{}{})
	case ev.hasDJ:
		c.djMessageEv.Emit(ev.djMessage)
	default:
		c.panelEv.Emit(ev.state)
	}
}

// didRefresh re-derives the playing track from refreshed broadcast
// metadata. The queue head reads "smile:<videoId>" while a video plays.
func (c *Channel) didRefresh(m *live.Metadata) {
	content := ""
	if len(m.Stream.Contents) > 0 {
		content = m.Stream.Contents[0].Content
	}

	match := trackPattern.FindStringSubmatch(content)
	if match == nil {
		c.scheduleTrackChange("")
		return
	}

	c.mu.Lock()
	same := c.playing != nil && c.playing.ID == match[1]
	c.mu.Unlock()
	if !same {
		c.scheduleTrackChange(match[1])
	}
}

// scheduleTrackChange (re)arms the settle timer for a detected track
// change. Repeated announcements within the window collapse into one
// committed change; an empty id commits "nothing playing".
func (c *Channel) scheduleTrackChange(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackTimer != nil {
		c.trackTimer.Stop()
	}
	c.trackTimer = time.AfterFunc(c.debounce, func() {
		c.commitTrackChange(videoID)
	})
}

// commitTrackChange resolves the settled track and emits the change.
// Every committed change re-arms the skip vote.
func (c *Channel) commitTrackChange(videoID string) {
	c.mu.Lock()
	before := c.playing
	c.mu.Unlock()

	var next *video.Metadata
	if videoID != "" {
		if before != nil && before.ID == videoID {
			return
		}
		movie, err := c.lookup(context.Background(), videoID)
		if err != nil {
			c.log.WithError(err).WithField("video", videoID).Warn("could not resolve playing track")
			return
		}
		next = movie
	}

	c.mu.Lock()
	c.playing = next
	c.lastSkippedID = ""
	c.mu.Unlock()

	c.trackChangedEv.Emit(TrackChange{Next: next, Prev: before})
	c.skipAvailableEv.Emit(struct{}{})
}

//
// Event subscriptions
//

// OnComment registers a listener for every comment on the station,
// control comments included.
func (c *Channel) OnComment(fn func(*live.Comment)) *emitter.Subscription {
	return c.commentEv.Subscribe(fn)
}

// OnFirstBatch registers a listener for the initial comment backlog.
func (c *Channel) OnFirstBatch(fn func([]*live.Comment)) *emitter.Subscription {
	return c.firstBatchEv.Subscribe(fn)
}

// OnTrackChanging registers a listener for /prepare notices, fired with
// the upcoming track before it starts.
func (c *Channel) OnTrackChanging(fn func(*video.Metadata)) *emitter.Subscription {
	return c.trackChangingEv.Subscribe(fn)
}

// OnTrackChanged registers a listener for committed track changes.
func (c *Channel) OnTrackChanged(fn func(TrackChange)) *emitter.Subscription {
	return c.trackChangedEv.Subscribe(fn)
}

// OnSkipAvailable registers a listener fired when the skip vote re-arms.
func (c *Channel) OnSkipAvailable(fn func()) *emitter.Subscription {
	return c.skipAvailableEv.Subscribe(func(struct{}) { fn() })
}

// OnClosing registers a listener for the station's rollover notice,
// fired with the next broadcast id.
func (c *Channel) OnClosing(fn func(nextBroadcastID string)) *emitter.Subscription {
	return c.closingEv.Subscribe(fn)
}

// OnRequestState registers a listener for /nsenrequest state changes
// ("on" or "lot").
func (c *Channel) OnRequestState(fn func(string)) *emitter.Subscription {
	return c.requestStateEv.Subscribe(fn)
}

// OnGoodReceived registers a listener for good votes by other viewers.
func (c *Channel) OnGoodReceived(fn func()) *emitter.Subscription {
	return c.goodReceivedEv.Subscribe(func(struct{}) { fn() })
}

// OnMylistReceived registers a listener for mylist adds by other
// viewers.
func (c *Channel) OnMylistReceived(fn func()) *emitter.Subscription {
	return c.mylistReceivedEv.Subscribe(func(struct{}) { fn() })
}

// OnDJMessage registers a listener for DJ (TV-chan) messages.
func (c *Channel) OnDJMessage(fn func(string)) *emitter.Subscription {
	return c.djMessageEv.Subscribe(fn)
}

// OnPanelState registers a listener for full panel state updates.
func (c *Channel) OnPanelState(fn func(*PanelState)) *emitter.Subscription {
	return c.panelEv.Subscribe(fn)
}

// OnGoodPushed registers a listener for this controller's good votes.
func (c *Channel) OnGoodPushed(fn func()) *emitter.Subscription {
	return c.goodPushedEv.Subscribe(func(struct{}) { fn() })
}

// OnSkipPushed registers a listener for this controller's skip votes.
func (c *Channel) OnSkipPushed(fn func()) *emitter.Subscription {
	return c.skipPushedEv.Subscribe(func(struct{}) { fn() })
}

// OnRequestSent registers a listener for accepted requests.
func (c *Channel) OnRequestSent(fn func(*video.Metadata)) *emitter.Subscription {
	return c.requestSentEv.Subscribe(fn)
}

// OnRequestCancelled registers a listener for withdrawn requests.
func (c *Channel) OnRequestCancelled(fn func(*video.Metadata)) *emitter.Subscription {
	return c.requestCancelledEv.Subscribe(fn)
}

// OnStreamChanged registers a listener for broadcast rollover.
func (c *Channel) OnStreamChanged(fn func(*live.BroadcastInfo)) *emitter.Subscription {
	return c.streamChangedEv.Subscribe(fn)
}

// OnEnded registers a listener for the end of the attached broadcast.
func (c *Channel) OnEnded(fn func()) *emitter.Subscription {
	return c.endedEv.Subscribe(func(struct{}) { fn() })
}
