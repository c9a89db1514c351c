package nsen

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/live"
	"niconico/video"
)

const nsenPlayerStatus = `<?xml version="1.0" encoding="utf-8"?>
<getplayerstatus status="ok">
  <stream>
    <id>%s</id>
    <title>Nsen</title>
    <provider_type>official</provider_type>
    <owner_id>900000000</owner_id>
    <contents_list>
      <contents id="main" start_time="1400000060">%s</contents>
    </contents_list>
    <ns>
      <nstype>vocaloid</nstype>
    </ns>
  </stream>
  <user>
    <user_id>1234567</user_id>
    <nickname>someone</nickname>
    <is_premium>1</is_premium>
  </user>
  <ms>
    <addr>127.0.0.1</addr>
    <port>2805</port>
    <thread>1000</thread>
  </ms>
</getplayerstatus>`

const plainPlayerStatus = `<?xml version="1.0" encoding="utf-8"?>
<getplayerstatus status="ok">
  <stream>
    <id>lv777</id>
    <title>user stream</title>
  </stream>
  <user><user_id>1234567</user_id></user>
  <ms><addr>127.0.0.1</addr><port>2805</port><thread>1000</thread></ms>
</getplayerstatus>`

// fakeNsenAPI backs the player status and nsen control endpoints with
// scripted responses.
type fakeNsenAPI struct {
	mu sync.Mutex

	queueHead string // contents body in player status, e.g. "smile:sm9"

	requestingResp string
	requestResp    string
	cancelResp     string
	goodResp       string
	skipResp       string

	goodHits int32
	skipHits int32
}

func (f *fakeNsenAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getplayerstatus/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/getplayerstatus/"):]
		f.mu.Lock()
		head := f.queueHead
		f.mu.Unlock()
		fmt.Fprintf(w, nsenPlayerStatus, id, head)
	})
	mux.HandleFunc("/api/nsenrequest", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Query().Get("mode") {
		case "requesting":
			fmt.Fprint(w, f.requestingResp)
		case "cancel":
			fmt.Fprint(w, f.cancelResp)
		default:
			fmt.Fprint(w, f.requestResp)
		}
	})
	mux.HandleFunc("/api/nsengood", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.goodHits, 1)
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprint(w, f.goodResp)
	})
	mux.HandleFunc("/api/nsenskip", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.skipHits, 1)
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprint(w, f.skipResp)
	})
	return mux
}

const okResponse = `<nsenrequest status="ok"/>`
const noRequestResponse = `<nsenrequest status="fail"><error><code>unknown</code></error></nsenrequest>`

// countingLookup resolves every id to a stub and counts calls.
func countingLookup(calls *int32) video.Lookup {
	return func(ctx context.Context, id string) (*video.Metadata, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return &video.Metadata{ID: id, Title: "video " + id, Length: 319}, nil
	}
}

func newTestNsen(t *testing.T, api *fakeNsenAPI, lookupCalls *int32) *Channel {
	t.Helper()

	if api.requestingResp == "" {
		api.requestingResp = noRequestResponse
	}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	session, err := nhttp.NewSession(nhttp.DefaultSessionConfig())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	endpoints := config.DefaultEndpoints()
	endpoints.PlayerStatus = server.URL + "/api/getplayerstatus/"
	endpoints.NsenRequest = server.URL + "/api/nsenrequest"
	endpoints.NsenGood = server.URL + "/api/nsengood"
	endpoints.NsenSkip = server.URL + "/api/nsenskip"

	broadcast := live.NewBroadcastInfo("lv12345", live.BroadcastConfig{
		Session:   session,
		Endpoints: endpoints,
	})
	require.NoError(t, broadcast.Fetch(context.Background()))
	t.Cleanup(broadcast.Dispose)

	channel, err := New(broadcast, Config{
		Session:       session,
		Endpoints:     endpoints,
		VideoLookup:   countingLookup(lookupCalls),
		TrackDebounce: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(channel.Dispose)
	return channel
}

// controlComment builds a comment from the platform's system account.
func controlComment(text string) *live.Comment {
	return &live.Comment{
		Text:   text,
		Author: live.Author{ID: "900000000"},
	}
}

func waitForCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRejectsNonNsenBroadcast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, plainPlayerStatus)
	}))
	defer server.Close()

	session, err := nhttp.NewSession(nhttp.DefaultSessionConfig())
	require.NoError(t, err)
	defer session.Close()

	endpoints := config.DefaultEndpoints()
	endpoints.PlayerStatus = server.URL + "/api/getplayerstatus/"

	broadcast := live.NewBroadcastInfo("lv777", live.BroadcastConfig{
		Session:   session,
		Endpoints: endpoints,
	})
	require.NoError(t, broadcast.Fetch(context.Background()))
	defer broadcast.Dispose()

	_, err = New(broadcast, Config{Session: session, Endpoints: endpoints})
	assert.ErrorIs(t, err, ErrNotNsenBroadcast)
}

func TestChannelType(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)
	assert.Equal(t, "vocaloid", c.ChannelType())

	station := ChannelByType(c.ChannelType())
	require.NotNil(t, station)
	assert.Equal(t, "nsen/vocaloid", station.ID)
	assert.Equal(t, "VOCALOID", station.Name)

	// ChannelByID wants the full "nsen/..." id, not the bare type.
	assert.Nil(t, ChannelByID(c.ChannelType()))
	assert.Nil(t, ChannelByType("jazz"))
}

func TestPlayCommandDebounce(t *testing.T) {
	var lookups int32
	c := newTestNsen(t, &fakeNsenAPI{}, &lookups)

	var changes []TrackChange
	var mu sync.Mutex
	c.OnTrackChanged(func(tc TrackChange) {
		mu.Lock()
		changes = append(changes, tc)
		mu.Unlock()
	})
	var skipArmed atomic.Int32
	c.OnSkipAvailable(func() { skipArmed.Add(1) })

	// Two identical announcements inside the settle window collapse.
	c.handleComment(controlComment("/play smile:sm9 854 レッツゴー！陰陽師"))
	c.handleComment(controlComment("/play smile:sm9 854 レッツゴー！陰陽師"))

	waitForCond(t, "track change", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	})

	mu.Lock()
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Next)
	assert.Equal(t, "sm9", changes[0].Next.ID)
	assert.Nil(t, changes[0].Prev)
	mu.Unlock()

	assert.EqualValues(t, 1, atomic.LoadInt32(&lookups))
	assert.EqualValues(t, 1, skipArmed.Load())

	playing := c.CurrentVideo()
	require.NotNil(t, playing)
	assert.Equal(t, "sm9", playing.ID)

	// The next settled announcement carries the previous track.
	c.handleComment(controlComment("/play smile:nm4089643 854 other"))
	waitForCond(t, "second track change", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	})

	mu.Lock()
	assert.Equal(t, "nm4089643", changes[1].Next.ID)
	assert.Equal(t, "sm9", changes[1].Prev.ID)
	mu.Unlock()
}

func TestPlayCommandIgnoresNonSmileSource(t *testing.T) {
	var lookups int32
	c := newTestNsen(t, &fakeNsenAPI{}, &lookups)

	c.handleComment(controlComment("/play live:lv1 854 something"))
	time.Sleep(100 * time.Millisecond)

	assert.Nil(t, c.CurrentVideo())
	assert.Zero(t, atomic.LoadInt32(&lookups))
}

func TestViewerCommentsAreNotCommands(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)

	var comments int32
	c.OnComment(func(*live.Comment) { atomic.AddInt32(&comments, 1) })

	viewer := &live.Comment{Text: "/play smile:sm9", Author: live.Author{ID: "100"}}
	c.handleComment(viewer)
	time.Sleep(100 * time.Millisecond)

	assert.Nil(t, c.CurrentVideo())
	assert.EqualValues(t, 1, atomic.LoadInt32(&comments))
}

func TestPrepareCommand(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)

	var upcoming atomic.Pointer[video.Metadata]
	c.OnTrackChanging(func(m *video.Metadata) { upcoming.Store(m) })

	c.handleComment(controlComment("/prepare sm9"))

	waitForCond(t, "upcoming track", func() bool { return upcoming.Load() != nil })
	assert.Equal(t, "sm9", upcoming.Load().ID)
}

func TestSkipOncePerTrack(t *testing.T) {
	api := &fakeNsenAPI{skipResp: okResponse}
	c := newTestNsen(t, api, nil)

	// Nothing playing yet.
	assert.ErrorIs(t, c.PushSkip(context.Background()), ErrNothingPlaying)
	assert.False(t, c.IsSkipRequestable())

	c.mu.Lock()
	c.playing = &video.Metadata{ID: "sm9"}
	c.mu.Unlock()
	require.True(t, c.IsSkipRequestable())

	var pushed atomic.Int32
	c.OnSkipPushed(func() { pushed.Add(1) })

	require.NoError(t, c.PushSkip(context.Background()))
	assert.EqualValues(t, 1, pushed.Load())

	// A second skip for the same track is refused locally.
	assert.ErrorIs(t, c.PushSkip(context.Background()), ErrDuplicateSkip)
	assert.False(t, c.IsSkipRequestable())
	assert.EqualValues(t, 1, atomic.LoadInt32(&api.skipHits))

	// A track change re-arms the vote.
	c.commitTrackChange("nm100")
	require.True(t, c.IsSkipRequestable())
	require.NoError(t, c.PushSkip(context.Background()))
	assert.EqualValues(t, 2, pushed.Load())
}

func TestFetchNoPendingRequestQuirk(t *testing.T) {
	// status="fail" with code "unknown" is the server's way of saying
	// "nothing requested", not an error.
	api := &fakeNsenAPI{requestingResp: noRequestResponse}
	c := newTestNsen(t, api, nil)

	var cancelled atomic.Pointer[video.Metadata]
	c.OnRequestCancelled(func(m *video.Metadata) { cancelled.Store(m) })

	c.mu.Lock()
	c.requested = &video.Metadata{ID: "sm9"}
	c.mu.Unlock()

	require.NoError(t, c.Fetch(context.Background()))
	assert.Nil(t, c.RequestedVideo())
	require.NotNil(t, cancelled.Load())
	assert.Equal(t, "sm9", cancelled.Load().ID)

	// With nothing tracked the same response is a plain no-op.
	cancelled.Store(nil)
	require.NoError(t, c.Fetch(context.Background()))
	assert.Nil(t, cancelled.Load())
}

func TestFetchSyncsTrackedRequest(t *testing.T) {
	api := &fakeNsenAPI{
		requestingResp: `<nsenrequest status="ok"><id>sm9</id></nsenrequest>`,
	}
	var lookups int32
	c := newTestNsen(t, api, &lookups)

	var sent atomic.Pointer[video.Metadata]
	c.OnRequestSent(func(m *video.Metadata) { sent.Store(m) })

	require.NoError(t, c.Fetch(context.Background()))
	require.NotNil(t, c.RequestedVideo())
	assert.Equal(t, "sm9", c.RequestedVideo().ID)
	require.NotNil(t, sent.Load())

	// Fetching again with the same tracked request does not re-resolve.
	require.NoError(t, c.Fetch(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&lookups))
}

func TestFetchSyncError(t *testing.T) {
	api := &fakeNsenAPI{
		requestingResp: `<nsenrequest status="fail"><error><code>nsen_close</code></error></nsenrequest>`,
	}
	c := newTestNsen(t, api, nil)

	err := c.Fetch(context.Background())
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "nsen_close", syncErr.Code)
}

func TestPushRequest(t *testing.T) {
	api := &fakeNsenAPI{requestResp: okResponse}
	c := newTestNsen(t, api, nil)

	var sent atomic.Pointer[video.Metadata]
	c.OnRequestSent(func(m *video.Metadata) { sent.Store(m) })

	require.NoError(t, c.PushRequest(context.Background(), "sm9"))
	require.NotNil(t, c.RequestedVideo())
	assert.Equal(t, "sm9", c.RequestedVideo().ID)
	require.NotNil(t, sent.Load())
}

func TestPushRequestRejected(t *testing.T) {
	api := &fakeNsenAPI{
		requestResp: `<nsenrequest status="fail"><error><code>nsen_tag</code></error></nsenrequest>`,
	}
	c := newTestNsen(t, api, nil)

	err := c.PushRequest(context.Background(), "sm9")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "request", actionErr.Op)
	assert.Equal(t, RequestErrorTagRequired, actionErr.Code)
	assert.Nil(t, c.RequestedVideo())
}

func TestCancelRequest(t *testing.T) {
	api := &fakeNsenAPI{cancelResp: okResponse}
	c := newTestNsen(t, api, nil)

	// No tracked request: success without a network call.
	require.NoError(t, c.CancelRequest(context.Background()))

	c.mu.Lock()
	c.requested = &video.Metadata{ID: "sm9"}
	c.mu.Unlock()

	var cancelled atomic.Pointer[video.Metadata]
	c.OnRequestCancelled(func(m *video.Metadata) { cancelled.Store(m) })

	require.NoError(t, c.CancelRequest(context.Background()))
	assert.Nil(t, c.RequestedVideo())
	require.NotNil(t, cancelled.Load())
}

func TestPushGood(t *testing.T) {
	api := &fakeNsenAPI{goodResp: okResponse}
	c := newTestNsen(t, api, nil)

	var pushed atomic.Int32
	c.OnGoodPushed(func() { pushed.Add(1) })

	require.NoError(t, c.PushGood(context.Background()))
	assert.EqualValues(t, 1, pushed.Load())
	assert.EqualValues(t, 1, atomic.LoadInt32(&api.goodHits))
}

func TestPanelCommands(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)

	var goods, mylists atomic.Int32
	var dj atomic.Pointer[string]
	var state atomic.Pointer[PanelState]
	c.OnGoodReceived(func() { goods.Add(1) })
	c.OnMylistReceived(func() { mylists.Add(1) })
	c.OnDJMessage(func(msg string) { dj.Store(&msg) })
	c.OnPanelState(func(s *PanelState) { state.Store(s) })

	c.handleComment(controlComment("/nspanel show goodClick=1"))
	assert.EqualValues(t, 1, goods.Load())

	c.handleComment(controlComment("/nspanel show mylistClick=1"))
	assert.EqualValues(t, 1, mylists.Load())

	c.handleComment(controlComment("/nspanel show dj=hello%20listeners"))
	require.NotNil(t, dj.Load())
	assert.Equal(t, "hello listeners", *dj.Load())

	c.handleComment(controlComment("/nspanel show goodBtn=1&skipBtn=1&mylistBtn=0&title=track&view=100&comment=5&mylist=2&playlistLen=7&corner=0&gage=2&tv=1"))
	s := state.Load()
	require.NotNil(t, s)
	assert.True(t, s.GoodEnabled)
	assert.True(t, s.SkipEnabled)
	assert.False(t, s.MylistEnabled)
	assert.Equal(t, "track", s.Title)
	assert.Equal(t, 100, s.View)
	assert.Equal(t, 7, s.PlaylistLength)
	assert.False(t, s.Corner)
	assert.Equal(t, GaugeYellow, s.Gauge)
}

func TestRequestStateCommand(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)

	var states []string
	c.OnRequestState(func(s string) { states = append(states, s) })

	c.handleComment(controlComment("/nsenrequest lot"))
	c.handleComment(controlComment("/nsenrequest on"))

	assert.Equal(t, []string{"lot", "on"}, states)
}

func TestMoveToNextBroadcast(t *testing.T) {
	c := newTestNsen(t, &fakeNsenAPI{}, nil)

	// Without a /reset announcement there is nowhere to go.
	assert.ErrorIs(t, c.MoveToNextBroadcast(context.Background(), nil), ErrNoPendingBroadcast)

	var closing atomic.Pointer[string]
	c.OnClosing(func(id string) { closing.Store(&id) })
	var moved atomic.Pointer[live.BroadcastInfo]
	c.OnStreamChanged(func(b *live.BroadcastInfo) { moved.Store(b) })

	c.handleComment(controlComment("/reset lv99999"))
	require.NotNil(t, closing.Load())
	assert.Equal(t, "lv99999", *closing.Load())

	require.NoError(t, c.MoveToNextBroadcast(context.Background(), nil))
	require.NotNil(t, moved.Load())
	assert.Equal(t, "lv99999", moved.Load().ID())
	assert.Equal(t, "lv99999", c.Broadcast().ID())

	// The rollover target is consumed.
	assert.ErrorIs(t, c.MoveToNextBroadcast(context.Background(), nil), ErrNoPendingBroadcast)
}
