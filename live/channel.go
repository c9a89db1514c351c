package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/internal/emitter"
)

// State is the lifecycle state of a CommentChannel.
type State int

const (
	// StateIdle means no socket is open.
	StateIdle State = iota
	// StateConnecting means the subscribe handshake is in flight.
	StateConnecting
	// StateConnected means the channel is receiving comments.
	StateConnected
	// StateDisposed means the channel can no longer be used.
	StateDisposed
)

// ServerInfo locates a comment server thread. LiveBroadcastInfo extracts
// it from the broadcast metadata.
type ServerInfo struct {
	Addr   string
	Port   int
	Thread string
}

// ConnectOptions tunes the connect handshake.
type ConnectOptions struct {
	// InitialBacklog is how many past comments to request. Defaults to 100.
	InitialBacklog int
	// Timeout bounds the whole handshake, dial included. Defaults to 5s.
	Timeout time.Duration
}

func (o *ConnectOptions) withDefaults() ConnectOptions {
	opts := ConnectOptions{}
	if o != nil {
		opts = *o
	}
	if opts.InitialBacklog <= 0 {
		opts.InitialBacklog = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return opts
}

// DialFunc opens the raw connection to a comment server. Tests
// substitute their own.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ChannelConfig configures a CommentChannel.
type ChannelConfig struct {
	// Session authorizes the postkey fetch and identifies own posts.
	Session *nhttp.Session
	// Endpoints locates the postkey API.
	Endpoints config.Endpoints
	// Server is the comment server to attach to.
	Server ServerInfo
	// BroadcastID tags log entries. Optional.
	BroadcastID string
	// Logger defaults to the standard logger.
	Logger *logrus.Logger
	// Dial defaults to a plain TCP dialer.
	Dial DialFunc
}

// CommentChannel owns one comment server connection. It frames outgoing
// commands, decodes the incoming stream and fans received comments out
// to subscribers. Listener callbacks run on the read goroutine, in
// arrival order; a slow listener delays the ones behind it.
type CommentChannel struct {
	session   *nhttp.Session
	endpoints config.Endpoints
	log       *logrus.Entry
	dial      DialFunc

	// done is closed by Dispose; pending calls select on it.
	done chan struct{}

	mu          sync.Mutex
	state       State
	conn        net.Conn
	server      ServerInfo
	ticket      string
	connReady   chan struct{}
	connectDone chan struct{}
	connectErr  error

	firstOnce      sync.Once
	firstBatch     []*Comment
	firstDelivered bool
	firstReady     chan struct{}
	firstEv        emitter.Emitter[[]*Comment]

	commentEv    emitter.Emitter[*Comment]
	postResultEv emitter.Emitter[int]
	closedEv     emitter.Emitter[struct{}]
	errorEv      emitter.Emitter[error]
	endedEv      emitter.Emitter[struct{}]
	rawEv        emitter.Emitter[[]byte]
}

var postKeyPattern = regexp.MustCompile(`^postkey=(.*)`)

// NewCommentChannel creates an idle channel for the given server.
func NewCommentChannel(cfg ChannelConfig) *CommentChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dial := cfg.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	return &CommentChannel{
		session:    cfg.Session,
		endpoints:  cfg.Endpoints,
		server:     cfg.Server,
		log:        logger.WithField("broadcast", cfg.BroadcastID),
		dial:       dial,
		done:       make(chan struct{}),
		firstReady: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *CommentChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetThread updates the thread id after a metadata refresh. The comment
// server occasionally rolls the thread over mid-broadcast.
func (c *CommentChannel) SetThread(thread string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server.Thread = thread
}

// Connect opens the socket, sends the subscribe frame and waits for the
// server's thread response. Connecting an already connected channel is a
// no-op; a call that overlaps an in-flight handshake waits for it and
// reports its outcome. On timeout the socket is torn down and the
// channel returns to idle.
func (c *CommentChannel) Connect(ctx context.Context, opts *ConnectOptions) error {
	o := opts.withDefaults()

	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return ErrChannelDisposed
	}
	if c.state == StateConnecting {
		wait := c.connectDone
		if wait == nil {
			// The handshake settled between the state change and finish.
			err := c.connectErr
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
		select {
		case <-wait:
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.connectErr
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrChannelDisposed
		}
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	settled := make(chan struct{})
	c.connectDone = settled
	addr := net.JoinHostPort(c.server.Addr, strconv.Itoa(c.server.Port))
	thread := c.server.Thread
	c.mu.Unlock()

	// finish settles the handshake for any overlapping Connect callers.
	finish := func(err error) error {
		c.mu.Lock()
		c.connectErr = err
		if c.connectDone == settled {
			c.connectDone = nil
		}
		c.mu.Unlock()
		close(settled)
		return err
	}

	deadline := time.Now().Add(o.Timeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", addr)
	if err != nil {
		c.setIdle()
		if errors.Is(err, context.DeadlineExceeded) {
			return finish(ErrConnectionTimeout)
		}
		return finish(fmt.Errorf("dial comment server: %w", err))
	}

	ready := make(chan struct{})
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		conn.Close()
		return finish(ErrChannelDisposed)
	}
	c.conn = conn
	c.connReady = ready
	c.mu.Unlock()

	go c.readLoop(conn)

	if _, err := conn.Write(subscribeFrame(thread, o.InitialBacklog)); err != nil {
		c.teardown(conn)
		return finish(fmt.Errorf("send subscribe frame: %w", err))
	}

	select {
	case <-ready:
		c.mu.Lock()
		current := c.conn == conn
		disposed := c.state == StateDisposed
		if current {
			c.state = StateConnected
		}
		c.mu.Unlock()
		if !current {
			// The socket was torn down mid-handshake.
			conn.Close()
			if disposed {
				return finish(ErrChannelDisposed)
			}
			return finish(ErrNotConnected)
		}
		return finish(nil)
	case <-time.After(time.Until(deadline)):
		c.teardown(conn)
		return finish(ErrConnectionTimeout)
	case <-ctx.Done():
		c.teardown(conn)
		return finish(ctx.Err())
	case <-c.done:
		c.teardown(conn)
		return finish(ErrChannelDisposed)
	}
}

// Reconnect tears down any existing socket unconditionally and connects
// again.
func (c *CommentChannel) Reconnect(ctx context.Context, opts *ConnectOptions) error {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return ErrChannelDisposed
	}
	conn := c.conn
	c.conn = nil
	c.connReady = nil
	c.state = StateIdle
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return c.Connect(ctx, opts)
}

// Disconnect closes the connection and emits a closed event. A pending
// connect handshake on the socket fails over immediately. Idempotent; a
// no-op when already idle.
func (c *CommentChannel) Disconnect() {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	ready := c.connReady
	c.conn = nil
	c.connReady = nil
	if c.state != StateDisposed {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if ready != nil {
		close(ready)
	}
	conn.Close()
	c.closedEv.Emit(struct{}{})
}

// Dispose disconnects, fails any pending calls with ErrChannelDisposed,
// drops all subscriptions and makes the channel permanently unusable.
func (c *CommentChannel) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	c.mu.Unlock()
	close(c.done)

	c.Disconnect()

	c.commentEv.Clear()
	c.postResultEv.Clear()
	c.closedEv.Clear()
	c.errorEv.Clear()
	c.endedEv.Clear()
	c.rawEv.Clear()
	c.firstEv.Clear()
}

// PostComment posts text to the broadcast. tags carry posting flags such
// as "184". A fresh postkey is fetched for every post; the call then
// waits for the server's result frame, mapping its status to an error.
func (c *CommentChannel) PostComment(ctx context.Context, text string, tags []string, timeout time.Duration) error {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return ErrChannelDisposed
	}
	conn := c.conn
	state := c.state
	ticket := c.ticket
	thread := c.server.Thread
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return ErrEmptyComment
	}
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	postKey, err := c.fetchPostKey(ctx, thread)
	if err != nil {
		return err
	}

	frame := postFrame(thread, ticket, postKey, strings.Join(tags, " "),
		c.session.UserID(), c.session.IsPremium(), text)

	// The wire protocol has no correlation id; the next result frame on
	// this connection settles this post.
	resultCh := make(chan int, 1)
	sub := c.postResultEv.Once(func(status int) { resultCh <- status })
	defer sub.Dispose()

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send post frame: %w", err)
	}

	select {
	case status := <-resultCh:
		return postResultError(status)
	case <-time.After(timeout):
		return ErrPostResultTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrChannelDisposed
	}
}

// fetchPostKey asks the postkey API for a single-use posting token.
func (c *CommentChannel) fetchPostKey(ctx context.Context, thread string) (string, error) {
	u := c.endpoints.PostKey + "?thread=" + url.QueryEscape(thread)
	res, err := c.session.Get(ctx, u)
	if err != nil {
		return "", fmt.Errorf("fetch post key: %w", err)
	}

	m := postKeyPattern.FindSubmatch(res.Body)
	if m == nil || len(m[1]) == 0 {
		return "", ErrPostKeyFetch
	}
	return string(m[1]), nil
}

// FirstBatch blocks until the initial comment backlog has been processed
// and returns it in arrival order. The batch is captured once per
// channel instance.
func (c *CommentChannel) FirstBatch(ctx context.Context) ([]*Comment, error) {
	select {
	case <-c.firstReady:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.firstBatch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrChannelDisposed
	}
}

// OnFirstBatch registers a listener for the initial comment backlog. A
// listener added after the batch was processed is called immediately.
func (c *CommentChannel) OnFirstBatch(fn func([]*Comment)) *emitter.Subscription {
	c.mu.Lock()
	if c.firstDelivered {
		batch := c.firstBatch
		c.mu.Unlock()
		fn(batch)
		return &emitter.Subscription{}
	}
	c.mu.Unlock()

	return c.firstEv.Subscribe(fn)
}

// OnComment registers a listener for every received comment, post-result
// echoes included.
func (c *CommentChannel) OnComment(fn func(*Comment)) *emitter.Subscription {
	return c.commentEv.Subscribe(fn)
}

// OnPostResult registers a listener for chat_result status codes.
func (c *CommentChannel) OnPostResult(fn func(int)) *emitter.Subscription {
	return c.postResultEv.Subscribe(fn)
}

// OnClosed registers a listener for connection teardown.
func (c *CommentChannel) OnClosed(fn func()) *emitter.Subscription {
	return c.closedEv.Subscribe(func(struct{}) { fn() })
}

// OnError registers a listener for socket errors.
func (c *CommentChannel) OnError(fn func(error)) *emitter.Subscription {
	return c.errorEv.Subscribe(fn)
}

// OnEnded registers a listener for the distributor's end-of-broadcast
// notice.
func (c *CommentChannel) OnEnded(fn func()) *emitter.Subscription {
	return c.endedEv.Subscribe(func(struct{}) { fn() })
}

// OnRawData registers a listener for raw socket chunks before decoding.
func (c *CommentChannel) OnRawData(fn func([]byte)) *emitter.Subscription {
	return c.rawEv.Subscribe(fn)
}

// setIdle resets the state after a failed connect attempt.
func (c *CommentChannel) setIdle() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// teardown closes conn and returns to idle if conn is still current.
func (c *CommentChannel) teardown(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connReady = nil
		if c.state != StateDisposed {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// readLoop drains conn until it closes, decoding frames as they arrive.
func (c *CommentChannel) readLoop(conn net.Conn) {
	var splitter frameSplitter
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.handleChunk(buf[:n], &splitter)
		}
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
	}
}

// handleChunk processes one raw read. All comments decoded from the
// very first chunk form the initial batch.
func (c *CommentChannel) handleChunk(chunk []byte, splitter *frameSplitter) {
	raw := make([]byte, len(chunk))
	copy(raw, chunk)
	c.rawEv.Emit(raw)

	loggedUserID := c.session.UserID()

	var comments []*Comment
	for _, frame := range splitter.split(chunk) {
		decoded, err := decodeFrame(frame)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}

		switch f := decoded.(type) {
		case *threadFrame:
			c.mu.Lock()
			c.ticket = f.Ticket
			ready := c.connReady
			c.connReady = nil
			c.mu.Unlock()
			if ready != nil {
				close(ready)
			}

		case *chatFrame:
			comment := commentFromChat(f, loggedUserID)
			comments = append(comments, comment)
			c.commentEv.Emit(comment)

			if comment.IsFromDistributor() && comment.Text == "/disconnect" {
				c.endedEv.Emit(struct{}{})
				c.Disconnect()
			}

		case *chatResultFrame:
			comment := commentFromChat(&f.Chat, loggedUserID)
			c.postResultEv.Emit(atoi(f.Status))
			c.commentEv.Emit(comment)
		}
	}

	c.firstOnce.Do(func() {
		c.mu.Lock()
		c.firstBatch = comments
		c.firstDelivered = true
		c.mu.Unlock()
		close(c.firstReady)
		c.firstEv.Emit(comments)
	})
}

// handleClosed reports an unexpected connection loss. Deliberate
// disconnects already cleared c.conn and emit nothing here.
func (c *CommentChannel) handleClosed(conn net.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	ready := c.connReady
	if current {
		c.conn = nil
		c.connReady = nil
		if c.state != StateDisposed {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()

	if !current {
		return
	}
	if ready != nil {
		close(ready)
	}

	if err != io.EOF {
		c.log.WithError(err).Warn("comment server connection lost")
		c.errorEv.Emit(err)
	}
	c.closedEv.Emit(struct{}{})
}
