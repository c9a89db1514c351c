package niconico

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"niconico/config"
	nhttp "niconico/http"
	"niconico/internal/retry"
	"niconico/live"
	"niconico/nsen"
	"niconico/video"
)

// Client is the top-level entry point. It owns the authenticated session
// and hands out broadcast, Nsen, and video accessors that share it.
//
// Accessors are cached per id for the lifetime of the client; two calls
// to Broadcast with the same id return the same *live.BroadcastInfo.
type Client struct {
	config  *config.Config
	session *nhttp.Session
	logger  *logrus.Logger
	videos  *video.Client

	mu         sync.Mutex
	broadcasts map[string]*live.BroadcastInfo
	metaCache  map[string]*video.Metadata
}

// ClientOptions tunes client construction. The zero value is usable.
type ClientOptions struct {
	// Config overrides the loaded configuration.
	Config *config.Config
	// Logger defaults to the standard logger.
	Logger *logrus.Logger
	// Session overrides the session built from Config. Useful in tests.
	Session *nhttp.Session
}

// NewClient creates a client. With nil opts (or a nil opts.Config) the
// configuration is loaded from file and environment.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	session := opts.Session
	if session == nil {
		httpCfg := nhttp.DefaultConfig()
		httpCfg.UserAgent = cfg.UserAgent
		var err error
		session, err = nhttp.NewSession(nhttp.SessionConfig{
			Client:     httpCfg,
			CookieFile: cfg.CookieFile,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}

	videos := video.NewClient(session, cfg.Endpoints)
	videos.RetryConfig = &retry.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}

	return &Client{
		config:     cfg,
		session:    session,
		logger:     logger,
		videos:     videos,
		broadcasts: make(map[string]*live.BroadcastInfo),
		metaCache:  make(map[string]*video.Metadata),
	}, nil
}

// Session returns the client's authenticated session. Callers load login
// cookies into it before using authenticated operations.
func (c *Client) Session() *nhttp.Session {
	return c.session
}

// Broadcast returns the BroadcastInfo for a live broadcast id, fetching
// its metadata on first access. Subsequent calls with the same id return
// the cached instance without refetching.
func (c *Client) Broadcast(ctx context.Context, broadcastID string) (*live.BroadcastInfo, error) {
	c.mu.Lock()
	b, ok := c.broadcasts[broadcastID]
	if !ok {
		b = live.NewBroadcastInfo(broadcastID, live.BroadcastConfig{
			Session:   c.session,
			Endpoints: c.config.Endpoints,
			Logger:    c.logger,
		})
		c.broadcasts[broadcastID] = b
	}
	c.mu.Unlock()

	if !ok {
		if err := b.Fetch(ctx); err != nil {
			c.mu.Lock()
			delete(c.broadcasts, broadcastID)
			c.mu.Unlock()
			return nil, err
		}
	}
	return b, nil
}

// Nsen returns a controller for an Nsen station broadcast. The broadcast
// metadata is fetched first; a non-Nsen broadcast yields
// ErrNotNsenBroadcast.
func (c *Client) Nsen(ctx context.Context, broadcastID string) (*nsen.Channel, error) {
	b, err := c.Broadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}

	ch, err := nsen.New(b, nsen.Config{
		Session:     c.session,
		Endpoints:   c.config.Endpoints,
		VideoLookup: c.VideoInfo,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := ch.Fetch(ctx); err != nil {
		ch.Dispose()
		return nil, err
	}
	return ch, nil
}

// VideoInfo looks up video metadata, serving repeated lookups for the
// same id from an in-memory cache. Satisfies video.Lookup.
func (c *Client) VideoInfo(ctx context.Context, videoID string) (*video.Metadata, error) {
	c.mu.Lock()
	if m, ok := c.metaCache[videoID]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := c.videos.GetVideoInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.metaCache[videoID] = m
	c.mu.Unlock()
	return m, nil
}

// Close disposes all vended broadcasts and releases the session,
// persisting cookies when a cookie file is configured.
func (c *Client) Close() error {
	c.mu.Lock()
	broadcasts := make([]*live.BroadcastInfo, 0, len(c.broadcasts))
	for _, b := range c.broadcasts {
		broadcasts = append(broadcasts, b)
	}
	c.broadcasts = make(map[string]*live.BroadcastInfo)
	c.mu.Unlock()

	for _, b := range broadcasts {
		b.Dispose()
	}
	return c.session.Close()
}
