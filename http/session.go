package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Session holds an authenticated cookie store and the viewer's identity.
// It is the single carrier of credentials for every HTTP call the library
// makes; how the cookies got there (login flow, browser export) is the
// caller's concern.
type Session struct {
	jar    http.CookieJar
	client *Client

	mu         sync.RWMutex
	userID     string
	isPremium  bool
	cookiePath string
	domains    []string
}

// SessionConfig configures session behavior.
type SessionConfig struct {
	// Client configures the underlying HTTP client (nil uses defaults).
	Client *Config

	// CookieFile is an optional path for persisting cookies as JSON.
	CookieFile string

	// Domains are the URLs whose cookies are persisted and restored.
	// Defaults to the platform's hosts.
	Domains []string
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Domains: []string{
			"http://live.nicovideo.jp",
			"http://www.nicovideo.jp",
			"http://ext.nicovideo.jp",
		},
	}
}

// NewSession creates a session with an empty cookie jar. If cfg.CookieFile
// is set and exists, cookies are restored from it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if len(cfg.Domains) == 0 {
		cfg.Domains = DefaultSessionConfig().Domains
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	s := &Session{
		jar:        jar,
		client:     New(cfg.Client, jar),
		cookiePath: cfg.CookieFile,
		domains:    cfg.Domains,
	}

	if cfg.CookieFile != "" {
		if err := s.LoadCookies(); err != nil {
			return nil, fmt.Errorf("load cookies: %w", err)
		}
	}

	return s, nil
}

// SetIdentity records the logged-in viewer's id and premium flag. The
// comment channel embeds both in every post frame.
func (s *Session) SetIdentity(userID string, isPremium bool) {
	s.mu.Lock()
	s.userID = userID
	s.isPremium = isPremium
	s.mu.Unlock()
}

// UserID returns the logged-in viewer's id, or "" if none was set.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// IsPremium reports whether the viewer has a premium account.
func (s *Session) IsPremium() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPremium
}

// Get performs a cookie-authenticated GET request.
func (s *Session) Get(ctx context.Context, url string) (*Response, error) {
	return s.client.Get(ctx, url)
}

// PostForm performs a cookie-authenticated POST request with form data.
func (s *Session) PostForm(ctx context.Context, urlStr string, form url.Values) (*Response, error) {
	return s.client.PostForm(ctx, urlStr, form)
}

// SetCookies stores cookies in the session's jar for the given URL.
func (s *Session) SetCookies(rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse cookie url: %w", err)
	}
	s.jar.SetCookies(u, cookies)
	return nil
}

// SaveCookies writes the session's cookies to the configured cookie file.
// No-op when no cookie file is configured.
func (s *Session) SaveCookies() error {
	s.mu.RLock()
	path := s.cookiePath
	s.mu.RUnlock()
	if path == "" {
		return nil
	}

	var cookies []*http.Cookie
	for _, domain := range s.domains {
		if u, err := url.Parse(domain); err == nil {
			cookies = append(cookies, s.jar.Cookies(u)...)
		}
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create cookie directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return nil
}

// LoadCookies restores cookies from the configured cookie file. A missing
// file is not an error.
func (s *Session) LoadCookies() error {
	s.mu.RLock()
	path := s.cookiePath
	s.mu.RUnlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("unmarshal cookies: %w", err)
	}

	for _, domain := range s.domains {
		if u, err := url.Parse(domain); err == nil {
			s.jar.SetCookies(u, cookies)
		}
	}
	return nil
}

// Close persists cookies if configured and releases client resources.
func (s *Session) Close() error {
	if err := s.SaveCookies(); err != nil {
		return err
	}
	return s.client.Close()
}
