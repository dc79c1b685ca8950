package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL   string
	Transport http.RoundTripper
	Storage   Storage
	// LegacyRefresh keeps the refresh token in Storage and sends it in the
	// refresh body. Only for servers that cannot set the cookie.
	LegacyRefresh  bool
	CookieName     string
	RefreshTimeout time.Duration
	Logger         *zap.Logger
}

// Client talks to the auth endpoints and hands out an *http.Client whose
// requests carry the session and survive access token expiry.
type Client struct {
	base     *url.URL
	cfg      Config
	session  *Session
	raw      *http.Client
	// detached carries refresh calls. It has no jar, so the rotated cookie is
	// stored only if the session is still the one the refresh started for.
	detached *http.Client
	guarded  *http.Client
	log      *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "refresh_token"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	jar := NewJar()
	c := &Client{
		base:    base,
		cfg:     cfg,
		session: NewSession(cfg.Storage, jar),
		log:     cfg.Logger,
	}
	c.raw = &http.Client{Transport: cfg.Transport, Jar: jar}
	c.detached = &http.Client{Transport: cfg.Transport}

	var gopts []GuardOption
	if cfg.RefreshTimeout > 0 {
		gopts = append(gopts, WithRefreshTimeout(cfg.RefreshTimeout))
	}
	gopts = append(gopts, WithGuardLogger(cfg.Logger))
	c.guarded = &http.Client{
		Transport: NewGuard(cfg.Transport, c.session, c.Refresh, gopts...),
		Jar:       jar,
	}
	return c, nil
}

func (c *Client) Session() *Session { return c.session }

// HTTPClient returns the guarded client for application requests.
func (c *Client) HTTPClient() *http.Client { return c.guarded }

func (c *Client) Do(req *http.Request) (*http.Response, error) { return c.guarded.Do(req) }

// URL resolves path against the base URL.
func (c *Client) URL(path string) string { return c.base.String() + "/" + strings.TrimLeft(path, "/") }

type authResponse struct {
	AccessToken string    `json:"accessToken"`
	User        Principal `json:"user"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Role        string `json:"role,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*Principal, error) {
	return c.open(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) Register(ctx context.Context, in RegisterRequest) (*Principal, error) {
	return c.open(ctx, "/auth/register", in)
}

func (c *Client) open(ctx context.Context, path string, body any) (*Principal, error) {
	var out authResponse
	if err := c.postJSON(ctx, path, body, &out); err != nil {
		return nil, err
	}
	legacy := ""
	if c.cfg.LegacyRefresh {
		legacy = c.refreshCookie()
	}
	c.session.Init(out.AccessToken, &out.User, legacy)
	return c.session.Principal(), nil
}

// Refresh rotates the refresh token and returns the new access token.
// The Guard calls it; callers rarely need to. A result that arrives after the
// session was torn down is discarded and reported as ErrNoSession.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	epoch := epochFrom(ctx, c.session)
	u := c.refreshURL()

	// Credentials come from the session the refresh started in, never from
	// one that replaced it.
	var (
		body any
		sent []*http.Cookie
	)
	if !c.session.commit(epoch, func() {
		sent = c.session.jar.Cookies(u)
		if c.cfg.LegacyRefresh && c.session.legacyRefresh != "" {
			body = map[string]string{"refreshToken": c.session.legacyRefresh}
		}
	}) {
		return "", ErrNoSession
	}

	var out authResponse
	cookies, err := c.post(ctx, c.detached, "/auth/refresh", body, &out, sent...)

	applied := c.session.commit(epoch, func() {
		c.session.jar.SetCookies(u, cookies)
		if err != nil {
			return
		}
		if c.cfg.LegacyRefresh {
			c.session.legacyRefresh = cookieValue(c.session.jar.Cookies(u), c.cfg.CookieName)
		}
		c.session.updateLocked(out.AccessToken, &out.User)
	})
	switch {
	case err != nil:
		return "", err
	case !applied:
		return "", ErrNoSession
	}
	return out.AccessToken, nil
}

// Logout ends the session on the server and tears it down locally. The local
// teardown happens even when the server cannot be reached.
func (c *Client) Logout(ctx context.Context, allSessions bool) error {
	defer c.session.Teardown()
	body := map[string]any{"allSessions": allSessions}
	if c.cfg.LegacyRefresh {
		if rt := c.session.LegacyRefresh(); rt != "" {
			body["refreshToken"] = rt
		}
	}
	return c.postJSON(ctx, "/auth/logout", body, nil)
}

func (c *Client) refreshCookie() string {
	return cookieValue(c.session.Jar().Cookies(c.refreshURL()), c.cfg.CookieName)
}

// refreshURL is the absolute URL the /auth scoped cookie is matched against.
func (c *Client) refreshURL() *url.URL {
	return c.base.ResolveReference(&url.URL{Path: "/auth/refresh"})
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	_, err := c.post(ctx, c.raw, path, in, out)
	return err
}

// post sends in as JSON and decodes a 2xx answer into out. It returns the
// cookies the response set, also on an error answer. send is attached as is;
// a client with a jar adds its own cookies on top.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, in, out any, send ...*http.Cookie) ([]*http.Cookie, error) {
	var rd io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range send {
		req.AddCookie(ck)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	cookies := resp.Cookies()
	if resp.StatusCode/100 != 2 {
		return cookies, readAPIError(resp)
	}
	if out == nil {
		return cookies, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return cookies, fmt.Errorf("decode %s: %w", path, err)
	}
	return cookies, nil
}
