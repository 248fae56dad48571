// Package client is a typed HTTP client for the attendance API. It carries the caller's
// identity explicitly and satisfies capture.Marker so a capture.Machine can submit check-ins.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-attendance-server/capture"
	"github.com/jrsteele09/go-attendance-server/geo"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const apiPrefix = "/api/attendance"

// ErrNoIdentity is returned when a call is made without a current, unexpired identity.
var ErrNoIdentity = errors.New("no identity set")

// Identity is the bearer token the client presents. A zero Expiry never expires.
type Identity struct {
	AccessToken string
	Expiry      time.Time
}

// Session mirrors the server's session representation.
type Session struct {
	SessionID     string     `json:"sessionId"`
	SessionCode   string     `json:"sessionCode"`
	CourseCode    string     `json:"courseCode"`
	CreatedBy     string     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	State         string     `json:"state"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	AllowedRadius float64    `json:"allowedRadius"`
	QRPayload     string     `json:"qrPayload"`
}

// Roster is a list of marks with its count.
type Roster struct {
	Count int            `json:"count"`
	Marks []*ledger.Mark `json:"marks"`
}

type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time

	lock     sync.RWMutex
	identity *Identity
}

var _ capture.Marker = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient sets the transport used beneath the bearer token layer.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.now = nowFunc
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[client.New] invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// SetIdentity replaces the identity used for subsequent calls.
func (c *Client) SetIdentity(id Identity) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.identity = &id
}

// ClearIdentity forgets the current identity, e.g. on sign-out.
func (c *Client) ClearIdentity() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.identity = nil
}

// Identity returns the current identity, if one is set and unexpired.
func (c *Client) Identity() (Identity, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.identity == nil || c.identity.AccessToken == "" {
		return Identity{}, false
	}
	if !c.identity.Expiry.IsZero() && !c.now().Before(c.identity.Expiry) {
		return Identity{}, false
	}
	return *c.identity, true
}

func (c *Client) authorizedClient(ctx context.Context) (*http.Client, error) {
	id, ok := c.Identity()
	if !ok {
		return nil, ErrNoIdentity
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: id.AccessToken,
		TokenType:   "Bearer",
		Expiry:      id.Expiry,
	})), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[Client.do] decoding %s %s", method, path)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	hc, err := c.authorizedClient(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.send] encoding request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.send]")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.send] %s %s", method, path)
	}
	return resp, nil
}

type createSessionBody struct {
	CourseCode    string   `json:"courseCode"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	AllowedRadius *float64 `json:"allowedRadius,omitempty"`
}

// CreateSession opens a session at origin. A nil radius uses the server default.
func (c *Client) CreateSession(ctx context.Context, courseCode string, origin geo.Point, radiusMeters *float64) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, apiPrefix+"/sessions", createSessionBody{
		CourseCode:    courseCode,
		Latitude:      origin.Latitude,
		Longitude:     origin.Longitude,
		AllowedRadius: radiusMeters,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Sessions(ctx context.Context) ([]*Session, error) {
	var out []*Session
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/sessions/"+url.PathEscape(sessionID)+"/close", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// QRCode fetches the session's QR code as a PNG. size <= 0 uses the server default.
func (c *Client) QRCode(ctx context.Context, sessionID string, size int) ([]byte, error) {
	path := apiPrefix + "/sessions/" + url.PathEscape(sessionID) + "/qr.png"
	if size > 0 {
		path += "?size=" + strconv.Itoa(size)
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	png, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.QRCode]")
	}
	return png, nil
}

type markBody struct {
	QRPayload   string  `json:"qrPayload,omitempty"`
	SessionCode string  `json:"sessionCode,omitempty"`
	CourseCode  string  `json:"courseCode,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// VerifyAndMark submits a check-in. Rejections come back as *attendance.VerificationError.
func (c *Client) VerifyAndMark(ctx context.Context, p proof.Proof, courseCode string, location geo.Point) (*ledger.Mark, error) {
	body := markBody{CourseCode: courseCode, Latitude: location.Latitude, Longitude: location.Longitude}
	switch p.Kind() {
	case proof.KindQR:
		payload, err := p.Payload()
		if err != nil {
			return nil, errors.Wrap(err, "[Client.VerifyAndMark]")
		}
		body.QRPayload = payload
	case proof.KindCode:
		body.SessionCode = p.ShortCode()
		if body.CourseCode == "" {
			body.CourseCode = p.CourseCode()
		}
	default:
		return nil, errors.Wrap(proof.ErrInvalidFormat, "[Client.VerifyAndMark] empty proof")
	}

	var m ledger.Mark
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/mark", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// History returns the caller's own marks, most recent first.
func (c *Client) History(ctx context.Context) ([]*ledger.Mark, error) {
	var out []*ledger.Mark
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/student", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SessionRoster(ctx context.Context, sessionID string) (*Roster, error) {
	return c.roster(ctx, apiPrefix+"/sessions/"+url.PathEscape(sessionID)+"/roster")
}

func (c *Client) CourseRoster(ctx context.Context, courseCode string) (*Roster, error) {
	return c.roster(ctx, apiPrefix+"/courses/"+url.PathEscape(courseCode)+"/roster")
}

func (c *Client) roster(ctx context.Context, path string) (*Roster, error) {
	var r Roster
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("attendance client for %s", c.baseURL)
}
