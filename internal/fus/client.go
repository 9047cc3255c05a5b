package fus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultFUSURL        = "https://neofussvr.sslcs.cdngc.net"
	DefaultDownloadURL   = "http://cloud-neofussvr.samsungmobile.com"
	DefaultFOTAURL       = "https://fota-cloud-dn.ospserver.net"
	DefaultUserAgent     = "Kies2.0_FUS"
	DefaultClientVersion = "4.3.23123_1"
	DefaultTimeout       = 30 * time.Second

	sessionCookie = "JSESSIONID"
	nonceHeader   = "NONCE"
)

// ErrRangeIgnored is returned when a resumed download is answered with the
// whole file.
var ErrRangeIgnored = errors.New("server ignored range request")

// Client talks to the FUS endpoints. It holds no authentication state; that
// lives in a Session.
type Client struct {
	http          *http.Client
	fusURL        string
	downloadURL   string
	fotaURL       string
	userAgent     string
	clientVersion string
	cookies       bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithEndpoints overrides the base URLs. Empty values keep the defaults.
func WithEndpoints(fusURL, downloadURL, fotaURL string) Option {
	return func(c *Client) {
		if fusURL != "" {
			c.fusURL = strings.TrimRight(fusURL, "/")
		}
		if downloadURL != "" {
			c.downloadURL = strings.TrimRight(downloadURL, "/")
		}
		if fotaURL != "" {
			c.fotaURL = strings.TrimRight(fotaURL, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithClientVersion sets CLIENT_VERSION in binary-info requests.
func WithClientVersion(v string) Option {
	return func(c *Client) { c.clientVersion = v }
}

// WithSessionCookie enables or disables the JSESSIONID cookie. When enabled
// BeginSession fails without one.
func WithSessionCookie(enabled bool) Option {
	return func(c *Client) { c.cookies = enabled }
}

// NewHTTPClient returns an HTTP client that waits at most timeout for
// response headers. Bodies are not time limited since firmware downloads
// run for a long time. A zero timeout disables the limit.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: tr}
}

// NewClient returns a Client using the production endpoints unless
// overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:          NewHTTPClient(DefaultTimeout),
		fusURL:        DefaultFUSURL,
		downloadURL:   DefaultDownloadURL,
		fotaURL:       DefaultFOTAURL,
		userAgent:     DefaultUserAgent,
		clientVersion: DefaultClientVersion,
		cookies:       true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) setSession(req *http.Request, s *Session, includeEncoded bool) {
	req.Header.Set("Authorization", s.Authorization(includeEncoded))
	if c.cookies && s.ID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: s.ID})
	}
}

func responseSessionID(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			return cookie.Value
		}
	}
	return ""
}

// BeginSession fetches a fresh nonce from NF_DownloadGenerateNonce.do.
func (c *Client) BeginSession(ctx context.Context) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fusURL+"/NF_DownloadGenerateNonce.do", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", `FUS newauth="1"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Path: "NF_DownloadGenerateNonce.do", Status: resp.StatusCode}
	}

	id := responseSessionID(resp)
	if c.cookies && id == "" {
		return nil, ErrMissingSessionID
	}
	s, err := NewSession(resp.Header.Get(nonceHeader), id)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Bool("cookie", id != "").Msg("session started")
	return s, nil
}

// request POSTs an authenticated FUS message and rotates the session nonce
// from the response.
func (c *Client) request(ctx context.Context, s *Session, path, data string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.fusURL+"/"+path, strings.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setSession(req, s, false)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := c.updateSession(ctx, s, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Path: path, Status: resp.StatusCode, Body: string(body)}
	}

	zerolog.Ctx(ctx).Debug().Str("request", path).Msg(string(body))
	return body, nil
}

func (c *Client) updateSession(ctx context.Context, s *Session, resp *http.Response) error {
	rotated, err := s.Rotate(resp.Header.Get(nonceHeader))
	if err != nil {
		return err
	}
	if rotated {
		zerolog.Ctx(ctx).Debug().Msg("nonce rotated")
	}
	if id := responseSessionID(resp); c.cookies && id != "" {
		s.ID = id
	}
	return nil
}

// FileInfo asks for the binary matching p.Version and derives its key.
func (c *Client) FileInfo(ctx context.Context, s *Session, p InformParams) (*BinaryInfo, error) {
	if p.ClientVersion == "" {
		p.ClientVersion = c.clientVersion
	}
	body, err := c.request(ctx, s, "NF_DownloadBinaryInform.do", BinaryInformRequest(p, s.Nonce.Value))
	if err != nil {
		return nil, err
	}
	return ParseBinaryInfo(ctx, p.Model, p.Region, body)
}

// CheckInform sends a binary-info request and only reports whether the
// server accepted it. It is used to probe IMEIs.
func (c *Client) CheckInform(ctx context.Context, s *Session, p InformParams) (bool, error) {
	if p.ClientVersion == "" {
		p.ClientVersion = c.clientVersion
	}
	body, err := c.request(ctx, s, "NF_DownloadBinaryInform.do", BinaryInformRequest(p, s.Nonce.Value))
	if err != nil {
		return false, err
	}
	doc, err := ParseDocument(body)
	if err != nil {
		return false, err
	}
	status, err := responseStatus(doc)
	if err != nil {
		return false, err
	}
	return status == 200, nil
}

// InitDownload registers the upcoming download of filename.
func (c *Client) InitDownload(ctx context.Context, s *Session, filename string) error {
	_, err := c.request(ctx, s, "NF_DownloadBinaryInitForMass.do", BinaryInitRequest(filename, s.Nonce.Value))
	return err
}

// Download starts the binary transfer, resuming at offset when non-zero.
// The caller must close the response body.
func (c *Client) Download(ctx context.Context, s *Session, info *BinaryInfo, offset int64) (*http.Response, error) {
	url := c.downloadURL + "/NF_DownloadBinaryForMass.do?file=" + info.ModelPath + info.BinaryName
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setSession(req, s, true)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if err := c.updateSession(ctx, s, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &HTTPError{Path: "NF_DownloadBinaryForMass.do", Status: resp.StatusCode}
	}
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, ErrRangeIgnored
	}
	return resp, nil
}
