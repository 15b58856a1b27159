// Package api is the authenticated HTTP transport for the lab API. It turns
// an endpoint, an API version and an optional body into either a Response or
// an *Error, and never lets wire-level failures escape unclassified.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/htbdesk/htb/internal/debuglog"
)

// Version selects one of the two API surfaces.
type Version string

const (
	V4 Version = "v4"
	V5 Version = "v5"
)

const (
	// DefaultTimeout bounds every call.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "HTB-Desktop-Client/1.0"

	RateLimitMessage = "Rate limit (429). Wait a few seconds before retrying."
	TimeoutMessage   = "Request timeout"
	CanceledMessage  = "Request cancelled"
)

// TokenSource yields the bearer token to attach, or "" for none.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Options configures a Client.
type Options struct {
	V4Base             string
	V5Base             string
	Timeout            time.Duration
	Tokens             TokenSource
	Sink               debuglog.Sink
	HTTPClient         *http.Client
	InsecureSkipVerify bool
	UserAgent          string
}

// Client is safe for concurrent use. One Client is shared by the process.
type Client struct {
	v4Base    string
	v5Base    string
	timeout   time.Duration
	tokens    TokenSource
	sink      debuglog.Sink
	http      *http.Client
	userAgent string
}

// New builds a Client, filling unset options with defaults.
func New(opts Options) *Client {
	c := &Client{
		v4Base:    strings.TrimSuffix(opts.V4Base, "/"),
		v5Base:    strings.TrimSuffix(opts.V5Base, "/"),
		timeout:   opts.Timeout,
		tokens:    opts.Tokens,
		sink:      opts.Sink,
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	if c.sink == nil {
		c.sink = debuglog.Nop()
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.http = &http.Client{Transport: transport}
	}
	return c
}

// Get issues a GET against endpoint on the given surface.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, v Version) (*Response, error) {
	target, err := c.url(endpoint, params, v)
	if err != nil {
		return nil, c.fail(0, endpoint, err)
	}
	return c.do(ctx, http.MethodGet, target, nil, nil)
}

// Post issues a POST with body encoded as JSON. A nil body sends no body.
func (c *Client) Post(ctx context.Context, endpoint string, body any, v Version) (*Response, error) {
	target, err := c.url(endpoint, nil, v)
	if err != nil {
		return nil, c.fail(0, endpoint, err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, c.fail(0, target, &Error{
				Kind:    KindRequest,
				URL:     target,
				Message: fmt.Sprintf("failed to encode request body: %v", err),
				Err:     err,
			})
		}
	}
	return c.do(ctx, http.MethodPost, target, body, payload)
}

func (c *Client) url(endpoint string, params url.Values, v Version) (string, error) {
	var base string
	switch v {
	case V4:
		base = c.v4Base
	case V5:
		base = c.v5Base
	default:
		return "", &Error{Kind: KindRequest, URL: endpoint, Message: fmt.Sprintf("unknown API version %q", v)}
	}

	target := base + "/" + strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return target, nil
}

func (c *Client) do(ctx context.Context, method, target string, body any, payload []byte) (*Response, error) {
	c.sink.Request(method, target, body)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, c.fail(0, target, &Error{
			Kind:    KindRequest,
			URL:     target,
			Message: fmt.Sprintf("failed to build request: %v", err),
			Err:     err,
		})
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(0, target, classify(target, err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(resp.StatusCode, target, classify(target, err))
	}

	contentType := resp.Header.Get("Content-Type")

	// Status is checked before the body is interpreted so an error document
	// is never handed out as data.
	if resp.StatusCode >= 400 {
		return nil, c.fail(resp.StatusCode, target, &Error{
			Kind:    KindHTTP,
			Status:  resp.StatusCode,
			URL:     target,
			Message: httpMessage(resp.StatusCode, contentType, raw),
		})
	}

	out := &Response{StatusCode: resp.StatusCode, ContentType: contentType, Raw: raw}
	if !isJSON(contentType) {
		c.sink.Response(resp.StatusCode, target, raw, nil)
		return out, nil
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.Data); err != nil {
			return nil, c.fail(resp.StatusCode, target, &Error{
				Kind:    KindMalformed,
				Status:  resp.StatusCode,
				URL:     target,
				Message: fmt.Sprintf("Malformed response: %v", err),
				Err:     err,
			})
		}
	}
	c.sink.Response(resp.StatusCode, target, out.Data, nil)
	return out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	// Without a token the header is omitted and the server rejects the call.
	if token := c.tokens.Token(); token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
}

func (c *Client) fail(status int, target string, err error) error {
	c.sink.Response(status, target, nil, err)
	return err
}

func classify(target string, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, URL: target, Message: TimeoutMessage, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, URL: target, Message: CanceledMessage, Err: err}
	default:
		return &Error{Kind: KindConnection, URL: target, Message: fmt.Sprintf("Connection error: %v", err), Err: err}
	}
}

// httpMessage extracts a user-facing message from an error response.
func httpMessage(status int, contentType string, raw []byte) string {
	if status == http.StatusTooManyRequests {
		return RateLimitMessage
	}
	if isJSON(contentType) {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err == nil {
			for _, key := range []string{"message", "error"} {
				if msg := textField(doc[key]); msg != "" {
					return msg
				}
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func textField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
