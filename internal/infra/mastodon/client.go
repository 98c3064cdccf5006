// Package mastodon talks to Mastodon-compatible origins over their REST API.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"syncq/internal/config"
	"syncq/internal/domain"
	"syncq/internal/ports"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog/log"
)

var (
	_ ports.Connection        = (*Client)(nil)
	_ ports.ConnectionFactory = (*Factory)(nil)
)

const maxErrorBody = 4 << 10

type Options struct {
	Attempts     uint
	RetryDelay   time.Duration
	MaxDelay     time.Duration
	PageLimit    int
	InstancesURL string
	UserAgent    string
}

func OptionsFrom(cfg config.Remote) Options {
	return Options{
		Attempts:     cfg.Attempts,
		RetryDelay:   cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		PageLimit:    cfg.PageLimit,
		InstancesURL: cfg.InstancesURL,
		UserAgent:    cfg.UserAgent,
	}
}

// Factory builds clients sharing one http.Client.
type Factory struct {
	opts Options
	hc   *http.Client
}

func NewFactory(cfg config.Remote) *Factory {
	return NewFactoryWithClient(OptionsFrom(cfg), &http.Client{Timeout: cfg.Timeout})
}

func NewFactoryWithClient(opts Options, hc *http.Client) *Factory {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 40
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Factory{opts: opts, hc: hc}
}

func (f *Factory) ForAccount(acct domain.Account) (ports.Connection, error) {
	origin := acct.Origin()
	if origin == "" {
		return nil, domain.NewConnectionError(domain.KindAuth, 0, fmt.Errorf("account %s has no origin", acct.Name))
	}
	return f.client(origin, acct.Get(domain.AccountKeyAccessToken)), nil
}

func (f *Factory) ForOrigin(origin string) (ports.Connection, error) {
	return f.client(origin, ""), nil
}

func (f *Factory) client(origin, token string) *Client {
	return &Client{
		base:  strings.TrimRight(origin, "/"),
		token: token,
		hc:    f.hc,
		opts:  f.opts,
	}
}

// Client is a Connection to one origin, optionally authenticated.
type Client struct {
	base  string
	token string
	hc    *http.Client
	opts  Options
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
}

type response struct {
	header http.Header
	body   []byte
}

// do sends req, retrying while the origin answers 429 or 503.
// Failures are returned as *domain.ConnectionError.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	target := req.path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if c.base == "" {
			return nil, domain.NewConnectionError(domain.KindNotSupported, 0, errors.New("no origin to send the request to"))
		}
		target = c.base + req.path
	}
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("encode request: %w", err))
		}
	}

	var (
		out  *response
		last error
	)
	err := retry.Do(
		func() error {
			out, last = c.send(ctx, req.method, target, payload)
			return last
		},
		retry.Attempts(c.opts.Attempts),
		retry.Delay(c.opts.RetryDelay),
		retry.MaxDelay(c.opts.MaxDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Debug().Uint("attempt", n+1).Err(err).Str("url", target).Msg("retrying request")
		}),
		retry.RetryIf(isThrottled),
	)
	if err == nil {
		return out, nil
	}
	if last == nil {
		last = domain.NewConnectionError(domain.KindIO, 0, err)
	}
	return nil, last
}

func isThrottled(err error) bool {
	var ce *domain.ConnectionError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.StatusCode == http.StatusTooManyRequests || ce.StatusCode == http.StatusServiceUnavailable
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte) (*response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, domain.NewConnectionError(domain.KindIO, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Ctx(ctx).Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("remote request")

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, domain.NewConnectionError(classify(resp.StatusCode), resp.StatusCode,
			fmt.Errorf("%s %s: %s", method, req.URL.Path, errorMessage(msg)))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewConnectionError(domain.KindIO, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	return &response{header: resp.Header, body: content}, nil
}

// classify maps an HTTP status to the kind of failure it represents.
func classify(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusNotFound || status == http.StatusGone:
		return domain.KindNotFound
	case status == http.StatusNotImplemented:
		return domain.KindNotSupported
	case status == http.StatusUnprocessableEntity:
		return domain.KindParse
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return domain.KindIO
	}
	return domain.KindParse
}

// errorMessage extracts the "error" field Mastodon puts into failure bodies.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "request failed"
}

func decode(resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return domain.NewConnectionError(domain.KindParse, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) (*response, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	return resp, decode(resp, v)
}

func (c *Client) postJSON(ctx context.Context, method, path string, body, v any) error {
	resp, err := c.do(ctx, request{method: method, path: path, body: body})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return decode(resp, v)
}
