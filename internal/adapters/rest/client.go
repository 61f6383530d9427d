// Package rest is the HTTP client for the backend's protected API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 10 * time.Second
	protectedPath  = "/api/v1/protected"
	maxErrorBody   = 4096
)

type Options struct {
	// BaseURL is the backend origin, e.g. http://localhost:8080.
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger

	mu    sync.RWMutex
	token string
}

func New(opts Options) *Client {
	hc := opts.HTTP
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/") + protectedPath,
		http:   hc,
		token:  opts.Token,
		logger: log.With().Str("module", "adapters.rest").Logger(),
	}
}

// SetToken replaces the bearer token for later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// apiError is the backend's error body.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := "rest." + strings.ToLower(method) + " " + path
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return domain.E(domain.KindInvalid, op, errors.Wrap(err, "encode request"))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return domain.E(domain.KindInvalid, op, errors.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("request failed")
		return transportError(op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("request")

	if resp.StatusCode/100 != 2 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &domain.Error{Kind: domain.KindServerRejected, Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

func transportError(op string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return domain.E(domain.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return domain.E(domain.KindNetwork, op, err)
	}
	return domain.E(domain.KindNetwork, op, errors.Wrap(err, "transport"))
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body apiError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	e := &domain.Error{Kind: domain.KindServerRejected, Op: op, Status: resp.StatusCode, Msg: msg}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = domain.KindPermissionDenied
		e.Err = domain.ErrPermissionDenied
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Kind = domain.KindTimeout
	}
	return e
}

func pageQuery(p domain.Page) url.Values {
	if p.Limit <= 0 {
		p.Limit = domain.DefaultPage.Limit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	return q
}

func seg(s string) string { return url.PathEscape(s) }

func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T
	if err := c.do(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
