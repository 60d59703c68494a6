// Package identity talks to the identity service that owns principals,
// their roles and each RFP's default access policy.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rfpdesk/docvault/internal/domain/access"
	"github.com/rfpdesk/docvault/internal/metrics"
)

// Config holds the identity service settings.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is the HTTP identity directory. Concurrent identical lookups are
// collapsed into one request.
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration
	http    *http.Client
	group   singleflight.Group
	logger  *zap.Logger
}

// NewClient creates an HTTP identity directory.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid identity base url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = hc.Timeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, token: cfg.Token, timeout: timeout, http: hc, logger: logger}, nil
}

type rolesResponse struct {
	Roles []string `json:"roles"`
}

type policyResponse struct {
	Policy map[string]string `json:"policy"`
}

// ResolveRoles returns the roles held by principal.
func (c *Client) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	v, err := c.shared(ctx, "roles:"+principal, func(ctx context.Context) (any, error) {
		var resp rolesResponse
		if err := c.getJSON(ctx, "roles", "/principals/"+url.PathEscape(principal)+"/roles", &resp); err != nil {
			return nil, err
		}
		return resp.Roles, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// RFPDefaultPolicy returns the default role levels of an RFP.
func (c *Client) RFPDefaultPolicy(ctx context.Context, rfpID string) (access.Policy, error) {
	v, err := c.shared(ctx, "policy:"+rfpID, func(ctx context.Context) (any, error) {
		var resp policyResponse
		if err := c.getJSON(ctx, "policy", "/rfps/"+url.PathEscape(rfpID)+"/policy", &resp); err != nil {
			return nil, err
		}
		p := make(access.Policy, len(resp.Policy))
		for role, name := range resp.Policy {
			l, err := access.ParseLevel(name)
			if err != nil {
				return nil, fmt.Errorf("policy of %s role %s: %w", rfpID, role, err)
			}
			p[role] = l
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	src := v.(access.Policy)
	out := make(access.Policy, len(src))
	for k, l := range src {
		out[k] = l
	}
	return out, nil
}

// Ping checks that the identity service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("/healthz").String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// shared runs fn once per key among concurrent callers; each caller still
// honours its own context. The shared request is detached from the caller
// that started it and bounded by the client timeout, so one caller giving up
// does not fail the others.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(sctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.IdentityRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IdentityRequestsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("identity %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.IdentityRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown principals hold no roles; unknown RFPs have an empty policy.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("identity service error",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return fmt.Errorf("identity %s: unexpected status %d", op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity %s: decode: %w", op, err)
	}
	return nil
}
