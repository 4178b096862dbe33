// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package openwebif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ManuGH/epgcache/internal/resilience"
)

const maxResponseBytes = 16 << 20

// Bouquet is a named service list on the receiver.
type Bouquet struct {
	Ref  string
	Name string
}

// Service is one entry of a bouquet.
type Service struct {
	Ref  string `json:"servicereference"`
	Name string `json:"servicename"`
}

// EPGEvent is one guide entry as returned by /api/epgservice.
type EPGEvent struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"shortdesc"`
	LongDesc    string `json:"longdesc"`
	Begin       int64  `json:"begin_timestamp"`
	Duration    int64  `json:"duration_sec"`
	ServiceRef  string `json:"sref"`
	ServiceName string `json:"sname"`
	Genre       string `json:"genre,omitempty"`
}

// About describes the receiver.
type About struct {
	Model     string `json:"model"`
	Brand     string `json:"brand"`
	BoxType   string `json:"boxtype"`
	WebIFVer  string `json:"webifver"`
	ImageVer  string `json:"imagever"`
	EnigmaVer string `json:"enigmaver"`
}

// Client talks to the OpenWebIF JSON API of an Enigma2 receiver.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
}

// NewClient creates a client for base (e.g. "http://192.168.1.10").
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, 4),
		breaker: resilience.NewCircuitBreaker("openwebif", 5, 30*time.Second),
	}
}

// BaseURL returns the receiver URL.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return wrapError(op, err, 0, nil)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("openwebif: %s: build request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		res, err := c.http.Do(req)
		if err != nil {
			return wrapError(op, err, 0, nil)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
		if err != nil {
			return wrapError(op, err, 0, nil)
		}
		if res.StatusCode != http.StatusOK {
			return wrapError(op, nil, res.StatusCode, body)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return wrapError(op, err, res.StatusCode, nil)
		}
		return nil
	})
}

// About returns receiver identification from /api/about.
func (c *Client) About(ctx context.Context) (About, error) {
	var p struct {
		Info About `json:"info"`
	}
	if err := c.get(ctx, "about", "/api/about", nil, &p); err != nil {
		return About{}, err
	}
	return p.Info, nil
}

// Bouquets lists the TV bouquets.
func (c *Client) Bouquets(ctx context.Context) ([]Bouquet, error) {
	var p struct {
		Bouquets [][]string `json:"bouquets"`
	}
	if err := c.get(ctx, "bouquets", "/api/bouquets", nil, &p); err != nil {
		return nil, err
	}
	out := make([]Bouquet, 0, len(p.Bouquets))
	for _, b := range p.Bouquets {
		if len(b) < 2 {
			continue
		}
		out = append(out, Bouquet{Ref: b[0], Name: b[1]})
	}
	return out, nil
}

// Services lists the services of a bouquet, in bouquet order. Markers and
// separators are skipped.
func (c *Client) Services(ctx context.Context, bouquetRef string) ([]Service, error) {
	var p struct {
		Services []Service `json:"services"`
	}
	if err := c.get(ctx, "services", "/api/getservices", url.Values{"sRef": {bouquetRef}}, &p); err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(p.Services))
	for _, s := range p.Services {
		if s.Ref == "" || isMarker(s.Ref) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// isMarker reports whether ref is a bouquet marker ("1:64:...").
func isMarker(ref string) bool {
	parts := strings.SplitN(ref, ":", 3)
	return len(parts) >= 2 && parts[1] == "64"
}

// EPG returns all guide events the receiver holds for a service.
func (c *Client) EPG(ctx context.Context, serviceRef string) ([]EPGEvent, error) {
	var p struct {
		Events []EPGEvent `json:"events"`
	}
	if err := c.get(ctx, "epgservice", "/api/epgservice", url.Values{"sRef": {serviceRef}}, &p); err != nil {
		return nil, err
	}
	return p.Events, nil
}
