package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autopeer-io/drivewatch/internal/pkg/metrics"
	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 64 << 10

var _ Service = (*Client)(nil)

// Client talks to the detection service over HTTP/JSON.
type Client struct {
	baseURL *url.URL
	hc      *http.Client
}

// NewClient builds a client from the detection options.
func NewClient(opts *options.DetectionOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid detection server url: %w", err)
	}

	return &Client{
		baseURL: u,
		hc:      &http.Client{Timeout: opts.Timeout},
	}, nil
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// StartSession begins a detection session server-side.
func (c *Client) StartSession(ctx context.Context) (SessionAck, error) {
	var ack SessionAck
	err := c.do(ctx, http.MethodPost, PathStartSession, &ack, false)
	return ack, err
}

// StopSession ends the detection session server-side.
func (c *Client) StopSession(ctx context.Context) (SessionAck, error) {
	var ack SessionAck
	err := c.do(ctx, http.MethodPost, PathStopSession, &ack, false)
	return ack, err
}

// SessionStatus reports whether the service considers a session active.
func (c *Client) SessionStatus(ctx context.Context) (SessionAck, error) {
	var ack SessionAck
	if err := c.do(ctx, http.MethodGet, PathSessionStatus, &ack, true); err != nil {
		return ack, err
	}
	if ack.Active == nil {
		return ack, fmt.Errorf("%w: GET %s: missing session_active", ErrBadResponse, PathSessionStatus)
	}
	return ack, nil
}

// CheckDrowsiness fetches the current drowsiness flag.
func (c *Client) CheckDrowsiness(ctx context.Context) (Status, error) {
	var body struct {
		Alert *bool `json:"alert"`
	}
	if err := c.do(ctx, http.MethodGet, PathCheckDrowsiness, &body, true); err != nil {
		return Status{}, err
	}
	if body.Alert == nil {
		return Status{}, fmt.Errorf("%w: GET %s: missing alert", ErrBadResponse, PathCheckDrowsiness)
	}
	return Status{Alert: *body.Alert}, nil
}

// do sends a body-less request and decodes the JSON response into out.
// With strict unset, the reply only acknowledges the request: a non-2xx status
// is logged, and an empty or non-JSON body leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, out any, strict bool) (err error) {
	start := time.Now()
	defer func() {
		metrics.RequestLatency.WithLabelValues(path, resultLabel(err)).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), nil)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %s %s: reading body: %w", ErrUnavailable, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if !strict {
			log.Warn("Detection service replied with an error status", "method", method, "path", path, "status", resp.Status)
			return nil
		}
		return fmt.Errorf("%w: %s %s: status %s", ErrBadResponse, method, path, resp.Status)
	}

	if err := json.Unmarshal(data, out); err != nil {
		if !strict {
			return nil
		}
		return fmt.Errorf("%w: %s %s: %w", ErrBadResponse, method, path, err)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "unavailable"
	}
}
