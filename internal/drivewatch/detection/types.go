package detection

import (
	"context"
	"errors"
)

// Endpoints of the detection service.
const (
	PathStartSession    = "/start_session"
	PathStopSession     = "/stop_session"
	PathCheckDrowsiness = "/check_drowsiness"
	PathSessionStatus   = "/session_status"
)

var (
	// ErrUnavailable marks transport failures: refused connections, timeouts, cancellation.
	ErrUnavailable = errors.New("detection service unavailable")

	// ErrBadResponse marks non-2xx statuses and bodies that do not decode to the expected shape.
	ErrBadResponse = errors.New("unexpected response from detection service")
)

// Status is the body of GET /check_drowsiness.
type Status struct {
	Alert bool `json:"alert"`
}

// SessionAck is the optional body of the session endpoints.
// Active is nil when the service did not report it.
type SessionAck struct {
	Active *bool `json:"session_active,omitempty"`
}

// Service is the set of calls the session controller makes.
type Service interface {
	StartSession(ctx context.Context) (SessionAck, error)
	StopSession(ctx context.Context) (SessionAck, error)
	CheckDrowsiness(ctx context.Context) (Status, error)
}
