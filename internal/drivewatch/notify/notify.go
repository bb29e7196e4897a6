package notify

import (
	"context"
	"time"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindSessionStarted Kind = "session_started"
	KindSessionEnded   Kind = "session_ended"
	KindDrowsiness     Kind = "drowsiness"
)

// Notification is a one-shot, user-visible message.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	VehicleID string    `json:"vehicleId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
}

// New returns the notification of the given kind with its standard texts.
func New(kind Kind, sessionID string, now time.Time) Notification {
	n := Notification{Kind: kind, SessionID: sessionID, Time: now}
	switch kind {
	case KindSessionStarted:
		n.Title, n.Message = "Session started", "Drive safely!"
	case KindSessionEnded:
		n.Title, n.Message = "Session ended", "Thank you for using the app!"
	case KindDrowsiness:
		n.Title, n.Message = "Drowsiness Detected", "Please stay alert!"
	}
	return n
}

// Notifier delivers notifications. Implementations must not block for long:
// they are called from the session event loop.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Stamp sets the vehicle ID on every notification before passing it on.
func Stamp(vehicleID string, next Notifier) Notifier {
	return Func(func(ctx context.Context, n Notification) {
		n.VehicleID = vehicleID
		next.Notify(ctx, n)
	})
}
