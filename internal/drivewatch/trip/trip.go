package trip

import (
	"context"
	"fmt"
	"time"
)

// Summary describes one driving session from start to stop.
type Summary struct {
	VehicleID    string        `json:"vehicleId"`
	SessionID    string        `json:"sessionId"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      time.Time     `json:"endedAt"`
	Duration     time.Duration `json:"durationNanos"`
	Polls        int           `json:"polls"`
	PollFailures int           `json:"pollFailures"`
	Alerts       int           `json:"alerts"`
}

// Recorder persists trip summaries.
type Recorder interface {
	Record(ctx context.Context, s Summary) error
}

// Nop discards summaries. It is used when no archive is configured.
type Nop struct{}

func (Nop) Record(context.Context, Summary) error { return nil }

// ObjectKey returns the archive key: trips/{vehicleID}/{YYYY}/{MM}/{DD}/{sessionID}.json
func ObjectKey(s Summary) string {
	day := s.StartedAt.UTC()
	return fmt.Sprintf("trips/%s/%04d/%02d/%02d/%s.json", s.VehicleID, day.Year(), int(day.Month()), day.Day(), s.SessionID)
}
