package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/notify"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/session"
)

func init() {
	color.NoColor = true
}

type fakeController struct {
	mu     sync.Mutex
	state  session.State
	starts int
	stops  int
	err    error
}

func (f *fakeController) StartDriving(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.state.Driving {
		return session.ErrAlreadyDriving
	}
	f.starts++
	f.state.Driving = true
	f.state.SessionID = "s-1"
	return nil
}

func (f *fakeController) StopDriving(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.state.Driving {
		return session.ErrNotDriving
	}
	f.stops++
	f.state = session.State{}
	return nil
}

func (f *fakeController) Snapshot(context.Context) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

type fakeProber struct {
	ack detection.SessionAck
	err error
}

func (f fakeProber) SessionStatus(context.Context) (detection.SessionAck, error) {
	return f.ack, f.err
}

func TestToggle(t *testing.T) {
	ctrl := &fakeController{}
	var out bytes.Buffer
	c := New(ctrl, nil, strings.NewReader(""), &out)

	require.NoError(t, c.Handle(context.Background(), ""))
	require.Equal(t, 1, ctrl.starts)
	require.Contains(t, out.String(), "[ Stop Driving ]")

	out.Reset()
	require.NoError(t, c.Handle(context.Background(), "toggle"))
	require.Equal(t, 1, ctrl.stops)
	require.Contains(t, out.String(), "[ Start Driving ]")
}

func TestInvalidTransitionIsShown(t *testing.T) {
	ctrl := &fakeController{}
	var out bytes.Buffer
	c := New(ctrl, nil, strings.NewReader(""), &out)

	require.NoError(t, c.Handle(context.Background(), "stop"))
	require.Contains(t, out.String(), session.ErrNotDriving.Error())
}

func TestClosedControllerEndsConsole(t *testing.T) {
	ctrl := &fakeController{err: session.ErrClosed}
	c := New(ctrl, nil, strings.NewReader(""), io.Discard)

	require.ErrorIs(t, c.Handle(context.Background(), "start"), session.ErrClosed)
}

func TestAlertBanner(t *testing.T) {
	ctrl := &fakeController{state: session.State{Driving: true, AlertActive: true, StartedAt: time.Now()}}
	var out bytes.Buffer
	c := New(ctrl, nil, strings.NewReader(""), &out)

	require.NoError(t, c.Handle(context.Background(), "unknown"))
	require.Contains(t, out.String(), "Drowsiness Detected!")
	require.Contains(t, out.String(), "DROWSY")
	require.Contains(t, out.String(), `unknown command "unknown"`)
}

func TestStatus(t *testing.T) {
	active := true
	tests := []struct {
		name   string
		prober StatusProber
		want   string
	}{
		{name: "active", prober: fakeProber{ack: detection.SessionAck{Active: &active}}, want: "session active"},
		{name: "unknown", prober: fakeProber{}, want: "session state unknown"},
		{name: "unreachable", prober: fakeProber{err: detection.ErrUnavailable}, want: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := New(&fakeController{}, tt.prober, strings.NewReader(""), &out)
			require.NoError(t, c.Handle(context.Background(), "status"))
			require.Contains(t, out.String(), tt.want)
		})
	}
}

func TestRun(t *testing.T) {
	t.Run("quit", func(t *testing.T) {
		ctrl := &fakeController{}
		c := New(ctrl, nil, strings.NewReader("start\nhelp\nquit\nstop\n"), io.Discard)

		err := c.Run(context.Background())
		require.True(t, errors.Is(err, ErrQuit))
		require.Equal(t, 1, ctrl.starts)
		require.Zero(t, ctrl.stops)
	})

	t.Run("eof", func(t *testing.T) {
		ctrl := &fakeController{}
		c := New(ctrl, nil, strings.NewReader("start\n"), io.Discard)

		require.NoError(t, c.Run(context.Background()))
		require.Equal(t, 1, ctrl.starts)
	})

	t.Run("context", func(t *testing.T) {
		r, w := io.Pipe()
		defer w.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- New(&fakeController{}, nil, r, io.Discard).Run(ctx) }()

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("console did not stop")
		}
	})
}

func TestButtonLabel(t *testing.T) {
	require.Equal(t, "Start Driving", ButtonLabel(session.State{}))
	require.Equal(t, "Stop Driving", ButtonLabel(session.State{Driving: true}))
}

func TestDrowsinessRedrawsBanner(t *testing.T) {
	ctrl := &fakeController{state: session.State{Driving: true, AlertActive: true, SessionID: "s-1"}}
	var out bytes.Buffer
	c := New(ctrl, nil, strings.NewReader(""), &out)

	frame := func() string {
		c.mu.Lock()
		defer c.mu.Unlock()
		return out.String()
	}

	c.Notify(context.Background(), notify.New(notify.KindSessionStarted, "s-1", time.Now()))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, frame())

	c.Notify(context.Background(), notify.New(notify.KindDrowsiness, "s-1", time.Now()))
	require.Eventually(t, func() bool {
		return strings.Contains(frame(), "Drowsiness Detected!")
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, frame(), "[ Stop Driving ]")
}
