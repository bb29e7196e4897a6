package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/detection"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/notify"
	"github.com/autopeer-io/drivewatch/internal/drivewatch/session"
	"github.com/autopeer-io/drivewatch/pkg/log"
)

// ErrQuit is returned by Run when the user asks the agent to exit.
var ErrQuit = errors.New("console: quit requested")

const (
	labelStart = "Start Driving"
	labelStop  = "Stop Driving"

	redrawTimeout = 2 * time.Second
)

var _ notify.Notifier = (*Console)(nil)

// Controller is the subset of the session controller the console drives.
type Controller interface {
	StartDriving(ctx context.Context) error
	StopDriving(ctx context.Context) error
	Snapshot(ctx context.Context) (session.State, error)
}

// StatusProber reports the detection service's own view of the session.
type StatusProber interface {
	SessionStatus(ctx context.Context) (detection.SessionAck, error)
}

// Console is the terminal front end: one line in, one frame out.
type Console struct {
	ctrl   Controller
	prober StatusProber
	in     io.Reader
	out    io.Writer
	mu     sync.Mutex

	title  *color.Color
	banner *color.Color
	button *color.Color
	muted  *color.Color
}

// New builds a console reading commands from in and rendering to out.
// prober may be nil.
func New(ctrl Controller, prober StatusProber, in io.Reader, out io.Writer) *Console {
	return &Console{
		ctrl:   ctrl,
		prober: prober,
		in:     in,
		out:    out,
		title:  color.New(color.FgHiWhite, color.Bold),
		banner: color.New(color.FgRed, color.BgYellow, color.Bold),
		button: color.New(color.FgGreen, color.Bold),
		muted:  color.New(color.Faint),
	}
}

// Run renders the first frame and then handles commands until ctx is done,
// the input ends, or the user quits. EOF returns nil and leaves the agent running.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// The scanner blocks on the reader and cannot be interrupted, so it is left
	// behind when ctx ends first.
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.render(ctx, "")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read console input: %w", err)
			}
			log.Info("Console input closed, continuing headless")
			return nil
		case line := <-lines:
			if err := c.Handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// Handle executes one command line and re-renders. It returns ErrQuit for
// quit/exit and nil otherwise; action failures are shown to the user.
func (c *Console) Handle(ctx context.Context, line string) error {
	cmd := strings.ToLower(strings.TrimSpace(line))

	var (
		note string
		err  error
	)
	switch cmd {
	case "", "toggle":
		err = c.toggle(ctx)
	case "start":
		err = c.ctrl.StartDriving(ctx)
	case "stop":
		err = c.ctrl.StopDriving(ctx)
	case "status":
		note = c.serverStatus(ctx)
	case "help", "?":
		c.help()
		return nil
	case "quit", "exit":
		return ErrQuit
	default:
		note = fmt.Sprintf("unknown command %q, type help", cmd)
	}

	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return err
		}
		note = err.Error()
	}
	c.render(ctx, note)
	return nil
}

// Notify redraws the frame when drowsiness is detected, so the banner shows
// up between commands. It is called on the session loop and must not wait
// on it, hence the goroutine.
func (c *Console) Notify(ctx context.Context, n notify.Notification) {
	if n.Kind != notify.KindDrowsiness {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redrawTimeout)
		defer cancel()
		c.render(ctx, "")
	}()
}

func (c *Console) toggle(ctx context.Context) error {
	st, err := c.ctrl.Snapshot(ctx)
	if err != nil {
		return err
	}
	if st.Driving {
		return c.ctrl.StopDriving(ctx)
	}
	return c.ctrl.StartDriving(ctx)
}

func (c *Console) serverStatus(ctx context.Context) string {
	if c.prober == nil {
		return ""
	}
	ack, err := c.prober.SessionStatus(ctx)
	if err != nil {
		return fmt.Sprintf("detection service: %v", err)
	}
	if ack.Active == nil {
		return "detection service: session state unknown"
	}
	if *ack.Active {
		return "detection service: session active"
	}
	return "detection service: no active session"
}

func (c *Console) render(ctx context.Context, note string) {
	st, err := c.ctrl.Snapshot(ctx)
	if err != nil {
		log.Debug("Skipping console render", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	c.title.Fprintln(c.out, "Drowsiness Detection")
	fmt.Fprintln(c.out, Table(st))

	if st.AlertActive {
		c.banner.Fprintln(c.out, " Drowsiness Detected! ")
	}
	if note != "" {
		c.muted.Fprintln(c.out, note)
	}
	c.button.Fprintf(c.out, "[ %s ]", ButtonLabel(st))
	fmt.Fprintln(c.out, "  (enter to press, help for commands)")
}

func (c *Console) help() {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("<enter>, toggle", "start or stop driving")
	table.AddRow("start", "start a driving session")
	table.AddRow("stop", "stop the driving session")
	table.AddRow("status", "show the detection service's session state")
	table.AddRow("help", "show this list")
	table.AddRow("quit, exit", "stop the agent")
	fmt.Fprintln(c.out, table)
}

// ButtonLabel is the text of the single start/stop button.
func ButtonLabel(st session.State) string {
	if st.Driving {
		return labelStop
	}
	return labelStart
}

// Table renders the session rows of a frame.
func Table(st session.State) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 50
	table.Separator = "  "

	driving := "no"
	if st.Driving {
		driving = "yes"
	}
	alert := "none"
	if st.AlertActive {
		alert = "DROWSY"
	}

	table.AddRow("Driving:", driving)
	table.AddRow("Alert:", alert)
	if st.Driving {
		table.AddRow("Session:", st.SessionID)
		table.AddRow("Started:", st.StartedAt.Format("15:04:05"))
		table.AddRow("Checks:", fmt.Sprintf("%d (%d failed)", st.Polls, st.PollFailures))
		table.AddRow("Alerts:", st.Alerts)
	}
	return table
}
