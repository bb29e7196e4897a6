package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Console prints notifications as banners, the terminal stand-in for a modal alert.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	info  *color.Color
	alarm *color.Color
}

// NewConsole writes banners to out. Colors follow fatih/color's terminal detection.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:   out,
		info:  color.New(color.FgCyan, color.Bold),
		alarm: color.New(color.FgYellow, color.BgRed, color.Bold),
	}
}

func (c *Console) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	style := c.info
	if n.Kind == KindDrowsiness {
		style = c.alarm
	}

	width := max(len(n.Title), len(n.Message)) + 4
	bar := strings.Repeat("=", width)

	fmt.Fprintln(c.out)
	style.Fprintln(c.out, bar)
	style.Fprintf(c.out, "  %s\n", n.Title)
	fmt.Fprintf(c.out, "  %s\n", n.Message)
	style.Fprintln(c.out, bar)
}
