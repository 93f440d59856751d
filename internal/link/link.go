// Package link carries newline-terminated command lines from any number of
// input sources to the single command processor, in arrival order.
package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cjeanneret/MiMo/internal/debug"
)

// DefaultBuffer is the number of pending lines held before producers block.
const DefaultBuffer = 64

// ErrFull is returned by Inject when the queue cannot take another line.
var ErrFull = errors.New("link: command queue full")

// Link is a FIFO of command lines. Producers call Enqueue, Inject or Attach;
// exactly one consumer calls Next and Poll.
type Link struct {
	lines chan string
}

// New returns a link holding up to buffer pending lines.
func New(buffer int) *Link {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Link{lines: make(chan string, buffer)}
}

// Enqueue appends a line, blocking while the queue is full.
func (l *Link) Enqueue(ctx context.Context, line string) error {
	select {
	case l.lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject appends a line without blocking.
func (l *Link) Inject(line string) error {
	select {
	case l.lines <- line:
		return nil
	default:
		return ErrFull
	}
}

// Next blocks until a line is available or ctx is done.
func (l *Link) Next(ctx context.Context) (string, error) {
	select {
	case line := <-l.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Poll returns the oldest pending line, if any, without blocking.
func (l *Link) Poll() (string, bool) {
	select {
	case line := <-l.lines:
		return line, true
	default:
		return "", false
	}
}

// Pending reports how many lines are queued.
func (l *Link) Pending() int {
	return len(l.lines)
}

// Attach reads r line by line and enqueues every non-blank line with its
// terminator and surrounding whitespace removed. It returns nil when r
// reaches EOF, ctx.Err() when cancelled, or the read error.
func (l *Link) Attach(ctx context.Context, name string, r io.Reader) error {
	debug.Verbose("Link: reading commands from %s", name)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		debug.Trace("Link: %s <- %q", name, line)
		if err := l.Enqueue(ctx, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	debug.Verbose("Link: %s closed", name)
	return nil
}
