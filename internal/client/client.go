// Package client talks to a MiMo mount over its line protocol from the host
// side.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/link"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

var (
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("client: connection closed")
	// ErrRejected is returned when the mount answers with a failure line.
	ErrRejected = errors.New("client: command rejected")
	// ErrSensor is returned when the mount cannot read its sensor.
	ErrSensor = errors.New("client: sensor read failed")
)

// ReadyRetryInterval is how often WaitForReady repeats its query.
const ReadyRetryInterval = time.Second

// Client is a connection to one mount. Calls are serialised.
type Client struct {
	mu    sync.Mutex
	rw    io.ReadWriteCloser
	lines chan string
	err   error
	done  chan struct{}
}

// Dial opens a serial device, e.g. /dev/ttyUSB0.
func Dial(device string, baud int) (*Client, error) {
	port, err := link.OpenSerial(link.SerialConfig{
		Device:      device,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return New(port), nil
}

// New wraps an open connection and starts reading responses from it.
func New(rw io.ReadWriteCloser) *Client {
	c := &Client{
		rw:    rw,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	sc := bufio.NewScanner(c.rw)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		debug.Trace("Client <- %q", line)
		c.lines <- line
	}
	c.err = sc.Err()
	close(c.lines)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rw.Close()
}

func (c *Client) send(line string) error {
	debug.Trace("Client -> %q", line)
	_, err := io.WriteString(c.rw, line+"\n")
	return err
}

// await reads lines until match reports done. Lines match does not
// recognise are skipped; they are progress output of earlier commands.
func (c *Client) await(ctx context.Context, match func(string) (bool, error)) error {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				if c.err != nil {
					return fmt.Errorf("%w: %v", ErrClosed, c.err)
				}
				return ErrClosed
			}
			if done, err := match(line); done || err != nil {
				return err
			}
			debug.Verbose("Client: skipping %q", line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, line string, match func(string) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(line); err != nil {
		return err
	}
	return c.await(ctx, match)
}

func expect(want string) func(string) (bool, error) {
	return func(line string) (bool, error) { return line == want, nil }
}

// WaitForReady queries the mount until it answers. A fresh mount announces
// itself on its own; an already running one answers the query.
func (c *Client) WaitForReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ready := func(line string) (bool, error) { return line == "HELLO!" || line == "MiMo ready", nil }
	for {
		if err := c.send("HI_MIMO"); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, ReadyRetryInterval)
		err := c.await(attemptCtx, ready)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
}

// ParsePosition parses an "ALT: <f> AZ: <f>" line.
func ParsePosition(line string) (motion.AngularPosition, bool) {
	var p motion.AngularPosition
	if !strings.HasPrefix(line, "ALT: ") {
		return p, false
	}
	if _, err := fmt.Sscanf(line, "ALT: %f AZ: %f", &p.Alt, &p.Az); err != nil {
		return p, false
	}
	return p, true
}

// GetPosition asks for the current position.
func (c *Client) GetPosition(ctx context.Context) (motion.AngularPosition, error) {
	var pos motion.AngularPosition
	err := c.roundTrip(ctx, "GET_POS", func(line string) (bool, error) {
		p, ok := ParsePosition(line)
		if ok {
			pos = p
		}
		return ok, nil
	})
	return pos, err
}

// SetPosition starts a slew and returns once the mount acknowledged it.
// Completion is observed by polling GetPosition.
func (c *Client) SetPosition(ctx context.Context, alt, az float64) error {
	line := "ALT:" + strconv.FormatFloat(alt, 'f', -1, 64) + " AZ:" + strconv.FormatFloat(az, 'f', -1, 64)
	return c.roundTrip(ctx, line, func(line string) (bool, error) {
		switch {
		case strings.HasPrefix(line, "Slewing to "):
			return true, nil
		case line == "Invalid slew command!", line == "Slew in progress!":
			return true, fmt.Errorf("%w: %s", ErrRejected, line)
		}
		return false, nil
	})
}

// AbortSlew asks the mount to stop. The mount only answers when a slew was
// running, so no answer is awaited.
func (c *Client) AbortSlew() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(motion.AbortCommand)
}

// SetSpeed sets the shared axis speed in rpm.
func (c *Client) SetSpeed(ctx context.Context, rpm int) error {
	want := fmt.Sprintf("Speed set to %d", rpm)
	return c.roundTrip(ctx, fmt.Sprintf("SET_SPEED %d", rpm), func(line string) (bool, error) {
		switch line {
		case want:
			return true, nil
		case "Invalid speed!":
			return true, fmt.Errorf("%w: %s", ErrRejected, line)
		}
		return false, nil
	})
}

func (c *Client) LEDOn(ctx context.Context) error  { return c.roundTrip(ctx, "LED_ON", expect("LED ON")) }
func (c *Client) LEDOff(ctx context.Context) error { return c.roundTrip(ctx, "LED_OFF", expect("LED OFF")) }
func (c *Client) CCDOn(ctx context.Context) error  { return c.roundTrip(ctx, "CCD_ON", expect("CCD ON")) }
func (c *Client) CCDOff(ctx context.Context) error { return c.roundTrip(ctx, "CCD_OFF", expect("CCD OFF")) }

// GetTemperature reads the sensor temperature in degrees Celsius.
func (c *Client) GetTemperature(ctx context.Context) (float64, error) {
	return c.reading(ctx, "GET_TEMP", "Temperature: ", " C", "Failed to read temperature!")
}

// GetHumidity reads the relative humidity in percent.
func (c *Client) GetHumidity(ctx context.Context) (float64, error) {
	return c.reading(ctx, "GET_HUMI", "Humidity: ", " %", "Failed to read humidity!")
}

func (c *Client) reading(ctx context.Context, cmd, prefix, suffix, failure string) (float64, error) {
	var v float64
	err := c.roundTrip(ctx, cmd, func(line string) (bool, error) {
		if line == failure {
			return true, ErrSensor
		}
		if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, suffix) {
			return false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(line, prefix), suffix), 64)
		if err != nil {
			return true, fmt.Errorf("parse %q: %w", line, err)
		}
		v = f
		return true, nil
	})
	return v, err
}
