package link

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/MiMo/internal/debug"
)

// StdioDevice selects the process's stdin/stdout instead of a serial port.
const StdioDevice = "-"

// SerialConfig describes the command port.
type SerialConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Port is the bidirectional command channel: lines are read from it and
// responses are written back to it.
type Port struct {
	name   string
	r      io.Reader
	w      io.Writer
	c      io.Closer
	closed atomic.Bool
}

// Open opens the configured device, or stdio when Device is "-".
func Open(cfg SerialConfig) (*Port, error) {
	if cfg.Device == StdioDevice {
		debug.Verbose("Link: using stdio")
		return &Port{name: "stdio", r: os.Stdin, w: os.Stdout, c: nopCloser{}}, nil
	}
	return OpenSerial(cfg)
}

// OpenSerial opens a serial device with tarm/serial.
func OpenSerial(cfg SerialConfig) (*Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device not set")
	}
	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	debug.Info("Serial port %s opened at %d baud", cfg.Device, cfg.Baud)
	return &Port{name: cfg.Device, r: sp, w: sp, c: sp}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewPort wraps an arbitrary stream, e.g. a socket or a pipe in tests.
func NewPort(name string, rw io.ReadWriteCloser) *Port {
	return &Port{name: name, r: rw, w: rw, c: rw}
}

// Name returns the device name.
func (p *Port) Name() string { return p.name }

// Read reads from the device. A read timeout on an idle serial line shows up
// as an empty EOF read; it is retried until the port is closed.
func (p *Port) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n == 0 && err == io.EOF && p.timeouts() && !p.closed.Load() {
			continue
		}
		return n, err
	}
}

func (p *Port) timeouts() bool {
	_, ok := p.r.(*serial.Port)
	return ok
}

func (p *Port) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

// Close releases the device and unblocks a pending Read.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.c.Close()
}
