package link

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func drain(l *Link) []string {
	var got []string
	for {
		line, ok := l.Poll()
		if !ok {
			return got
		}
		got = append(got, line)
	}
}

func TestPoll_Empty(t *testing.T) {
	l := New(4)
	if line, ok := l.Poll(); ok {
		t.Errorf("Poll() on empty link = %q, true", line)
	}
}

func TestInject_FIFO(t *testing.T) {
	l := New(4)
	for _, line := range []string{"GET_POS", "LED_ON", "ABORT"} {
		if err := l.Inject(line); err != nil {
			t.Fatalf("Inject(%q): %v", line, err)
		}
	}
	if l.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", l.Pending())
	}
	if diff := cmp.Diff([]string{"GET_POS", "LED_ON", "ABORT"}, drain(l)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestInject_Full(t *testing.T) {
	l := New(1)
	if err := l.Inject("a"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if err := l.Inject("b"); !errors.Is(err, ErrFull) {
		t.Errorf("Inject on full link err = %v, want ErrFull", err)
	}
}

func TestNew_DefaultBuffer(t *testing.T) {
	l := New(0)
	if cap(l.lines) != DefaultBuffer {
		t.Errorf("buffer = %d, want %d", cap(l.lines), DefaultBuffer)
	}
}

func TestNext_Blocks(t *testing.T) {
	l := New(1)
	done := make(chan string)
	go func() {
		line, _ := l.Next(context.Background())
		done <- line
	}()

	select {
	case line := <-done:
		t.Fatalf("Next returned %q before any line was queued", line)
	case <-time.After(20 * time.Millisecond):
	}

	l.Inject("HI_MIMO")
	select {
	case line := <-done:
		if line != "HI_MIMO" {
			t.Errorf("Next() = %q, want HI_MIMO", line)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Inject")
	}
}

func TestNext_Cancelled(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next err = %v, want context.Canceled", err)
	}
}

func TestEnqueue_CancelledWhileFull(t *testing.T) {
	l := New(1)
	l.Inject("a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Enqueue(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue err = %v, want DeadlineExceeded", err)
	}
}

func TestAttach_SplitsAndTrims(t *testing.T) {
	l := New(8)
	in := "GET_POS\r\n\n  LED_ON  \nALT:10 AZ:20\r\nABORT"

	if err := l.Attach(context.Background(), "test", strings.NewReader(in)); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	want := []string{"GET_POS", "LED_ON", "ALT:10 AZ:20", "ABORT"}
	if diff := cmp.Diff(want, drain(l)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestAttach_InterleavedSources(t *testing.T) {
	l := New(8)
	ctx := context.Background()

	l.Attach(ctx, "serial", strings.NewReader("GET_POS\n"))
	l.Inject("LED_ON")
	l.Attach(ctx, "stdio", strings.NewReader("GET_TEMP\n"))

	want := []string{"GET_POS", "LED_ON", "GET_TEMP"}
	if diff := cmp.Diff(want, drain(l)); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestAttach_ReadError(t *testing.T) {
	l := New(1)
	if err := l.Attach(context.Background(), "broken", failingReader{}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Attach err = %v, want io.ErrClosedPipe", err)
	}
}

func TestPort_Pipe(t *testing.T) {
	host, dev := net.Pipe()
	p := NewPort("pipe", dev)
	l := New(4)

	errc := make(chan error, 1)
	go func() { errc <- l.Attach(context.Background(), p.Name(), p) }()

	go func() {
		io.WriteString(host, "HI_MIMO\n")
		buf := make([]byte, 16)
		n, _ := host.Read(buf)
		if string(buf[:n]) != "HELLO!\n" {
			t.Errorf("host read %q, want %q", buf[:n], "HELLO!\n")
		}
		host.Close()
	}()

	line, err := l.Next(context.Background())
	if err != nil || line != "HI_MIMO" {
		t.Fatalf("Next() = %q, %v", line, err)
	}
	if _, err := io.WriteString(p, "HELLO!\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Attach err = %v, want nil on EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Attach did not return after host closed")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenSerial_NoDevice(t *testing.T) {
	if _, err := OpenSerial(SerialConfig{}); err == nil {
		t.Error("expected error without a device name")
	}
}

func TestOpen_Stdio(t *testing.T) {
	p, err := Open(SerialConfig{Device: StdioDevice})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p.Name() != "stdio" {
		t.Errorf("Name() = %q, want stdio", p.Name())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
