package gpio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true, "anything", "")
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("driver = %T, want *MockDriver", d)
	}
}

func TestNewDriver_UnknownBackend(t *testing.T) {
	if _, err := NewDriver(false, "sysfs", ""); err == nil {
		t.Error("expected error for unknown backend, got nil")
	}
}

func TestMockDriver_ReadsBackLastWrite(t *testing.T) {
	m := &MockDriver{}
	if v, _ := m.ReadPin(4); v != Low {
		t.Errorf("unwritten pin = %v, want LOW", v)
	}
	if err := m.SetupPin(4, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	m.WritePin(4, High)
	if v, _ := m.ReadPin(4); v != High {
		t.Errorf("pin 4 = %v, want HIGH", v)
	}
	m.WritePin(4, Low)
	if v, _ := m.ReadPin(4); v != Low {
		t.Errorf("pin 4 = %v, want LOW", v)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLevel_String(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("got %q/%q, want HIGH/LOW", High.String(), Low.String())
	}
}

func TestMockDriver_RejectsUnknownMode(t *testing.T) {
	m := &MockDriver{}
	if err := m.SetupPin(4, PinMode(9)); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("SetupPin(mode 9) err = %v, want ErrUnknownMode", err)
	}
	for _, mode := range []PinMode{Input, InputPullUp, Output} {
		if err := m.SetupPin(4, mode); err != nil {
			t.Errorf("SetupPin(mode %d): %v", mode, err)
		}
	}
}

// fakeBackend stands in for a driver's SetupPin, recording every call.
type fakeBackend struct {
	pins  pinSet[string]
	calls []string
	err   error
}

func (f *fakeBackend) setup(pin int, mode PinMode) error {
	f.calls = append(f.calls, fmt.Sprintf("%d:%d", pin, mode))
	if f.err != nil {
		return f.err
	}
	f.pins[pin] = fmt.Sprintf("line%d", pin)
	return nil
}

func TestPinSet_SetsUpOnFirstUse(t *testing.T) {
	f := &fakeBackend{pins: pinSet[string]{}}

	for i := 0; i < 3; i++ {
		h, err := f.pins.get(17, Output, f.setup)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if h != "line17" {
			t.Errorf("handle = %q, want line17", h)
		}
	}
	if _, err := f.pins.get(4, Input, f.setup); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{fmt.Sprintf("17:%d", Output), fmt.Sprintf("4:%d", Input)}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("setup calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPinSet_SetupFailureNotRemembered(t *testing.T) {
	boom := errors.New("line busy")
	f := &fakeBackend{pins: pinSet[string]{}, err: boom}

	if _, err := f.pins.get(17, Output, f.setup); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(f.pins) != 0 {
		t.Errorf("pins = %v, want empty", f.pins)
	}

	f.err = nil
	if _, err := f.pins.get(17, Output, f.setup); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.calls) != 2 {
		t.Errorf("setup called %d times, want 2", len(f.calls))
	}
}

func TestPinSet_SetupThatStoresNothing(t *testing.T) {
	s := pinSet[int]{}
	if _, err := s.get(5, Input, func(int, PinMode) error { return nil }); err == nil {
		t.Error("expected error when setup registers no handle")
	}
}

func TestPinSet_ReleaseVisitsEveryPin(t *testing.T) {
	s := pinSet[string]{4: "a", 17: "b", 22: "c"}
	boom := errors.New("close failed")

	released := map[int]bool{}
	err := s.release(func(pin int, _ string) error {
		released[pin] = true
		if pin == 17 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if diff := cmp.Diff(map[int]bool{4: true, 17: true, 22: true}, released); diff != "" {
		t.Errorf("released mismatch (-want +got):\n%s", diff)
	}
	if len(s) != 0 {
		t.Errorf("set not emptied: %v", s)
	}
}
