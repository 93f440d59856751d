package gpio

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned by SetupPin for a PinMode no backend knows.
var ErrUnknownMode = errors.New("unknown pin mode")

func checkMode(mode PinMode) error {
	switch mode {
	case Input, InputPullUp, Output:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownMode, mode)
}

// pinSet holds the backend handle of every pin a driver has configured.
// Pins touched before SetupPin are configured on first use with the mode
// the access implies: Output for writes, Input for reads.
type pinSet[H any] map[int]H

// get returns the handle for pin, running setup with mode first if the pin
// is not yet known. setup is expected to store the handle on success.
func (s pinSet[H]) get(pin int, mode PinMode, setup func(int, PinMode) error) (H, error) {
	if h, ok := s[pin]; ok {
		return h, nil
	}
	if err := setup(pin, mode); err != nil {
		var zero H
		return zero, err
	}
	h, ok := s[pin]
	if !ok {
		var zero H
		return zero, fmt.Errorf("pin %d not registered after setup", pin)
	}
	return h, nil
}

// release hands every pin to fn and empties the set. All pins are released
// even when one fails; the first error is returned.
func (s pinSet[H]) release(fn func(pin int, h H) error) error {
	var firstErr error
	for pin, h := range s {
		if err := fn(pin, h); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release pin %d: %w", pin, err)
		}
		delete(s, pin)
	}
	return firstErr
}
