package gpio

import (
	"fmt"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPioDriver drives the BCM2835-family GPIO block through /dev/gpiomem
// (Raspberry Pi 1-4). Pins are BCM numbers.
type RPioDriver struct {
	pins pinSet[rpio.Pin]
}

// NewRPioDriver maps the GPIO registers. It fails off a Pi or without
// access to /dev/gpiomem.
func NewRPioDriver() (*RPioDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("map GPIO registers: %w (not a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPioDriver{pins: pinSet[rpio.Pin]{}}, nil
}

func (r *RPioDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if err := checkMode(mode); err != nil {
		return err
	}

	p := rpio.Pin(pin)
	if mode == Output {
		p.Output()
	} else {
		p.Input()
		pull := rpio.PullOff
		if mode == InputPullUp {
			pull = rpio.PullUp
		}
		p.Pull(pull)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPioDriver) WritePin(pin int, level Level) error {
	p, err := r.pins.get(pin, Output, r.SetupPin)
	if err != nil {
		return err
	}
	debug.GPIO("WritePin", pin, level)
	p.Write(rpioState(level))
	return nil
}

// ReadPin sits on the DHT bit-timing path and is not traced.
func (r *RPioDriver) ReadPin(pin int) (Level, error) {
	p, err := r.pins.get(pin, Input, r.SetupPin)
	if err != nil {
		return Low, err
	}
	return p.Read() == rpio.High, nil
}

// Close floats every used pin as an input and unmaps the registers.
func (r *RPioDriver) Close() error {
	debug.Trace("GPIO Close (go-rpio)")
	r.pins.release(func(pin int, p rpio.Pin) error {
		debug.Verbose("Pin %d back to input", pin)
		p.Input()
		p.PullOff()
		return nil
	})
	return rpio.Close()
}

func rpioState(l Level) rpio.State {
	if l == High {
		return rpio.High
	}
	return rpio.Low
}
