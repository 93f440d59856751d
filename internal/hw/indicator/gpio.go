package indicator

import (
	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/hw/gpio"
)

// GPIO is an Indicator on a single output pin.
// ActiveLow inverts the pin level for lamps wired to sink current.
type GPIO struct {
	gpio      gpio.Driver
	name      string
	pin       int
	activeLow bool
	on        bool
}

// NewGPIO configures pin as an output and switches the indicator off.
func NewGPIO(g gpio.Driver, name string, pin int, activeLow bool) (*GPIO, error) {
	ind := &GPIO{
		gpio:      g,
		name:      name,
		pin:       pin,
		activeLow: activeLow,
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := ind.Set(false); err != nil {
		return nil, err
	}
	return ind, nil
}

// Set switches the indicator on or off.
func (i *GPIO) Set(on bool) error {
	level := gpio.Level(on != i.activeLow)
	debug.Verbose("Indicator %s: pin %d -> %v", i.name, i.pin, level)
	if err := i.gpio.WritePin(i.pin, level); err != nil {
		return err
	}
	i.on = on
	return nil
}

// On reports the last state successfully written.
func (i *GPIO) On() bool {
	return i.on
}
