package gpio

import (
	"fmt"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

const defaultChip = "gpiochip0"

// CdevDriver drives GPIOs through the Linux GPIO character device.
// Pin numbers are line offsets on the configured chip (BCM numbering on a Pi).
type CdevDriver struct {
	chip  string
	lines pinSet[*gpiocdev.Line]
}

// NewCdevDriver opens chip (default "gpiochip0") to check it is usable.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = defaultChip
	}
	debug.Info("Initializing real GPIO driver (gpiocdev on %s)", chip)

	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chip, err)
	}
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("close GPIO chip %s: %w", chip, err)
	}

	return &CdevDriver{
		chip:  chip,
		lines: pinSet[*gpiocdev.Line]{},
	}, nil
}

func configOptions(mode PinMode) ([]gpiocdev.LineConfigOption, error) {
	switch mode {
	case Input:
		return []gpiocdev.LineConfigOption{gpiocdev.AsInput, gpiocdev.WithBiasDisabled}, nil
	case InputPullUp:
		return []gpiocdev.LineConfigOption{gpiocdev.AsInput, gpiocdev.WithPullUp}, nil
	case Output:
		return []gpiocdev.LineConfigOption{gpiocdev.AsOutput(0)}, nil
	default:
		return nil, checkMode(mode)
	}
}

func requestOptions(mode PinMode) ([]gpiocdev.LineReqOption, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer("mimo")}
	switch mode {
	case Input:
		return append(opts, gpiocdev.AsInput, gpiocdev.WithBiasDisabled), nil
	case InputPullUp:
		return append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp), nil
	case Output:
		return append(opts, gpiocdev.AsOutput(0)), nil
	default:
		return nil, checkMode(mode)
	}
}

func (d *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	if l, ok := d.lines[pin]; ok {
		opts, err := configOptions(mode)
		if err != nil {
			return err
		}
		return l.Reconfigure(opts...)
	}

	opts, err := requestOptions(mode)
	if err != nil {
		return err
	}
	l, err := gpiocdev.RequestLine(d.chip, pin, opts...)
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	d.lines[pin] = l
	return nil
}

func (d *CdevDriver) WritePin(pin int, level Level) error {
	l, err := d.lines.get(pin, Output, d.SetupPin)
	if err != nil {
		return err
	}
	debug.GPIO("WritePin", pin, level)

	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (d *CdevDriver) ReadPin(pin int) (Level, error) {
	l, err := d.lines.get(pin, Input, d.SetupPin)
	if err != nil {
		return Low, err
	}

	v, err := l.Value()
	if err != nil {
		return Low, err
	}
	return Level(v != 0), nil
}

// Close releases every requested line; the kernel returns them to inputs.
func (d *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")
	return d.lines.release(func(_ int, l *gpiocdev.Line) error {
		return l.Close()
	})
}
