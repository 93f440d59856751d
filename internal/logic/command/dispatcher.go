package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/hw/indicator"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
	"github.com/cjeanneret/MiMo/internal/telemetry"
)

// ReadyLine is written once at startup so a host can synchronise.
const ReadyLine = "MiMo ready"

// Thermometer is a combined temperature/humidity sensor.
type Thermometer interface {
	Temperature() (float64, error)
	Humidity() (float64, error)
}

// Source is the command channel: a blocking read for the idle loop and a
// non-blocking poll for the stepping loop.
type Source interface {
	Next(ctx context.Context) (string, error)
	Poll() (string, bool)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Controller *motion.Controller
	LED        indicator.Indicator
	CCD        indicator.Indicator
	Sensor     Thermometer
	Input      Source
	Output     io.Writer
	Recorder   telemetry.Recorder
}

// Dispatcher is the single command processor. It owns the motion controller
// and must be driven from one goroutine.
type Dispatcher struct {
	ctrl   *motion.Controller
	led    indicator.Indicator
	ccd    indicator.Indicator
	sensor Thermometer
	in     Source
	out    io.Writer
	rec    telemetry.Recorder
}

// NewDispatcher wires a dispatcher. A nil Recorder disables telemetry.
func NewDispatcher(d Deps) *Dispatcher {
	rec := d.Recorder
	if rec == nil {
		rec = telemetry.Nop{}
	}
	return &Dispatcher{
		ctrl:   d.Controller,
		led:    d.LED,
		ccd:    d.CCD,
		sensor: d.Sensor,
		in:     d.Input,
		out:    d.Output,
		rec:    rec,
	}
}

// Ready announces that the processor accepts commands.
func (d *Dispatcher) Ready() {
	d.respond(ReadyLine)
}

// Run processes lines from the input in arrival order until ctx is done or
// the input fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		line, err := d.in.Next(ctx)
		if err != nil {
			return err
		}
		debug.Command(line, false)
		d.Dispatch(ctx, line)
	}
}

// Dispatch executes one line. Unrecognised lines produce no response.
// During a slew it is called from the stepping loop for every non-abort line.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) {
	cmd := Parse(line)
	switch cmd.Kind {
	case GetPos:
		d.respond(d.ctrl.Current().String())
	case Slew:
		d.slew(ctx, cmd)
	case SetSpeed:
		if cmd.Err != nil || !ValidSpeed(cmd.Speed) {
			d.respond("Invalid speed!")
			return
		}
		d.ctrl.SetSpeed(cmd.Speed)
		d.respond(fmt.Sprintf("Speed set to %d", cmd.Speed))
	case LEDOn, LEDOff:
		on := cmd.Kind == LEDOn
		d.setIndicator(d.led, "LED", on)
	case CCDOn, CCDOff:
		on := cmd.Kind == CCDOn
		d.setIndicator(d.ccd, "CCD", on)
	case GetTemp:
		if v, ok := d.read("temperature", d.sensor.Temperature); ok {
			d.respond(fmt.Sprintf("Temperature: %.2f C", v))
		} else {
			d.respond("Failed to read temperature!")
		}
	case GetHumi:
		if v, ok := d.read("humidity", d.sensor.Humidity); ok {
			d.respond(fmt.Sprintf("Humidity: %.2f %%", v))
		} else {
			d.respond("Failed to read humidity!")
		}
	case Hello:
		d.respond("HELLO!")
	case Abort:
		// Only meaningful inside the stepping loop, which intercepts it.
		debug.Verbose("ABORT with no slew in progress")
	default:
		debug.Trace("Ignoring %q", line)
	}
}

func (d *Dispatcher) slew(ctx context.Context, cmd Command) {
	if cmd.Err != nil {
		debug.Verbose("Rejecting slew: %v", cmd.Err)
		d.respond("Invalid slew command!")
		return
	}
	if d.ctrl.Active() {
		d.respond("Slew in progress!")
		return
	}
	if _, err := d.ctrl.Plan(cmd.Target); err != nil {
		debug.Verbose("Rejecting slew: %v", err)
		d.respond("Invalid slew command!")
		return
	}
	d.respond("Slewing to " + cmd.Target.String())
	res, err := d.ctrl.ExecuteSlew(ctx, cmd.Target, d.in, d.Dispatch)
	switch {
	case errors.Is(err, motion.ErrSlewActive):
		d.respond("Slew in progress!")
		return
	case err != nil:
		debug.Error(fmt.Errorf("slew: %w", err))
		d.respond("Invalid slew command!")
		return
	}
	if res.Aborted {
		d.respond("Slew aborted!")
	} else {
		d.respond("Slew complete!")
	}
	d.respond(res.Final.String())
	d.rec.RecordSlew(res)
}

// setIndicator confirms the new state even if the pin write failed; like a
// missed step, a failed write is only logged.
func (d *Dispatcher) setIndicator(ind indicator.Indicator, name string, on bool) {
	if err := ind.Set(on); err != nil {
		debug.Error(fmt.Errorf("%s: %w", name, err))
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	d.respond(name + " " + state)
}

func (d *Dispatcher) read(field string, fn func() (float64, error)) (float64, bool) {
	v, err := fn()
	if err != nil || math.IsNaN(v) {
		debug.Live("Reading %s failed: %v", field, err)
		return 0, false
	}
	d.rec.RecordClimate(field, v)
	return v, true
}

func (d *Dispatcher) respond(line string) {
	debug.Trace("-> %s", line)
	if _, err := io.WriteString(d.out, line+"\n"); err != nil {
		debug.Error(fmt.Errorf("write response: %w", err))
	}
}
