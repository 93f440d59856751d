package motion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/logic/geometry"
)

// Speed limits in revolutions per minute, shared by both axes.
const (
	MinSpeed     = 1
	MaxSpeed     = 15
	DefaultSpeed = 10
)

// AbortCommand is the line that cancels an in-progress slew.
const AbortCommand = "ABORT"

// ErrSlewActive is returned when a slew is requested while another is running.
var ErrSlewActive = errors.New("slew already in progress")

// Axis is one stepper actuator as seen by the controller.
type Axis interface {
	SetSpeed(rpm int)
	Step(dir int) error
	StepsPerRev() int
}

// Poller is a non-blocking check for a pending command line.
type Poller interface {
	Poll() (string, bool)
}

// InterleaveFunc handles a non-abort line received while a slew is running.
// It runs to completion before the next step.
type InterleaveFunc func(ctx context.Context, line string)

// Request is one planned slew: the target and the signed steps per axis.
type Request struct {
	Target   AngularPosition
	AltSteps int
	AzSteps  int
}

// Result describes how a slew ended.
type Result struct {
	Request
	Start      AngularPosition
	Final      AngularPosition
	Iterations int // combined steps executed
	Aborted    bool
}

// Controller orchestrates altitude/azimuth movements via two stepper motors.
// It owns the position state, the shared speed and the abort flag; it is
// driven from a single goroutine.
type Controller struct {
	alt   Axis
	az    Axis
	steps *geometry.StepsCalculator
	pos   State

	speed   atomic.Int32
	aborted bool
	active  bool
}

// NewController builds a controller at position (0,0) and applies speed to both axes.
func NewController(alt, az Axis, speed int) *Controller {
	c := &Controller{
		alt:   alt,
		az:    az,
		steps: geometry.NewStepsCalculator(alt.StepsPerRev(), az.StepsPerRev()),
	}
	c.SetSpeed(speed)
	return c
}

// Position returns the live position state for read-only observers.
func (c *Controller) Position() *State {
	return &c.pos
}

// Current returns the latest committed position.
func (c *Controller) Current() AngularPosition {
	return c.pos.Current()
}

// Speed returns the shared rate in rpm. It is safe to call from any goroutine.
func (c *Controller) Speed() int {
	return int(c.speed.Load())
}

// SetSpeed applies rpm to both axes. Validation is the caller's job.
func (c *Controller) SetSpeed(rpm int) {
	c.speed.Store(int32(rpm))
	c.alt.SetSpeed(rpm)
	c.az.SetSpeed(rpm)
}

// Active reports whether a slew is in progress.
func (c *Controller) Active() bool {
	return c.active
}

// Plan computes the signed step counts from the current position to target.
// A target too far away to count in steps fails with geometry.ErrStepRange.
func (c *Controller) Plan(target AngularPosition) (Request, error) {
	cur := c.pos.Current()
	altSteps, err := c.steps.AltStepsFromAngle(target.Alt - cur.Alt)
	if err != nil {
		return Request{}, fmt.Errorf("altitude: %w", err)
	}
	azSteps, err := c.steps.AzStepsFromAngle(target.Az - cur.Az)
	if err != nil {
		return Request{}, fmt.Errorf("azimuth: %w", err)
	}
	return Request{Target: target, AltSteps: altSteps, AzSteps: azSteps}, nil
}

// ExecuteSlew drives both axes toward target in lockstep. Before every
// combined step it polls in for one line: ABORT stops the slew, anything else
// is handed to interleave. Position is advanced after every physical step,
// so an aborted slew reports where the mount actually is. A completed slew
// commits target exactly. Cancelling ctx stops the slew like an abort.
// An unreachable target is refused before anything moves.
func (c *Controller) ExecuteSlew(ctx context.Context, target AngularPosition, in Poller, interleave InterleaveFunc) (Result, error) {
	if c.active {
		return Result{}, ErrSlewActive
	}
	req, err := c.Plan(target)
	if err != nil {
		return Result{}, err
	}
	res := Result{Request: req, Start: c.pos.Current()}

	c.aborted = false
	c.active = true
	defer func() { c.active = false }()

	altDir, altN := direction(req.AltSteps)
	azDir, azN := direction(req.AzSteps)
	altInc := float64(altDir) * c.steps.AltDegreesPerStep()
	azInc := float64(azDir) * c.steps.AzDegreesPerStep()
	debug.Move("altitude", altN, dirName(altDir))
	debug.Move("azimuth", azN, dirName(azDir))

	n := max(altN, azN)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			debug.Verbose("Slew interrupted: %v", ctx.Err())
			c.aborted = true
		} else if in != nil {
			if line, ok := in.Poll(); ok {
				line = strings.TrimSpace(line)
				if line == AbortCommand {
					c.aborted = true
				} else if interleave != nil {
					debug.Command(line, true)
					interleave(ctx, line)
				}
			}
		}
		if c.aborted {
			break
		}

		if i < altN {
			c.step(c.alt, "altitude", altDir)
			c.pos.advance(altInc, 0)
		}
		if i < azN {
			c.step(c.az, "azimuth", azDir)
			c.pos.advance(0, azInc)
		}
		res.Iterations++
	}

	if !c.aborted {
		c.pos.commit(target)
	}
	res.Aborted = c.aborted
	res.Final = c.pos.Current()
	debug.Slew(res.Final.Alt, res.Final.Az, res.Aborted)
	return res, nil
}

// step takes one physical step. A failed step cannot be observed by the
// slew, so it is logged and counted as taken.
func (c *Controller) step(a Axis, name string, dir int) {
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("Step %s %+d", name, dir)
	}
	if err := a.Step(dir); err != nil {
		debug.Error(fmt.Errorf("%s step: %w", name, err))
	}
}

func direction(steps int) (dir, n int) {
	if steps < 0 {
		return -1, -steps
	}
	return 1, steps
}

func dirName(dir int) string {
	if dir < 0 {
		return "backward"
	}
	return "forward"
}
