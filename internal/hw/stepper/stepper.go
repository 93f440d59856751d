package stepper

import (
	"fmt"
	"time"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/hw/gpio"
)

// Wiring selects how the motor driver is connected.
type Wiring string

const (
	// WiringStepDir is a STEP/DIR driver such as the A4988.
	WiringStepDir Wiring = "step_dir"
	// WiringFourWire drives the four coil inputs directly (ULN2003 + 28BYJ-48).
	WiringFourWire Wiring = "four_wire"
)

// DefaultSpeedRPM is the rate used until SetSpeed is called.
const DefaultSpeedRPM = 10

// fourWireSequence is the two-phase full-step sequence for coil pins 1-4.
var fourWireSequence = [4][4]gpio.Level{
	{gpio.High, gpio.Low, gpio.High, gpio.Low},
	{gpio.Low, gpio.High, gpio.High, gpio.Low},
	{gpio.Low, gpio.High, gpio.Low, gpio.High},
	{gpio.High, gpio.Low, gpio.Low, gpio.High},
}

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Wiring        Wiring
	StepPin       int    // step_dir only
	DirPin        int    // step_dir only
	EnablePin     int    // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	CoilPins      [4]int // four_wire only, in IN1 IN3 IN2 IN4 order for a 28BYJ-48
	StepsPerRev   int
	Microstepping int // step_dir only; 0 means full steps
	SpeedRPM      int
}

// Stepper advances one motor one step at a time at a configured rate.
// It has no notion of position; callers count the steps they take.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // time one step takes at the configured rate
	dir   int           // last direction written to DirPin, 0 before the first step
	phase int           // index into fourWireSequence
	sleep func(time.Duration)
}

// NewStepper creates a new stepper motor controller and configures its pins.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	if cfg.Wiring == "" {
		cfg.Wiring = WiringStepDir
	}
	if cfg.StepsPerRev <= 0 {
		return nil, fmt.Errorf("steps per revolution must be > 0, got %d", cfg.StepsPerRev)
	}
	if cfg.Microstepping <= 0 {
		cfg.Microstepping = 1
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		sleep: time.Sleep,
	}

	switch cfg.Wiring {
	case WiringStepDir:
		if err := g.SetupPin(cfg.StepPin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.SetupPin(cfg.DirPin, gpio.Output); err != nil {
			return nil, err
		}
		// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
		if cfg.EnablePin > 0 {
			if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
				return nil, err
			}
			if err := g.WritePin(cfg.EnablePin, gpio.Low); err != nil {
				return nil, err
			}
		}
	case WiringFourWire:
		for _, pin := range cfg.CoilPins {
			if err := g.SetupPin(pin, gpio.Output); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown stepper wiring %q", cfg.Wiring)
	}

	rpm := cfg.SpeedRPM
	if rpm <= 0 {
		rpm = DefaultSpeedRPM
	}
	s.SetSpeed(rpm)
	return s, nil
}

// StepsPerRev returns the number of Step calls for one full output revolution.
func (s *Stepper) StepsPerRev() int {
	return s.cfg.StepsPerRev * s.cfg.Microstepping
}

// SetSpeed sets the rate in revolutions per minute. The caller validates rpm.
func (s *Stepper) SetSpeed(rpm int) {
	if rpm <= 0 {
		rpm = 1
	}
	s.cfg.SpeedRPM = rpm
	s.delay = time.Minute / time.Duration(s.StepsPerRev()*rpm)
	debug.Trace("Stepper: speed %d rpm, %v per step", rpm, s.delay)
}

// Speed returns the configured rate in revolutions per minute.
func (s *Stepper) Speed() int {
	return s.cfg.SpeedRPM
}

// StepDelay returns the time a single Step blocks for.
func (s *Stepper) StepDelay() time.Duration {
	return s.delay
}

// Step performs exactly one physical step; dir > 0 is forward, otherwise backward.
// It blocks for one step period.
func (s *Stepper) Step(dir int) error {
	if dir > 0 {
		dir = 1
	} else {
		dir = -1
	}
	if s.cfg.Wiring == WiringFourWire {
		return s.stepCoils(dir)
	}
	return s.stepPulse(dir)
}

func (s *Stepper) stepPulse(dir int) error {
	if dir != s.dir {
		level := gpio.High
		if dir < 0 {
			level = gpio.Low
		}
		if err := s.gpio.WritePin(s.cfg.DirPin, level); err != nil {
			return err
		}
		s.dir = dir
	}

	half := s.delay / 2
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	s.sleep(half)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	s.sleep(s.delay - half)
	return nil
}

func (s *Stepper) stepCoils(dir int) error {
	s.phase = (s.phase + dir + len(fourWireSequence)) % len(fourWireSequence)
	for i, pin := range s.cfg.CoilPins {
		if err := s.gpio.WritePin(pin, fourWireSequence[s.phase][i]); err != nil {
			return err
		}
	}
	s.sleep(s.delay)
	return nil
}

// Disable releases holding torque. For a STEP/DIR driver this raises ENABLE,
// for four-wire motors it de-energises every coil.
func (s *Stepper) Disable() error {
	switch s.cfg.Wiring {
	case WiringFourWire:
		for _, pin := range s.cfg.CoilPins {
			if err := s.gpio.WritePin(pin, gpio.Low); err != nil {
				return err
			}
		}
		return nil
	default:
		if s.cfg.EnablePin <= 0 {
			return nil
		}
		return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
	}
}
