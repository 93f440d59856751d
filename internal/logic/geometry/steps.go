package geometry

import (
	"errors"
	"fmt"
	"math"
)

// MaxSteps bounds a single move on one axis.
const MaxSteps = math.MaxInt32

// ErrStepRange is returned for moves too large to count in steps.
var ErrStepRange = errors.New("move exceeds step range")

// StepsCalculator converts angles to motor step counts for the two axes.
type StepsCalculator struct {
	altStepsPerRev int
	azStepsPerRev  int
}

// NewStepsCalculator creates a step calculator from each axis' steps per revolution.
func NewStepsCalculator(altStepsPerRev, azStepsPerRev int) *StepsCalculator {
	return &StepsCalculator{
		altStepsPerRev: altStepsPerRev,
		azStepsPerRev:  azStepsPerRev,
	}
}

// stepsFromAngle truncates toward zero; fractions of a step are dropped.
// Multiplying before dividing keeps whole-step angles exact (90° * 2048 / 360 = 512).
func stepsFromAngle(angleDegrees float64, stepsPerRev int) (int, error) {
	steps := angleDegrees * float64(stepsPerRev) / 360.0
	if math.IsNaN(steps) || math.Abs(steps) > MaxSteps {
		return 0, fmt.Errorf("%w: %g degrees", ErrStepRange, angleDegrees)
	}
	return int(steps), nil
}

// AltStepsFromAngle converts an altitude angle (in degrees) to signed motor steps.
// Moves beyond MaxSteps fail with ErrStepRange.
func (s *StepsCalculator) AltStepsFromAngle(angleDegrees float64) (int, error) {
	return stepsFromAngle(angleDegrees, s.altStepsPerRev)
}

// AzStepsFromAngle converts an azimuth angle (in degrees) to signed motor steps.
func (s *StepsCalculator) AzStepsFromAngle(angleDegrees float64) (int, error) {
	return stepsFromAngle(angleDegrees, s.azStepsPerRev)
}

// AltDegreesPerStep is the altitude change produced by one physical step.
func (s *StepsCalculator) AltDegreesPerStep() float64 {
	return 360.0 / float64(s.altStepsPerRev)
}

// AzDegreesPerStep is the azimuth change produced by one physical step.
func (s *StepsCalculator) AzDegreesPerStep() float64 {
	return 360.0 / float64(s.azStepsPerRev)
}
