// Package command parses the line protocol and dispatches each command to
// the motion controller or the simple peripheral handlers.
package command

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

// Kind identifies a parsed command.
type Kind int

const (
	Unknown Kind = iota
	GetPos
	Slew
	SetSpeed
	LEDOn
	LEDOff
	CCDOn
	CCDOff
	GetTemp
	GetHumi
	Abort
	Hello
)

var kindNames = map[Kind]string{
	Unknown:  "unknown",
	GetPos:   "GET_POS",
	Slew:     "slew",
	SetSpeed: "SET_SPEED",
	LEDOn:    "LED_ON",
	LEDOff:   "LED_OFF",
	CCDOn:    "CCD_ON",
	CCDOff:   "CCD_OFF",
	GetTemp:  "GET_TEMP",
	GetHumi:  "GET_HUMI",
	Abort:    "ABORT",
	Hello:    "HI_MIMO",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Literal commands; matching is case-sensitive.
var literals = map[string]Kind{
	"GET_POS":           GetPos,
	"LED_ON":            LEDOn,
	"LED_OFF":           LEDOff,
	"CCD_ON":            CCDOn,
	"CCD_OFF":           CCDOff,
	"GET_TEMP":          GetTemp,
	"GET_HUMI":          GetHumi,
	motion.AbortCommand: Abort,
	"HI_MIMO":           Hello,
}

const (
	slewPrefix  = "ALT:"
	speedPrefix = "SET_SPEED"
)

var (
	// ErrMalformedSlew is returned for an ALT: line without two finite angles.
	ErrMalformedSlew = errors.New("malformed slew command")
	// ErrInvalidSpeed is returned when SET_SPEED has no integer argument.
	ErrInvalidSpeed = errors.New("invalid speed")
)

var slewPattern = regexp.MustCompile(`^ALT:\s*(\S+)\s+AZ:\s*(\S+)$`)

// Command is one parsed line. Err is set when the line was recognised but
// its arguments were not usable.
type Command struct {
	Kind   Kind
	Target motion.AngularPosition
	Speed  int
	Err    error
}

// Parse classifies a single trimmed line.
func Parse(line string) Command {
	line = strings.TrimSpace(line)
	if k, ok := literals[line]; ok {
		return Command{Kind: k}
	}
	switch {
	case strings.HasPrefix(line, slewPrefix):
		target, err := ParseSlew(line)
		return Command{Kind: Slew, Target: target, Err: err}
	case line == speedPrefix || strings.HasPrefix(line, speedPrefix+" "):
		rpm, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, speedPrefix)))
		if err != nil {
			return Command{Kind: SetSpeed, Err: ErrInvalidSpeed}
		}
		return Command{Kind: SetSpeed, Speed: rpm}
	}
	return Command{Kind: Unknown}
}

// ParseSlew extracts the target of an "ALT:<f> AZ:<f>" line.
func ParseSlew(line string) (motion.AngularPosition, error) {
	m := slewPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return motion.AngularPosition{}, ErrMalformedSlew
	}
	alt, err := parseAngle(m[1])
	if err != nil {
		return motion.AngularPosition{}, err
	}
	az, err := parseAngle(m[2])
	if err != nil {
		return motion.AngularPosition{}, err
	}
	return motion.AngularPosition{Alt: alt, Az: az}, nil
}

func parseAngle(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrMalformedSlew
	}
	return v, nil
}

// ValidSpeed reports whether rpm is inside the accepted range.
func ValidSpeed(rpm int) bool {
	return rpm >= motion.MinSpeed && rpm <= motion.MaxSpeed
}
