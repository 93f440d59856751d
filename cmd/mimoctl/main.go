package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/MiMo/internal/client"
	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

// arrivalTolerance is how close, in degrees, a polled position must be to
// the target for the slew to count as finished.
const arrivalTolerance = 0.1

// requestTimeout bounds every single request to the mount.
const requestTimeout = 5 * time.Second

// mount is the part of client.Client the menu drives.
type mount interface {
	GetPosition(ctx context.Context) (motion.AngularPosition, error)
	SetPosition(ctx context.Context, alt, az float64) error
	AbortSlew() error
	LEDOn(ctx context.Context) error
	LEDOff(ctx context.Context) error
	CCDOn(ctx context.Context) error
	CCDOff(ctx context.Context) error
	GetTemperature(ctx context.Context) (float64, error)
	GetHumidity(ctx context.Context) (float64, error)
}

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device of the mount")
	baud := flag.Int("baud", 9600, "baud rate")
	debugLevel := flag.Int("debug", 0, "debug level 0-4")
	flag.Parse()

	debug.Init(*debugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(*device, *baud)
	if err != nil {
		log.Fatalf("open mount failed: %v", err)
	}
	defer c.Close()

	fmt.Println("Waiting for mount to initialize...")
	if err := c.WaitForReady(ctx); err != nil {
		log.Fatalf("mount not ready: %v", err)
	}

	if err := run(ctx, c, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mimoctl: %v", err)
	}
}

// menu is the interactive session: a line reader for the operator and the
// output the prompts go to.
type menu struct {
	m   mount
	in  *bufio.Scanner
	out io.Writer
}

// run shows the menu until the operator exits or input ends.
func run(ctx context.Context, m mount, in io.Reader, out io.Writer) error {
	s := &menu{m: m, in: bufio.NewScanner(in), out: out}
	for {
		s.printMenu()
		choice, ok := s.prompt("Enter your choice (1-10): ")
		if !ok {
			return nil
		}
		if choice == "10" {
			fmt.Fprintln(out, "Exiting...")
			return nil
		}
		if err := s.handle(ctx, choice); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func (s *menu) printMenu() {
	fmt.Fprint(s.out, `
--- MiMo Control Menu ---
1. Get Current Position
2. Set New Position
3. Turn LED On
4. Turn LED Off
5. Turn CCD LED On
6. Turn CCD LED Off
7. Get Temperature
8. Get Humidity
9. Abort Slew
10. Exit
`)
}

func (s *menu) prompt(text string) (string, bool) {
	fmt.Fprint(s.out, text)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *menu) handle(ctx context.Context, choice string) error {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch choice {
	case "1":
		pos, err := s.m.GetPosition(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Current Position - %s\n", pos)
	case "2":
		return s.slew(ctx)
	case "3":
		return s.toggle(rctx, s.m.LEDOn, "LED turned on.")
	case "4":
		return s.toggle(rctx, s.m.LEDOff, "LED turned off.")
	case "5":
		return s.toggle(rctx, s.m.CCDOn, "CCD LED turned on.")
	case "6":
		return s.toggle(rctx, s.m.CCDOff, "CCD LED turned off.")
	case "7":
		v, err := s.m.GetTemperature(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Temperature: %.2f °C\n", v)
	case "8":
		v, err := s.m.GetHumidity(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Humidity: %.2f %%\n", v)
	case "9":
		if err := s.m.AbortSlew(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Slew aborted!")
	default:
		fmt.Fprintln(s.out, "Invalid choice! Please enter a number between 1 and 10.")
	}
	return nil
}

func (s *menu) toggle(ctx context.Context, fn func(context.Context) error, done string) error {
	if err := fn(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, done)
	return nil
}

// slew asks for a target, starts the slew and follows it until the mount
// arrives or the operator aborts.
func (s *menu) slew(ctx context.Context) error {
	alt, okAlt := s.number("Enter target altitude (degrees): ")
	az, okAz := s.number("Enter target azimuth (degrees): ")
	if !okAlt || !okAz {
		fmt.Fprintln(s.out, "Invalid input! Please enter numeric values for altitude and azimuth.")
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	err := s.m.SetPosition(rctx, alt, az)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Slewing to new position...")

	for {
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		pos, err := s.m.GetPosition(rctx)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Current Position - %s\n", pos)
		if math.Abs(pos.Alt-alt) < arrivalTolerance && math.Abs(pos.Az-az) < arrivalTolerance {
			fmt.Fprintln(s.out, "Slew completed successfully!")
			return nil
		}

		answer, ok := s.prompt("Type 'ABORT' to stop the slew or press Enter to continue: ")
		if !ok || strings.EqualFold(answer, motion.AbortCommand) {
			if err := s.m.AbortSlew(); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Slew aborted!")
			return nil
		}
	}
}

func (s *menu) number(text string) (float64, bool) {
	line, ok := s.prompt(text)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
