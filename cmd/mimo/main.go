package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/MiMo/internal/config"
	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/hw/dht"
	"github.com/cjeanneret/MiMo/internal/hw/gpio"
	"github.com/cjeanneret/MiMo/internal/hw/indicator"
	"github.com/cjeanneret/MiMo/internal/hw/stepper"
	"github.com/cjeanneret/MiMo/internal/link"
	"github.com/cjeanneret/MiMo/internal/logic/command"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
	"github.com/cjeanneret/MiMo/internal/telemetry"
	"github.com/cjeanneret/MiMo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web console on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	speed := flag.Int("speed", 0, "override initial speed in rpm (1-15)")
	device := flag.String("device", "", `override serial device ("-" for stdin/stdout)`)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := validateCLIOverrides(*speed); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *speed, *device)

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
	}

	// Initialize debug system
	debug.SetOutput(logOutput(cfg.Serial.Device, os.Stdout, os.Stderr, broadcaster))
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO, cfg.Defaults.GPIOBackend, cfg.Defaults.GPIOChip)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing stepper motors")
	altMotor, err := stepper.NewStepper(gpioDriver, stepperConfig(cfg.AltitudeStepper, cfg.Defaults.SpeedRPM))
	if err != nil {
		log.Fatalf("init altitude stepper failed: %v", err)
	}
	debug.PrintStruct("Altitude stepper config", cfg.AltitudeStepper)
	azMotor, err := stepper.NewStepper(gpioDriver, stepperConfig(cfg.AzimuthStepper, cfg.Defaults.SpeedRPM))
	if err != nil {
		log.Fatalf("init azimuth stepper failed: %v", err)
	}
	debug.PrintStruct("Azimuth stepper config", cfg.AzimuthStepper)
	defer func() {
		for name, m := range map[string]*stepper.Stepper{"altitude": altMotor, "azimuth": azMotor} {
			if err := m.Disable(); err != nil {
				log.Printf("disabling %s stepper failed: %v", name, err)
			}
		}
	}()

	debug.Step(3, "Initializing indicators and sensor")
	led, err := indicator.NewGPIO(gpioDriver, "LED", cfg.Indicators.LEDPin, cfg.Indicators.ActiveLow)
	if err != nil {
		log.Fatalf("init LED failed: %v", err)
	}
	ccd, err := indicator.NewGPIO(gpioDriver, "CCD", cfg.Indicators.CCDPin, cfg.Indicators.ActiveLow)
	if err != nil {
		log.Fatalf("init CCD failed: %v", err)
	}
	sensor, err := newSensor(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init sensor failed: %v", err)
	}
	debug.Value("Sensor type", cfg.Sensor.Type)

	debug.Step(4, "Opening command link")
	port, err := link.Open(link.SerialConfig{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.ReadTimeout(),
	})
	if err != nil {
		log.Fatalf("open command link failed: %v", err)
	}
	defer port.Close()
	in := link.New(link.DefaultBuffer)

	debug.Step(5, "Creating motion controller and dispatcher")
	recorder := telemetry.New(telemetry.Config(cfg.Telemetry), cfg.Discovery.Instance)
	defer recorder.Close()

	ctrl := motion.NewController(altMotor, azMotor, cfg.Defaults.SpeedRPM)
	var out io.Writer = port
	if broadcaster != nil {
		out = io.MultiWriter(web.BroadcastWriter(broadcaster, web.LevelResponse), port)
	}
	dispatcher := command.NewDispatcher(command.Deps{
		Controller: ctrl,
		LED:        led,
		CCD:        ccd,
		Sensor:     sensor,
		Input:      in,
		Output:     out,
		Recorder:   recorder,
	})

	// Reading stdin cannot be interrupted, so the reader is not part of the
	// group; a failing device stops the process.
	go func() {
		if err := in.Attach(ctx, port.Name(), port); err != nil && ctx.Err() == nil {
			debug.Error(fmt.Errorf("command link: %w", err))
			cancel()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Ready()
		return dispatcher.Run(gctx)
	})

	if httpPort := webPort.port(); httpPort > 0 {
		srv := web.NewServer(fmt.Sprintf(":%d", httpPort), broadcaster, in, ctrl.Current, consoleConfig(cfg, ctrl.Speed(), altMotor.StepsPerRev(), azMotor.StepsPerRev()))
		srv.SetSpeedFunc(ctrl.Speed)
		g.Go(func() error { return srv.Run(gctx) })

		if cfg.Discovery.Enabled {
			adv := web.NewAdvertiser(cfg.Discovery.Instance, httpPort, "path=/")
			if err := adv.Start(); err != nil {
				debug.Error(fmt.Errorf("mDNS: %w", err))
			} else {
				g.Go(func() error {
					<-gctx.Done()
					adv.Stop()
					return nil
				})
			}
		}
	}

	debug.Section("Ready")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mimo: %v", err)
	}
	debug.Info("Shutting down")
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero means "use config default".
func validateCLIOverrides(speed int) error {
	if speed != 0 && (speed < config.MinSpeedRPM || speed > config.MaxSpeedRPM) {
		return fmt.Errorf("speed must be between %d and %d, got %d", config.MinSpeedRPM, config.MaxSpeedRPM, speed)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero values are applied.
func applyOverrides(cfg *config.Config, speed int, device string) {
	if speed > 0 {
		cfg.Defaults.SpeedRPM = speed
	}
	if device != "" {
		cfg.Serial.Device = device
	}
}

func stepperConfig(c config.StepperConfig, rpm int) stepper.Config {
	return stepper.Config{
		Wiring:        stepper.Wiring(c.Wiring),
		StepPin:       c.StepPin,
		DirPin:        c.DirPin,
		EnablePin:     c.EnablePin,
		CoilPins:      c.Coils(),
		StepsPerRev:   c.StepsPerRev,
		Microstepping: c.Microstepping,
		SpeedRPM:      rpm,
	}
}

// newSensor selects the climate sensor. The mock GPIO driver cannot produce
// sensor pulses, so it always gets the fixed-reading mock.
func newSensor(g gpio.Driver, cfg *config.Config) (command.Thermometer, error) {
	if cfg.Defaults.MockGPIO || cfg.Sensor.Type == "mock" {
		return &dht.Mock{Reading: dht.Reading{Temperature: 20, Humidity: 50}}, nil
	}
	d, err := dht.New(g, cfg.Sensor.Pin, dht.Model(cfg.Sensor.Type))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// logOutput picks where debug output goes. When the command link is stdio,
// stdout carries protocol responses, so logs move to stderr.
func logOutput(device string, stdout, stderr io.Writer, b *web.StatusBroadcaster) io.Writer {
	w := stdout
	if device == link.StdioDevice {
		w = stderr
	}
	if b != nil {
		w = io.MultiWriter(w, web.BroadcastWriter(b, web.LevelLog))
	}
	return w
}

func consoleConfig(cfg *config.Config, speed, altSPR, azSPR int) web.ConsoleConfig {
	return web.ConsoleConfig{
		Instance:       cfg.Discovery.Instance,
		MinSpeed:       motion.MinSpeed,
		MaxSpeed:       motion.MaxSpeed,
		Speed:          speed,
		AltStepsPerRev: altSPR,
		AzStepsPerRev:  azSPR,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
