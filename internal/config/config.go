package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Defaults applied by Load.
const (
	DefaultStepsPerRev   = 2048 // 28BYJ-48 geared stepper, full steps
	DefaultSpeedRPM      = 10
	DefaultBaud          = 9600
	DefaultReadTimeoutMs = 500
	DefaultGPIOChip      = "gpiochip0"
	DefaultInstance      = "MiMo"
)

// Speed bounds in rpm, shared by both axes.
const (
	MinSpeedRPM = 1
	MaxSpeedRPM = 15
)

// StepperConfig holds the configuration for one axis motor.
type StepperConfig struct {
	Wiring        string `yaml:"wiring"`        // "four_wire" (ULN2003) or "step_dir" (A4988)
	StepPin       int    `yaml:"step_pin"`      // step_dir only
	DirPin        int    `yaml:"dir_pin"`       // step_dir only
	EnablePin     int    `yaml:"enable_pin"`    // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	CoilPins      []int  `yaml:"coil_pins"`     // four_wire only, IN1 IN3 IN2 IN4
	StepsPerRev   int    `yaml:"steps_per_rev"` // full steps per output revolution
	Microstepping int    `yaml:"microstepping"` // step_dir only
}

// IndicatorConfig holds the two status lamps.
type IndicatorConfig struct {
	LEDPin    int  `yaml:"led_pin"`
	CCDPin    int  `yaml:"ccd_pin"`
	ActiveLow bool `yaml:"active_low"`
}

// SensorConfig selects the temperature/humidity sensor.
type SensorConfig struct {
	Type string `yaml:"type"` // "dht11", "dht22" or "mock"
	Pin  int    `yaml:"pin"`
}

// SerialConfig describes the command port.
type SerialConfig struct {
	Device        string `yaml:"device"` // e.g. /dev/ttyS0, or "-" for stdin/stdout
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
}

// TelemetryConfig points at an InfluxDB bucket. Empty URL disables it.
type TelemetryConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// DiscoveryConfig controls mDNS advertisement of the web console.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	SpeedRPM    int    `yaml:"speed_rpm"`    // initial shared speed (1-15)
	DebugLevel  int    `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool   `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	GPIOBackend string `yaml:"gpio_backend"` // "rpio" (/dev/gpiomem) or "cdev" (character device, Pi 5)
	GPIOChip    string `yaml:"gpio_chip"`    // cdev only
}

// Config aggregates all application configuration.
type Config struct {
	AltitudeStepper StepperConfig   `yaml:"altitude_stepper"`
	AzimuthStepper  StepperConfig   `yaml:"azimuth_stepper"`
	Indicators      IndicatorConfig `yaml:"indicators"`
	Sensor          SensorConfig    `yaml:"sensor"`
	Serial          SerialConfig    `yaml:"serial"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Discovery       DiscoveryConfig `yaml:"discovery"`
	Defaults        DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files whose parent directory is named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Ext(abs) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Serial.Device == "" {
		return nil, fmt.Errorf("serial.device is required (use \"-\" for stdio)")
	}
	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = DefaultBaud
	}
	if cfg.Serial.ReadTimeoutMs <= 0 {
		cfg.Serial.ReadTimeoutMs = DefaultReadTimeoutMs
	}

	for _, axis := range []struct {
		name string
		s    *StepperConfig
	}{
		{"altitude_stepper", &cfg.AltitudeStepper},
		{"azimuth_stepper", &cfg.AzimuthStepper},
	} {
		if err := axis.s.applyDefaults(axis.name); err != nil {
			return nil, err
		}
	}

	switch cfg.Sensor.Type {
	case "":
		cfg.Sensor.Type = "dht22"
	case "dht11", "dht22", "mock":
	default:
		return nil, fmt.Errorf("sensor.type must be dht11, dht22 or mock, got %q", cfg.Sensor.Type)
	}

	if cfg.Defaults.SpeedRPM == 0 {
		cfg.Defaults.SpeedRPM = DefaultSpeedRPM
	}
	if cfg.Defaults.SpeedRPM < MinSpeedRPM || cfg.Defaults.SpeedRPM > MaxSpeedRPM {
		return nil, fmt.Errorf("speed_rpm must be between %d and %d, got %d", MinSpeedRPM, MaxSpeedRPM, cfg.Defaults.SpeedRPM)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	switch cfg.Defaults.GPIOBackend {
	case "":
		cfg.Defaults.GPIOBackend = "rpio"
	case "rpio", "cdev":
	default:
		return nil, fmt.Errorf("gpio_backend must be rpio or cdev, got %q", cfg.Defaults.GPIOBackend)
	}
	if cfg.Defaults.GPIOChip == "" {
		cfg.Defaults.GPIOChip = DefaultGPIOChip
	}

	if cfg.Telemetry.URL != "" && (cfg.Telemetry.Org == "" || cfg.Telemetry.Bucket == "") {
		return nil, fmt.Errorf("telemetry.org and telemetry.bucket are required when telemetry.url is set")
	}
	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = DefaultInstance
	}

	return &cfg, nil
}

func (s *StepperConfig) applyDefaults(name string) error {
	switch s.Wiring {
	case "":
		s.Wiring = "four_wire"
	case "four_wire", "step_dir":
	default:
		return fmt.Errorf("%s.wiring must be four_wire or step_dir, got %q", name, s.Wiring)
	}
	if s.Wiring == "four_wire" && len(s.CoilPins) != 4 {
		return fmt.Errorf("%s.coil_pins needs 4 pins, got %d", name, len(s.CoilPins))
	}
	if s.StepsPerRev < 0 {
		return fmt.Errorf("%s.steps_per_rev must be > 0, got %d", name, s.StepsPerRev)
	}
	if s.StepsPerRev == 0 {
		s.StepsPerRev = DefaultStepsPerRev
	}
	if s.Microstepping <= 0 {
		s.Microstepping = 1
	}
	return nil
}

// ReadTimeout returns the serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// TelemetryEnabled reports whether an InfluxDB sink is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry.URL != ""
}

// Coils returns the four coil pins of a four_wire stepper.
func (s StepperConfig) Coils() [4]int {
	var pins [4]int
	copy(pins[:], s.CoilPins)
	return pins
}
