// Package dht reads DHT11/DHT22 temperature and humidity sensors over a
// single GPIO line by timing the sensor's pulses.
package dht

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/hw/gpio"
)

// Model identifies the sensor variant; they differ in start signal and data encoding.
type Model string

const (
	DHT11 Model = "dht11"
	DHT22 Model = "dht22"
)

var (
	// ErrTimeout means the sensor did not toggle the line in time.
	ErrTimeout = errors.New("dht: timeout waiting for sensor")
	// ErrChecksum means a frame was received but failed its checksum.
	ErrChecksum = errors.New("dht: checksum mismatch")
)

const (
	pulseTimeout = time.Millisecond
	frameBits    = 40
)

// Reading is one decoded frame.
type Reading struct {
	Temperature float64 // degrees Celsius
	Humidity    float64 // percent relative humidity
}

// DHT is a sensor on one GPIO pin. Reads closer together than the sensor's
// minimum interval return the previous frame.
type DHT struct {
	mu    sync.Mutex
	gpio  gpio.Driver
	pin   int
	model Model

	now   func() time.Time
	sleep func(time.Duration)

	last    time.Time
	reading Reading
	err     error
}

// New returns a sensor of the given model on pin.
func New(g gpio.Driver, pin int, model Model) (*DHT, error) {
	switch model {
	case DHT11, DHT22:
	default:
		return nil, fmt.Errorf("unknown dht model %q", model)
	}
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, err
	}
	return &DHT{
		gpio:  g,
		pin:   pin,
		model: model,
		now:   time.Now,
		sleep: time.Sleep,
	}, nil
}

func (d *DHT) minInterval() time.Duration {
	if d.model == DHT11 {
		return time.Second
	}
	return 2 * time.Second
}

// Temperature returns degrees Celsius from a fresh or cached frame.
func (d *DHT) Temperature() (float64, error) {
	r, err := d.Read()
	return r.Temperature, err
}

// Humidity returns relative humidity in percent from a fresh or cached frame.
func (d *DHT) Humidity() (float64, error) {
	r, err := d.Read()
	return r.Humidity, err
}

// Read performs a single blocking acquisition. There is no retry.
func (d *DHT) Read() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && d.now().Sub(d.last) < d.minInterval() {
		return d.reading, d.err
	}

	data, err := d.acquire()
	if err == nil {
		d.reading, err = decode(data, d.model)
	}
	d.last = d.now()
	d.err = err
	if err != nil {
		debug.Verbose("DHT: read on pin %d failed: %v", d.pin, err)
		return Reading{}, err
	}
	debug.Verbose("DHT: frame % x -> %+v", data, d.reading)
	return d.reading, nil
}

// acquire sends the start signal and times the 40 data bits.
func (d *DHT) acquire() ([5]byte, error) {
	var data [5]byte

	hold := 1100 * time.Microsecond
	if d.model == DHT11 {
		hold = 20 * time.Millisecond
	}
	if err := d.gpio.SetupPin(d.pin, gpio.Output); err != nil {
		return data, err
	}
	if err := d.gpio.WritePin(d.pin, gpio.Low); err != nil {
		return data, err
	}
	d.sleep(hold)
	if err := d.gpio.SetupPin(d.pin, gpio.InputPullUp); err != nil {
		return data, err
	}

	// Released line, then the sensor's 80µs low / 80µs high response.
	for _, level := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if _, err := d.expectPulse(level); err != nil {
			return data, fmt.Errorf("response: %w", err)
		}
	}

	// Each bit is a ~50µs low followed by a high that is short for 0 and long for 1.
	var lows, highs [frameBits]time.Duration
	for i := range frameBits {
		var err error
		if lows[i], err = d.expectPulse(gpio.Low); err != nil {
			return data, fmt.Errorf("bit %d: %w", i, err)
		}
		if highs[i], err = d.expectPulse(gpio.High); err != nil {
			return data, fmt.Errorf("bit %d: %w", i, err)
		}
	}
	for i := range frameBits {
		data[i/8] <<= 1
		if highs[i] > lows[i] {
			data[i/8] |= 1
		}
	}
	return data, nil
}

// expectPulse returns how long the line stays at level.
func (d *DHT) expectPulse(level gpio.Level) (time.Duration, error) {
	start := d.now()
	for {
		l, err := d.gpio.ReadPin(d.pin)
		if err != nil {
			return 0, err
		}
		elapsed := d.now().Sub(start)
		if l != level {
			return elapsed, nil
		}
		if elapsed > pulseTimeout {
			return 0, ErrTimeout
		}
	}
}

// decode validates the checksum and converts a frame to physical units.
func decode(data [5]byte, model Model) (Reading, error) {
	if data[4] != data[0]+data[1]+data[2]+data[3] {
		return Reading{}, ErrChecksum
	}
	var r Reading
	switch model {
	case DHT11:
		r.Humidity = float64(data[0]) + float64(data[1])/10
		r.Temperature = float64(data[2]) + float64(data[3]&0x0f)/10
		if data[3]&0x80 != 0 {
			r.Temperature = -r.Temperature
		}
	default:
		r.Humidity = float64(uint16(data[0])<<8|uint16(data[1])) / 10
		r.Temperature = float64(uint16(data[2]&0x7f)<<8|uint16(data[3])) / 10
		if data[2]&0x80 != 0 {
			r.Temperature = -r.Temperature
		}
	}
	return r, nil
}
