// Package telemetry records slews and sensor readings to InfluxDB.
package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"

	"github.com/cjeanneret/MiMo/internal/debug"
	"github.com/cjeanneret/MiMo/internal/logic/motion"
)

// Measurement names.
const (
	SlewMeasurement    = "mimo.slew"
	ClimateMeasurement = "mimo.climate"
)

// Config selects the InfluxDB bucket. An empty URL disables telemetry.
type Config struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

// Recorder receives events from the command processor. Implementations
// must not block it.
type Recorder interface {
	RecordSlew(res motion.Result)
	RecordClimate(field string, value float64)
	Close()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSlew(motion.Result)       {}
func (Nop) RecordClimate(string, float64) {}
func (Nop) Close()                        {}

type emitFunc func(name string, tags map[string]string, fields map[string]interface{}, ts time.Time)

// Influx writes points through the non-blocking InfluxDB write API.
type Influx struct {
	emit  emitFunc
	flush func()
	close func()
	now   func() time.Time
	tags  map[string]string
}

// New returns an Influx recorder for cfg, or Nop when cfg.URL is empty.
// instance tags every point.
func New(cfg Config, instance string) Recorder {
	if cfg.URL == "" {
		debug.Verbose("Telemetry: disabled")
		return Nop{}
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeApi := client.WriteApi(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeApi.Errors() {
			debug.Error(err)
		}
	}()
	debug.Info("Telemetry: writing to %s (org %s, bucket %s)", cfg.URL, cfg.Org, cfg.Bucket)

	return &Influx{
		emit: func(name string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
			writeApi.WritePoint(influxdb2.NewPoint(name, tags, fields, ts))
		},
		flush: writeApi.Flush,
		close: func() {
			writeApi.Close()
			client.Close()
		},
		now:  time.Now,
		tags: map[string]string{"instance": instance},
	}
}

// RecordSlew writes one point per finished slew.
func (r *Influx) RecordSlew(res motion.Result) {
	outcome := "complete"
	if res.Aborted {
		outcome = "aborted"
	}
	r.emit(SlewMeasurement, r.withTags("outcome", outcome), map[string]interface{}{
		"alt":        res.Final.Alt,
		"az":         res.Final.Az,
		"target_alt": res.Target.Alt,
		"target_az":  res.Target.Az,
		"alt_steps":  res.AltSteps,
		"az_steps":   res.AzSteps,
		"iterations": res.Iterations,
		"aborted":    res.Aborted,
	}, r.now())
}

// RecordClimate writes one successful sensor read, e.g. field "temperature".
func (r *Influx) RecordClimate(field string, value float64) {
	r.emit(ClimateMeasurement, r.tags, map[string]interface{}{field: value}, r.now())
}

// Close flushes pending points and releases the client.
func (r *Influx) Close() {
	r.flush()
	r.close()
}

func (r *Influx) withTags(k, v string) map[string]string {
	tags := make(map[string]string, len(r.tags)+1)
	for tk, tv := range r.tags {
		tags[tk] = tv
	}
	tags[k] = v
	return tags
}
