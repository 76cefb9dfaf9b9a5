package config

import (
	"time"

	"github.com/ncobase/msst/logging/observes"
	"github.com/spf13/viper"
)

// Sentry config struct
type Sentry struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Environment string `json:"environment" yaml:"environment"`
	Release     string `json:"release" yaml:"release"`
}

// getSentryConfig get sentry config
func getSentryConfig(v *viper.Viper) *Sentry {
	return &Sentry{
		Endpoint:    v.GetString("observes.sentry.endpoint"),
		Environment: v.GetString("observes.sentry.environment"),
		Release:     v.GetString("observes.sentry.release"),
	}
}

// Tracer config struct for OpenTelemetry
type Tracer struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint"` // OTLP gRPC endpoint, empty disables export
	ServiceName    string        `json:"service_name" yaml:"service_name"`
	ServiceVersion string        `json:"service_version" yaml:"service_version"`
	Environment    string        `json:"environment" yaml:"environment"`
	SamplingRate   float64       `json:"sampling_rate" yaml:"sampling_rate"` // 0.0 to 1.0
	BatchTimeout   time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	ExportTimeout  time.Duration `json:"export_timeout" yaml:"export_timeout"`
}

// getTracerConfig get tracer config with defaults
func getTracerConfig(v *viper.Viper) *Tracer {
	return &Tracer{
		Endpoint:       v.GetString("observes.tracer.endpoint"),
		ServiceName:    getStringOrDefault(v, "observes.tracer.service_name", "msst"),
		ServiceVersion: v.GetString("observes.tracer.service_version"),
		Environment:    v.GetString("observes.tracer.environment"),
		SamplingRate:   getFloat64OrDefault(v, "observes.tracer.sampling_rate", 1.0),
		BatchTimeout:   getDurationOrDefault(v, "observes.tracer.batch_timeout", 5*time.Second),
		ExportTimeout:  getDurationOrDefault(v, "observes.tracer.export_timeout", 30*time.Second),
	}
}

// Observes config struct
type Observes struct {
	Sentry *Sentry
	Tracer *Tracer
}

// SentryOptions returns the sentry client options; nil when disabled.
func (o *Observes) SentryOptions(appName string) *observes.SentryOptions {
	if o.Sentry == nil || o.Sentry.Endpoint == "" {
		return nil
	}
	return &observes.SentryOptions{
		Dsn:         o.Sentry.Endpoint,
		Name:        appName,
		Release:     o.Sentry.Release,
		Environment: o.Sentry.Environment,
	}
}

// TracerOption returns the exporter options; nil when disabled.
func (o *Observes) TracerOption() *observes.TracerOption {
	t := o.Tracer
	if t == nil || t.Endpoint == "" {
		return nil
	}
	return &observes.TracerOption{
		URL:           t.Endpoint,
		Name:          t.ServiceName,
		Version:       t.ServiceVersion,
		Environment:   t.Environment,
		SamplingRate:  t.SamplingRate,
		BatchTimeout:  t.BatchTimeout,
		ExportTimeout: t.ExportTimeout,
	}
}

// get Observes config
func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		Sentry: getSentryConfig(v),
		Tracer: getTracerConfig(v),
	}
}
