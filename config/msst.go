package config

import (
	"time"

	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/workflow"
	"github.com/spf13/viper"
)

// Workflow holds job coordination settings.
type Workflow struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	PresignTTL   time.Duration `json:"presign_ttl" yaml:"presign_ttl" validate:"gte=0"`
	Concurrency  int           `json:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	Cleanup      bool          `json:"cleanup" yaml:"cleanup"`
	DownloadDir  string        `json:"download_dir" yaml:"download_dir" validate:"required"`
	CallbackURL  string        `json:"callback_url" yaml:"callback_url" validate:"omitempty,url"`
	Tracker      string        `json:"tracker" yaml:"tracker" validate:"oneof=memory redis"`
}

// Options returns the coordinator options.
func (w *Workflow) Options() workflow.Options {
	return workflow.Options{PollInterval: w.PollInterval, PresignTTL: w.PresignTTL, Cleanup: w.Cleanup}
}

// getMSSTConfig get processing API client config
func getMSSTConfig(v *viper.Viper) *msst.Config {
	return &msst.Config{
		BaseURL: getStringOrDefault(v, "msst.base_url", "http://localhost:8000"),
		Timeout: getDurationOrDefault(v, "msst.timeout", 5*time.Minute),
		Breaker: msst.BreakerConfig{
			Enabled:      getBoolOrDefault(v, "msst.breaker.enabled", true),
			MaxRequests:  getUint32OrDefault(v, "msst.breaker.max_requests", 100),
			Interval:     getDurationOrDefault(v, "msst.breaker.interval", 5*time.Second),
			Timeout:      getDurationOrDefault(v, "msst.breaker.timeout", 3*time.Second),
			MinRequests:  getUint32OrDefault(v, "msst.breaker.min_requests", 3),
			FailureRatio: getFloat64OrDefault(v, "msst.breaker.failure_ratio", 0.6),
		},
	}
}

// getWorkflowConfig get workflow config
func getWorkflowConfig(v *viper.Viper) *Workflow {
	return &Workflow{
		PollInterval: getDurationOrDefault(v, "workflow.poll_interval", workflow.DefaultPollInterval),
		PresignTTL:   v.GetDuration("workflow.presign_ttl"),
		Concurrency:  getIntOrDefault(v, "workflow.concurrency", 4),
		Cleanup:      getBoolOrDefault(v, "workflow.cleanup", true),
		DownloadDir:  getStringOrDefault(v, "workflow.download_dir", "results"),
		CallbackURL:  v.GetString("workflow.callback_url"),
		Tracker:      getStringOrDefault(v, "workflow.tracker", "memory"),
	}
}
