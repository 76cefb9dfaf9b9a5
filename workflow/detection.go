package workflow

import (
	"errors"
	"time"

	"github.com/ncobase/msst/msst"
)

// DefaultPollInterval is the delay between status queries.
const DefaultPollInterval = 5 * time.Second

// Detection selects how a job's completion is learned. It is either Poll or
// Callback.
type Detection interface {
	detection()
}

// Poll learns completion by querying the task status every Interval.
type Poll struct {
	Interval time.Duration
}

// Callback learns completion from a push to Endpoint.
type Callback struct {
	Endpoint string
}

func (Poll) detection()     {}
func (Callback) detection() {}

// ApplyDetection returns job with its callback URL set for Callback and
// cleared for Poll.
func ApplyDetection(job msst.Job, d Detection) (msst.Job, error) {
	switch d := d.(type) {
	case Poll:
		job.CallbackURL = ""
	case Callback:
		if d.Endpoint == "" {
			return job, errors.New("callback detection requires an endpoint")
		}
		job.CallbackURL = d.Endpoint
	default:
		return job, errors.New("unknown completion detection")
	}
	return job, nil
}

