package server

import (
	"context"
	"sync"
	"time"

	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/workflow"
)

// DefaultOutcomeCapacity bounds the number of remembered outcomes.
const DefaultOutcomeCapacity = 1024

// ItemView is one materialized result.
type ItemView struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Bytes int64  `json:"bytes,omitempty"`
	Error string `json:"error,omitempty"`
}

// OutcomeView is the JSON shape of a handled callback.
type OutcomeView struct {
	TaskID    string     `json:"task_id"`
	Status    msst.State `json:"status"`
	Error     string     `json:"error,omitempty"`
	Items     []ItemView `json:"items,omitempty"`
	HandledAt time.Time  `json:"handled_at"`
}

// Outcomes remembers the latest handled outcome per task, evicting the
// oldest task once capacity is reached.
type Outcomes struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byID     map[string]OutcomeView
	now      func() time.Time
}

// NewOutcomes creates an outcome log. capacity <= 0 uses DefaultOutcomeCapacity.
func NewOutcomes(capacity int) *Outcomes {
	if capacity <= 0 {
		capacity = DefaultOutcomeCapacity
	}
	return &Outcomes{capacity: capacity, byID: make(map[string]OutcomeView), now: time.Now}
}

// Record stores o. Its signature matches workflow.ReceiverConfig.OnOutcome.
func (l *Outcomes) Record(_ context.Context, o workflow.Outcome) {
	v := OutcomeView{TaskID: o.TaskID, Status: o.State, HandledAt: l.now()}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	if o.Report != nil {
		for _, it := range o.Report.Items {
			iv := ItemView{Name: it.Ref.Name, Path: it.Path, Bytes: it.Bytes}
			if it.Err != nil {
				iv.Error = it.Err.Error()
			}
			v.Items = append(v.Items, iv)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.byID[o.TaskID]; !seen {
		if len(l.order) >= l.capacity {
			delete(l.byID, l.order[0])
			l.order = l.order[1:]
		}
		l.order = append(l.order, o.TaskID)
	}
	l.byID[o.TaskID] = v
}

// Get returns the latest outcome of id.
func (l *Outcomes) Get(id string) (OutcomeView, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.byID[id]
	return v, ok
}
