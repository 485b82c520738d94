package orchestrator

import (
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	"github.com/LerianStudio/lib-searchkit/searchkit/strategy"
)

// BackendFailure describes a failure on a side whose loss the call survived.
type BackendFailure struct {
	Backend backend.Identity `json:"backend"`
	Err     error            `json:"-"`
	Message string           `json:"message"`
}

func newFailure(id backend.Identity, err error) BackendFailure {
	return BackendFailure{Backend: id, Err: err, Message: err.Error()}
}

// PerformanceRecord describes one Search call. Exactly one is produced per
// call, on success and on failure alike.
type PerformanceRecord struct {
	QueryID          string            `json:"queryId"`
	SearchDuration   time.Duration     `json:"-"`
	SearchDurationMs int64             `json:"searchDurationMs"`
	Strategy         strategy.Strategy `json:"strategy,omitempty"`
	CacheHit         bool              `json:"cacheHit"`
	ResultCount      int               `json:"resultCount"`
	Timestamp        time.Time         `json:"timestamp"`
	Err              error             `json:"-"`
	Failures         []BackendFailure  `json:"failures,omitempty"`
	LimitClamped     bool              `json:"limitClamped,omitempty"`
	Slow             bool              `json:"slow,omitempty"`
}

// Failed reports whether the call returned an error.
func (r PerformanceRecord) Failed() bool {
	return r.Err != nil
}
