package types

// SyncState is a step of a single sync call.
type SyncState string

const (
	SyncIdle           SyncState = "idle"
	SyncConnecting     SyncState = "connecting"
	SyncFetching       SyncState = "fetching"
	SyncNormalizing    SyncState = "normalizing"
	SyncPersisting     SyncState = "persisting"
	SyncCommitted      SyncState = "committed"
	SyncPartialFailure SyncState = "partial_failure"
	SyncUnavailable    SyncState = "unavailable"
)

// Terminal reports whether s ends a sync call.
func (s SyncState) Terminal() bool {
	switch s {
	case SyncCommitted, SyncPartialFailure, SyncUnavailable:
		return true
	}
	return false
}

// SyncResult is the outcome of one sync or import call.
type SyncResult struct {
	Source string      `json:"source"`
	State  SyncState   `json:"state"`
	Trace  []SyncState `json:"trace"`

	ReadingsInserted int `json:"readings_inserted"`
	PanelsInserted   int `json:"panels_inserted"`
	Duplicates       int `json:"duplicates"`
	// Skipped counts items that were dropped as malformed.
	Skipped int `json:"skipped"`
	// Imported counts items staged for commit during a historical import.
	Imported int `json:"imported"`
	// Batches counts the commits made during the call.
	Batches int    `json:"batches"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Enter moves the result to state s and records it in the trace.
func (r *SyncResult) Enter(s SyncState) {
	r.State = s
	r.Trace = append(r.Trace, s)
}

// Apply folds a write result into the counters.
func (r *SyncResult) Apply(w WriteResult) {
	r.ReadingsInserted += w.ReadingsInserted
	r.PanelsInserted += w.PanelsInserted
	r.Duplicates += w.Duplicates
}
