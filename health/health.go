// Package health tracks whether the process is doing work and keeps a fresh
// host telemetry snapshot for it.
package health

// Report is the external health view.
type Report struct {
	Busy   bool     `json:"is_busy"`
	System Snapshot `json:"info"`
}

// NewReport combines the busy state with the latest telemetry reading.
func NewReport(tracker *Tracker, poller *Poller) Report {
	return Report{
		Busy:   tracker.Busy(),
		System: poller.Snapshot(),
	}
}
