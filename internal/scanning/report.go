package scanning

import "time"

// PortError is a per-port failure surfaced to the operator.
type PortError struct {
	Port   int    `json:"port" yaml:"port"`
	Reason string `json:"reason" yaml:"reason"`
}

// Counts tallies outcomes by state.
type Counts struct {
	Open    int `json:"open" yaml:"open"`
	Closed  int `json:"closed" yaml:"closed"`
	Timeout int `json:"timeout" yaml:"timeout"`
	Error   int `json:"error" yaml:"error"`
	// Total is the number of ports recorded; it is below the range size
	// only for cancelled scans.
	Total int `json:"total" yaml:"total"`
}

// Report is the final, immutable summary of one job.
type Report struct {
	JobID      string        `json:"job_id" yaml:"job_id"`
	Host       string        `json:"host" yaml:"host"`
	Address    string        `json:"address,omitempty" yaml:"address,omitempty"`
	PortRange  PortRange     `json:"port_range" yaml:"port_range"`
	State      JobState      `json:"state" yaml:"state"`
	OpenPorts  []int         `json:"open_ports" yaml:"open_ports"`
	Errors     []PortError   `json:"errors" yaml:"errors"`
	Counts     Counts        `json:"counts" yaml:"counts"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Complete reports whether every port in the range was scanned.
func (r *Report) Complete() bool {
	return r.State == JobCompleted && r.Counts.Total == r.PortRange.Count()
}

// buildReport fills the result-derived fields of r from a sorted snapshot.
func buildReport(r *Report, results []Result) {
	r.OpenPorts = make([]int, 0)
	r.Errors = make([]PortError, 0)

	for _, res := range results {
		switch res.Outcome.State {
		case StateOpen:
			r.Counts.Open++
			r.OpenPorts = append(r.OpenPorts, res.Target.Port)
		case StateClosed:
			r.Counts.Closed++
		case StateTimeout:
			r.Counts.Timeout++
		case StateError:
			r.Counts.Error++
			r.Errors = append(r.Errors, PortError{Port: res.Target.Port, Reason: res.Outcome.Reason})
		}
	}
	r.Counts.Total = len(results)
}
