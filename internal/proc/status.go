package proc

import "time"

// Status is an externally consumable snapshot of a managed process.
type Status struct {
	Build     string    `json:"build"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
	Ready     bool      `json:"ready"`
}
