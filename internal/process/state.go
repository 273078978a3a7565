package process

import "time"

// State represents the current state of a pipe.
type State string

// Pipe states.
const (
	StateIdle     State = "idle"     // not started
	StateRunning  State = "running"  // started and not exited
	StateStopping State = "stopping" // stop requested
	StateExited   State = "exited"   // exited with status 0
	StateError    State = "error"    // failed to start or exited non-zero
)

// Info describes a pipe at a point in time.
type Info struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at,omitzero"`
	ExitCode  int       `json:"exit_code"`
	LastError string    `json:"last_error,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
}
