package process

import "time"

// Status is the last observed state of an owned process. ExitErr is the
// error returned by Wait once Running is false.
type Status struct {
	Name      string
	Running   bool
	PID       int
	StartedAt time.Time
	StoppedAt time.Time
	ExitErr   error
}
