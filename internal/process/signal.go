package process

import (
	"errors"
	"os"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ErrNoProcess means the OS has no process with the given pid.
var ErrNoProcess = errors.New("no such process")

// Terminate asks pid to exit (SIGTERM on Unix).
func Terminate(pid int) error {
	return send(pid, (*gopsproc.Process).Terminate)
}

// Kill forcibly ends pid (SIGKILL on Unix).
func Kill(pid int) error {
	return send(pid, (*gopsproc.Process).Kill)
}

func send(pid int, fn func(*gopsproc.Process) error) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return ErrNoProcess
		}
		return err
	}
	if err := fn(p); err != nil {
		if isGone(err) {
			return ErrNoProcess
		}
		return err
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
