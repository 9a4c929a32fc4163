package process

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const pollInterval = 50 * time.Millisecond

// Alive reports whether pid names a live process. A zombie counts as gone.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return true
}

// WaitGone polls until pid is no longer alive or d elapses; d <= 0 waits forever.
// It is used for processes this supervisor did not spawn and therefore cannot reap.
func WaitGone(pid int, d time.Duration) bool {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	for {
		if !Alive(pid) {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
