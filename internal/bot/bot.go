package bot

import (
	"path/filepath"
)

// Bot is the durable descriptor of one managed program.
// Field order is the on-disk order; keep it stable.
type Bot struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     *int   `json:"pid"`
}

// New builds a stopped descriptor for the entry point at path.
// The display name is the entry point's containing directory name.
func New(path string) Bot {
	return Bot{
		Name: filepath.Base(filepath.Dir(path)),
		Path: path,
	}
}

// Dir returns the entry point's containing directory, used as working directory.
func (b Bot) Dir() string { return filepath.Dir(b.Path) }

// PIDValue returns the recorded pid or 0 when none is set.
func (b Bot) PIDValue() int {
	if b.PID == nil {
		return 0
	}
	return *b.PID
}

// MarkRunning records pid and flips the descriptor to running.
func (b *Bot) MarkRunning(pid int) {
	p := pid
	b.PID = &p
	b.Running = true
}

// MarkStopped clears pid and flips the descriptor to stopped.
func (b *Bot) MarkStopped() {
	b.PID = nil
	b.Running = false
}

// Clone returns a deep copy so callers never share the pid pointer.
func (b Bot) Clone() Bot {
	if b.PID != nil {
		p := *b.PID
		b.PID = &p
	}
	return b
}

// CloneAll deep-copies a descriptor list.
func CloneAll(in []Bot) []Bot {
	out := make([]Bot, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// State is the supervisor-side lifecycle state of a bot.
// Only Stopped and Running are ever reflected in the durable descriptor.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
