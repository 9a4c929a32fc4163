package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Spec describes how to launch one program.
type Spec struct {
	Name    string
	Command string
	Args    []string
	WorkDir string
	Env     []string
}

// Process is an owned OS process whose stdout and stderr are merged into one pipe.
// A background goroutine reaps the child as soon as it exits.
type Process struct {
	spec   Spec
	cmd    *exec.Cmd
	output *os.File
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Spawn starts spec. On success the caller owns Output and must drain or close it.
func Spawn(spec Spec) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Command, spec.Args...) // #nosec G204 -- interpreter and entry point come from the operator's registry
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, err
	}
	// the child holds its own copy of the write end
	_ = pw.Close()

	p := &Process{
		spec:   spec,
		cmd:    cmd,
		output: pr,
		done:   make(chan struct{}),
		status: Status{
			Name:      spec.Name,
			Running:   true,
			PID:       cmd.Process.Pid,
			StartedAt: time.Now(),
		},
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.mu.Unlock()
	close(p.done)
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Name returns the name the process was spawned under.
func (p *Process) Name() string { return p.spec.Name }

// Output is the read end of the merged stdout/stderr stream.
func (p *Process) Output() io.ReadCloser { return p.output }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has already been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// WaitTimeout blocks until the process exits or d elapses; d <= 0 waits forever.
// It reports whether the process exited.
func (p *Process) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		<-p.done
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
