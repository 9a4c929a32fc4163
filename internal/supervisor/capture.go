package supervisor

import (
	"bufio"
	"strings"
	"time"

	"github.com/loykin/botvisor/internal/process"
)

// capture copies p's merged output into the ring, one entry per non-blank
// line, until EOF, then logs how the process exited. It never touches the
// registry.
func (s *Supervisor) capture(p *process.Process) {
	name := p.Name()
	s.captures.Add(1)
	go func() {
		defer s.captures.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("output capture panicked", "bot", name, "panic", r)
			}
		}()
		out := p.Output()
		defer func() { _ = out.Close() }()

		br := bufio.NewReader(out)
		for {
			line, err := br.ReadString('\n')
			if text := strings.TrimSpace(line); text != "" {
				s.ring.Add(name, text)
			}
			if err != nil {
				break
			}
		}

		<-p.Done()
		st := p.Snapshot()
		s.logger.Info("bot process exited", "bot", name, "pid", st.PID,
			"uptime", st.StoppedAt.Sub(st.StartedAt).Round(time.Millisecond), "error", st.ExitErr)
	}()
}
