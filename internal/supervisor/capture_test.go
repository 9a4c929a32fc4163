//go:build !windows

package supervisor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botvisor/internal/logring"
	"github.com/loykin/botvisor/internal/process"
)

func TestCaptureSkipsBlankLinesAndKeepsLongOnes(t *testing.T) {
	ring := logring.New(10)
	s := New(nil, ring)
	long := strings.Repeat("x", 100000)

	p, err := process.Spawn(process.Spec{
		Name:    "cap",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo '  first  '; echo; echo '   '; printf '" + long + "'; echo; echo last >&2"},
	})
	require.NoError(t, err)
	s.capture(p)
	s.Wait()

	var msgs []string
	for _, e := range ring.Snapshot() {
		assert.Equal(t, "cap", e.Source)
		msgs = append(msgs, e.Message)
	}
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0])
	assert.Len(t, msgs[1], len(long))
	assert.Equal(t, "last", msgs[2])
}

func TestCaptureLogsExitStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := New(nil, logring.New(10), WithLogger(logger))

	p, err := process.Spawn(process.Spec{
		Name:    "failing",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo oops; exit 3"},
	})
	require.NoError(t, err)
	s.capture(p)
	s.Wait()

	assert.True(t, p.Exited())
	st := p.Snapshot()
	assert.False(t, st.Running)
	require.Error(t, st.ExitErr)

	out := buf.String()
	assert.Contains(t, out, "bot process exited")
	assert.Contains(t, out, "bot=failing")
	assert.Contains(t, out, "exit status 3")
}
