//go:build !windows

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/logring"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/store"
	"github.com/loykin/botvisor/internal/store/jsonfile"
)

const (
	sleeper   = "echo hello\nexec sleep 30\n"
	stubborn  = "trap '' TERM\necho ready\nwhile :; do sleep 0.1; done\n"
	shortLife = "echo bye\n"
)

type fixture struct {
	t    *testing.T
	dir  string
	reg  *registry.Registry
	sup  *Supervisor
	ring *logring.Ring
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := jsonfile.New(filepath.Join(dir, "bots_config.json"))
	require.NoError(t, err)
	reg := registry.New(st)
	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	ring := logring.New(100)
	sup := New(reg, ring, append([]Option{WithGracePeriod(2 * time.Second)}, opts...)...)
	t.Cleanup(func() {
		_ = sup.StopAll(context.Background())
		sup.Wait()
	})
	return &fixture{t: t, dir: dir, reg: reg, sup: sup, ring: ring}
}

// writeBot creates <dir>/<name>/main.py with script and, when withVenv is set,
// a venv whose python is /bin/sh.
func (f *fixture) writeBot(name, script string, withVenv bool) string {
	f.t.Helper()
	d := filepath.Join(f.dir, name)
	require.NoError(f.t, os.MkdirAll(d, 0o755))
	entry := filepath.Join(d, "main.py")
	require.NoError(f.t, os.WriteFile(entry, []byte(script), 0o644))
	if withVenv {
		bin := filepath.Join(d, "venv", "bin")
		require.NoError(f.t, os.MkdirAll(bin, 0o755))
		require.NoError(f.t, os.Symlink("/bin/sh", filepath.Join(bin, "python")))
	}
	return entry
}

func (f *fixture) addBot(name, script string) int {
	f.t.Helper()
	_, err := f.sup.Add(context.Background(), f.writeBot(name, script, true))
	require.NoError(f.t, err)
	return f.reg.Len() - 1
}

func hasEntry(r *logring.Ring, source, message string) bool {
	for _, e := range r.Snapshot() {
		if e.Source == source && e.Message == message {
			return true
		}
	}
	return false
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idx := f.addBot("echo", sleeper)
	assert.True(t, hasEntry(f.ring, logring.SourceManager, "Bot added: "+filepath.Join(f.dir, "echo", "main.py")))

	msg, err := f.sup.Start(ctx, idx)
	require.NoError(t, err)
	b, err := f.reg.Get(idx)
	require.NoError(t, err)
	require.True(t, b.Running)
	require.NotNil(t, b.PID)
	assert.Equal(t, "Bot started with PID "+strconv.Itoa(*b.PID), msg)
	assert.True(t, hasEntry(f.ring, "echo", "Started (PID: "+strconv.Itoa(*b.PID)+")"))
	assert.Eventually(t, func() bool { return hasEntry(f.ring, "echo", "hello") }, 5*time.Second, 20*time.Millisecond)

	msg, err = f.sup.Stop(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "Bot stopped", msg)
	assert.True(t, hasEntry(f.ring, "echo", "Stopped"))
	assert.False(t, process.Alive(*b.PID))

	b, _ = f.reg.Get(idx)
	assert.False(t, b.Running)
	assert.Nil(t, b.PID)

	_, err = f.sup.Stop(ctx, idx)
	require.ErrorIs(t, err, bot.ErrNotRunning)
	assert.Equal(t, "Bot not running", err.Error())

	f.sup.Wait()
}

func TestStartAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idx := f.addBot("echo", sleeper)

	_, err := f.sup.Start(ctx, idx)
	require.NoError(t, err)
	before, _ := f.reg.Get(idx)

	_, err = f.sup.Start(ctx, idx)
	require.ErrorIs(t, err, bot.ErrAlreadyRunning)
	after, _ := f.reg.Get(idx)
	assert.Equal(t, before.PIDValue(), after.PIDValue(), "state must not change")
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sup.Start(ctx, 7)
	require.ErrorIs(t, err, bot.ErrNotFound)
	assert.Equal(t, "Bot not found", err.Error())

	noEnv := f.writeBot("noenv", sleeper, false)
	_, err = f.sup.Add(ctx, noEnv)
	require.NoError(t, err)
	_, err = f.sup.Start(ctx, 0)
	require.ErrorIs(t, err, bot.ErrEnvironmentMissing)
	assert.Contains(t, err.Error(), "python -m venv venv")

	broken := f.writeBot("broken", sleeper, false)
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "broken", ".venv"), 0o755))
	_, err = f.sup.Add(ctx, broken)
	require.NoError(t, err)
	_, err = f.sup.Start(ctx, 1)
	require.ErrorIs(t, err, bot.ErrRuntimeMissing)

	gone := f.writeBot("gone", sleeper, true)
	_, err = f.sup.Add(ctx, gone)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))
	_, err = f.sup.Start(ctx, 2)
	require.ErrorIs(t, err, bot.ErrFileMissing)

	for i := 0; i < f.reg.Len(); i++ {
		b, _ := f.reg.Get(i)
		assert.False(t, b.Running, "failed starts leave %s stopped", b.Name)
	}
}

func TestStartSpawnFailure(t *testing.T) {
	f := newFixture(t)
	entry := f.writeBot("noexec", sleeper, false)
	bin := filepath.Join(f.dir, "noexec", "venv", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python"), []byte("not a binary"), 0o644))
	_, err := f.sup.Add(context.Background(), entry)
	require.NoError(t, err)

	_, err = f.sup.Start(context.Background(), 0)
	require.ErrorIs(t, err, bot.ErrSpawnFailed)
	assert.True(t, strings.HasPrefix(err.Error(), "Error starting bot: "))
	b, _ := f.reg.Get(0)
	assert.False(t, b.Running)
}

func TestStopEscalatesToKill(t *testing.T) {
	f := newFixture(t, WithGracePeriod(300*time.Millisecond))
	ctx := context.Background()
	idx := f.addBot("stubborn", stubborn)

	_, err := f.sup.Start(ctx, idx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hasEntry(f.ring, "stubborn", "ready") }, 5*time.Second, 20*time.Millisecond)
	b, _ := f.reg.Get(idx)

	began := time.Now()
	msg, err := f.sup.Stop(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "Bot stopped", msg)
	assert.GreaterOrEqual(t, time.Since(began), 300*time.Millisecond, "waited out the grace period")
	assert.False(t, process.Alive(b.PIDValue()))
}

func TestStopProcessAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	st, err := jsonfile.New(filepath.Join(dir, "bots_config.json"))
	require.NoError(t, err)
	ghost := bot.New("/bots/ghost/main.py")
	ghost.MarkRunning(99999999)
	require.NoError(t, st.Save(context.Background(), []bot.Bot{ghost}))

	// keep the stale descriptor through Load so Stop sees it
	reg := registry.New(st, registry.WithProber(func(int) bool { return true }))
	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	sup := New(reg, logring.New(10))

	ring := sup.Ring()
	msg, err := sup.Stop(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Bot was not running", msg)
	assert.True(t, hasEntry(ring, "ghost", "Stopped"))
	b, _ := reg.Get(0)
	assert.False(t, b.Running)
	assert.Nil(t, b.PID)

	onDisk, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, onDisk[0].Running)
}

// ctxStore refuses to save once the caller's context is done, like the SQL stores.
type ctxStore struct {
	store.Store
}

func (c ctxStore) Save(ctx context.Context, bots []bot.Bot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.Save(ctx, bots)
}

func TestStopPersistsAfterCallerCancels(t *testing.T) {
	dir := t.TempDir()
	js, err := jsonfile.New(filepath.Join(dir, "bots_config.json"))
	require.NoError(t, err)
	st := ctxStore{js}
	reg := registry.New(st)
	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	ring := logring.New(100)
	sup := New(reg, ring, WithGracePeriod(2*time.Second))
	t.Cleanup(func() {
		_ = sup.StopAll(context.Background())
		sup.Wait()
	})
	f := &fixture{t: t, dir: dir, reg: reg, sup: sup, ring: ring}
	idx := f.addBot("echo", sleeper)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = sup.Start(ctx, idx)
	require.NoError(t, err)
	cancel()

	msg, err := sup.Stop(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "Bot stopped", msg)
	assert.True(t, hasEntry(ring, "echo", "Stopped"))

	onDisk, err := js.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, onDisk, 1)
	assert.False(t, onDisk[0].Running)
	assert.Nil(t, onDisk[0].PID)
}

func TestStartCorrectsSilentlyDeadBot(t *testing.T) {
	dir := t.TempDir()
	st, err := jsonfile.New(filepath.Join(dir, "bots_config.json"))
	require.NoError(t, err)
	f := &fixture{t: t, dir: dir}
	entry := f.writeBot("echo", sleeper, true)
	stale := bot.New(entry)
	stale.MarkRunning(99999999)
	require.NoError(t, st.Save(context.Background(), []bot.Bot{stale}))

	reg := registry.New(st, registry.WithProber(func(int) bool { return true }))
	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	sup := New(reg, logring.New(10))
	t.Cleanup(func() {
		_ = sup.StopAll(context.Background())
		sup.Wait()
	})

	_, err = sup.Start(context.Background(), 0)
	require.NoError(t, err)
	b, _ := reg.Get(0)
	assert.True(t, b.Running)
	assert.NotEqual(t, 99999999, b.PIDValue())
}

func TestListReconcilesExitedBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	idx := f.addBot("brief", shortLife)

	_, err := f.sup.Start(ctx, idx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		bots, err := f.sup.List(ctx)
		return err == nil && !bots[idx].Running && bots[idx].PID == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool { return hasEntry(f.ring, "brief", "bye") }, 5*time.Second, 20*time.Millisecond)

	_, err = f.sup.Stop(ctx, idx)
	require.ErrorIs(t, err, bot.ErrNotRunning)
}

func TestRemoveShiftsHandles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addBot("a", sleeper)
	f.addBot("b", sleeper)
	c := f.addBot("c", sleeper)

	_, err := f.sup.Start(ctx, c)
	require.NoError(t, err)
	running, _ := f.reg.Get(c)

	msg, err := f.sup.Remove(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bot deleted", msg)
	assert.True(t, hasEntry(f.ring, logring.SourceManager, "Bot deleted: a"))

	moved, err := f.reg.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "c", moved.Name)
	assert.Equal(t, running.PIDValue(), moved.PIDValue())

	_, err = f.sup.Start(ctx, 1)
	require.ErrorIs(t, err, bot.ErrAlreadyRunning, "handle followed the bot to its new index")

	// removing a running bot stops it first
	_, err = f.sup.Remove(ctx, 1)
	require.NoError(t, err)
	assert.False(t, process.Alive(running.PIDValue()))
	assert.Equal(t, 1, f.reg.Len())

	_, err = f.sup.Remove(ctx, 5)
	require.ErrorIs(t, err, bot.ErrOutOfRange)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addBot("a", sleeper)
	b := f.addBot("b", sleeper)
	_, err := f.sup.Start(ctx, a)
	require.NoError(t, err)
	_, err = f.sup.Start(ctx, b)
	require.NoError(t, err)
	assert.Len(t, f.sup.Targets(), 2)

	require.NoError(t, f.sup.StopAll(ctx))
	for _, bb := range f.reg.List() {
		assert.False(t, bb.Running)
	}
	assert.Empty(t, f.sup.Targets())
	f.sup.Wait()
}

func TestAddRejectsBadPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.sup.Add(context.Background(), filepath.Join(f.dir, "missing", "main.py"))
	require.ErrorIs(t, err, bot.ErrNotFound)
	_, err = f.sup.Add(context.Background(), "")
	require.ErrorIs(t, err, bot.ErrPathRequired)
	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, 0, f.ring.Len())
}
