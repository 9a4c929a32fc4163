package metrics

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one CPU/memory sample of a running bot.
type Usage struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceCollector samples CPU and memory of running bots with gopsutil and
// exports them as gauges labelled by bot index and name.
type ResourceCollector struct {
	interval time.Duration
	logger   *slog.Logger

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec

	mu      sync.RWMutex
	latest  map[int]Usage
	handles map[int32]*process.Process
}

// NewResourceCollector returns a collector sampling every interval (default 15s).
func NewResourceCollector(interval time.Duration, logger *slog.Logger) *ResourceCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	labels := []string{"index", "name"}
	return &ResourceCollector{
		interval: interval,
		logger:   logger,
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "botvisor", Subsystem: "bot", Name: "cpu_percent",
			Help: "CPU usage percentage of the bot process.",
		}, labels),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "botvisor", Subsystem: "bot", Name: "memory_rss_bytes",
			Help: "Resident set size of the bot process.",
		}, labels),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "botvisor", Subsystem: "bot", Name: "threads",
			Help: "Number of OS threads of the bot process.",
		}, labels),
		latest:  make(map[int]Usage),
		handles: make(map[int32]*process.Process),
	}
}

// RegisterMetrics registers the collector's gauges.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpu, c.rss, c.threads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Target is a running bot to sample.
type Target struct {
	Index int
	Name  string
	PID   int32
}

// Run samples targets() every interval until ctx is done.
func (c *ResourceCollector) Run(ctx context.Context, targets func() []Target) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	c.Collect(targets())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Collect(targets())
		}
	}
}

// Collect takes one sample of every target and drops gauges of bots that are gone.
func (c *ResourceCollector) Collect(targets []Target) {
	now := time.Now()
	next := make(map[int]Usage, len(targets))
	seen := make(map[int32]bool, len(targets))
	for _, tg := range targets {
		u, err := c.sample(tg, now)
		if err != nil {
			c.logger.Debug("resource sample failed", "bot", tg.Name, "pid", tg.PID, "error", err)
			continue
		}
		seen[tg.PID] = true
		next[tg.Index] = u
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, old := range c.latest {
		if nu, ok := next[idx]; !ok || nu.Name != old.Name {
			c.deleteLabels(idx, old.Name)
		}
	}
	for pid := range c.handles {
		if !seen[pid] {
			delete(c.handles, pid)
		}
	}
	for idx, u := range next {
		lv := []string{strconv.Itoa(idx), u.Name}
		c.cpu.WithLabelValues(lv...).Set(u.CPUPercent)
		c.rss.WithLabelValues(lv...).Set(float64(u.MemoryRSS))
		c.threads.WithLabelValues(lv...).Set(float64(u.NumThreads))
	}
	c.latest = next
}

func (c *ResourceCollector) deleteLabels(idx int, name string) {
	lv := []string{strconv.Itoa(idx), name}
	c.cpu.DeleteLabelValues(lv...)
	c.rss.DeleteLabelValues(lv...)
	c.threads.DeleteLabelValues(lv...)
}

func (c *ResourceCollector) sample(tg Target, now time.Time) (Usage, error) {
	c.mu.RLock()
	p := c.handles[tg.PID]
	c.mu.RUnlock()
	if p == nil {
		var err error
		// a cached handle makes CPUPercent report usage since the previous sample
		p, err = process.NewProcess(tg.PID)
		if err != nil {
			return Usage{}, err
		}
		c.mu.Lock()
		c.handles[tg.PID] = p
		c.mu.Unlock()
	}
	u := Usage{PID: tg.PID, Name: tg.Name, Timestamp: now}
	if cpu, err := p.Percent(0); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u.MemoryRSS = mem.RSS
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}

// Latest returns the most recent sample of the bot at index.
func (c *ResourceCollector) Latest(index int) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[index]
	return u, ok
}
