// Package daemon runs the background jobs of a serving relay: a periodic
// liveness probe of the bridge and pruning of expired tokens.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/pagerelay/internal/metrics"
)

// Pinger checks whether the bridge is alive.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// Pruner removes expired tokens.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}

// MonitorConfig configures the monitor. Schedules use cron syntax with a
// leading seconds field; an empty schedule disables the job.
type MonitorConfig struct {
	ProbeSchedule string // default: every 30 seconds
	PruneSchedule string // default: every 10 minutes
	Pinger        Pinger
	Pruner        Pruner
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Monitor schedules the probe and prune jobs.
type Monitor struct {
	cfg       MonitorConfig
	scheduler *cronlib.Cron
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	lastUp  *bool
}

// NewMonitor creates a monitor and registers its jobs.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.ProbeSchedule == "" && cfg.Pinger != nil {
		cfg.ProbeSchedule = "*/30 * * * * *"
	}
	if cfg.PruneSchedule == "" && cfg.Pruner != nil {
		cfg.PruneSchedule = "0 */10 * * * *"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		cfg:       cfg,
		scheduler: cronlib.New(cronlib.WithSeconds()),
		logger:    logger.With("component", "monitor"),
		now:       time.Now,
		ctx:       context.Background(),
	}
	if cfg.Pinger != nil {
		if _, err := m.scheduler.AddFunc(cfg.ProbeSchedule, func() { m.RunProbe(m.context()) }); err != nil {
			return nil, fmt.Errorf("probe schedule %q: %w", cfg.ProbeSchedule, err)
		}
	}
	if cfg.Pruner != nil {
		if _, err := m.scheduler.AddFunc(cfg.PruneSchedule, func() { m.RunPrune(m.context()) }); err != nil {
			return nil, fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	return m, nil
}

func (m *Monitor) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Start runs the jobs on their schedules until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.scheduler.Start()
	m.logger.Info("monitor started", "probe", m.cfg.ProbeSchedule, "prune", m.cfg.PruneSchedule)
}

// Stop halts scheduling and waits for running jobs to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()
	<-m.scheduler.Stop().Done()
}

// RunProbe pings the bridge once and records the result.
func (m *Monitor) RunProbe(ctx context.Context) bool {
	up := m.cfg.Pinger.Ping(ctx)
	m.cfg.Metrics.SetBridgeUp(up)

	m.mu.Lock()
	changed := m.lastUp == nil || *m.lastUp != up
	m.lastUp = &up
	m.mu.Unlock()
	if changed {
		m.logger.Info("bridge liveness changed", "up", up)
	}
	return up
}

// RunPrune removes expired tokens once.
func (m *Monitor) RunPrune(ctx context.Context) int {
	n, err := m.cfg.Pruner.Prune(ctx, m.now())
	if err != nil {
		m.logger.Warn("token prune failed", "error", err)
		return 0
	}
	if n > 0 {
		m.logger.Info("pruned expired tokens", "count", n)
	}
	return n
}
