// Package memguard gates memory-hungry operations behind a live view of
// process memory pressure.
package memguard

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Tier buckets the current memory pressure.
type Tier string

// Pressure tiers, lowest to highest.
const (
	TierNormal    Tier = "normal"
	TierWarning   Tier = "warning"
	TierCritical  Tier = "critical"
	TierEmergency Tier = "emergency"
)

// Evictor force-releases live browser instances under pressure.
type Evictor interface {
	EvictOldest(count int) int
	EvictAll() int
}

// CacheFlusher drops the working cache at the emergency tier.
type CacheFlusher interface {
	Flush(ctx context.Context)
}

// Config controls guard thresholds and sampling cadence.
type Config struct {
	WarningPercent   float64
	CriticalPercent  float64
	EmergencyPercent float64
	SampleInterval   time.Duration
	PollInterval     time.Duration
	ReclaimSettle    time.Duration
	TrendWindow      int
}

func (c *Config) applyDefaults() {
	if c.WarningPercent <= 0 {
		c.WarningPercent = 70
	}
	if c.CriticalPercent <= 0 {
		c.CriticalPercent = 80
	}
	if c.EmergencyPercent <= 0 {
		c.EmergencyPercent = 90
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReclaimSettle <= 0 {
		c.ReclaimSettle = 100 * time.Millisecond
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 720
	}
}

// Guard samples process memory and exposes blocking admission helpers.
// The trend buffer is the only shared mutable state, protected by one mutex.
type Guard struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	samples   []scanner.MemorySample
	emergency bool
	paused    bool

	usageFn     func() (float64, error)
	instancesFn func() int

	reclaimMu sync.Mutex

	evictor Evictor
	flusher CacheFlusher
}

// New builds a Guard reading the current process via gopsutil.
func New(cfg Config, logger *zap.Logger) (*Guard, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	g := &Guard{
		cfg:    cfg,
		logger: logger,
	}
	g.usageFn = func() (float64, error) {
		pct, err := proc.MemoryPercent()
		if err != nil {
			return 0, fmt.Errorf("read memory percent: %w", err)
		}
		return float64(pct), nil
	}
	g.instancesFn = func() int { return 0 }
	return g, nil
}

// NewWithUsage builds a Guard with an injected usage function. Used by tests
// and by callers that meter something other than RSS.
func NewWithUsage(cfg Config, usage func() (float64, error), logger *zap.Logger) *Guard {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		cfg:         cfg,
		logger:      logger,
		usageFn:     usage,
		instancesFn: func() int { return 0 },
	}
}

// SetEvictor registers the instance pool used by the pressure handlers.
func (g *Guard) SetEvictor(e Evictor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictor = e
	g.instancesFn = func() int {
		if p, ok := e.(interface{ Active() int }); ok {
			return p.Active()
		}
		return 0
	}
}

// SetCacheFlusher registers the working cache flushed at the emergency tier.
func (g *Guard) SetCacheFlusher(f CacheFlusher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flusher = f
}

// SampleUsage returns the current process memory percentage and appends a
// sample to the trend buffer. Read failures return the last known sample.
func (g *Guard) SampleUsage() float64 {
	pct, err := g.usageFn()
	if err != nil {
		g.logger.Warn("memory sample failed", zap.Error(err))
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.samples) == 0 {
			return 0
		}
		return g.samples[len(g.samples)-1].Percent
	}

	g.mu.Lock()
	g.samples = append(g.samples, scanner.MemorySample{
		At:              time.Now().UTC(),
		Percent:         pct,
		ActiveInstances: g.instancesFn(),
	})
	if len(g.samples) > g.cfg.TrendWindow {
		g.samples = g.samples[len(g.samples)-g.cfg.TrendWindow:]
	}
	g.mu.Unlock()

	metrics.SetMemoryPercent(pct)
	return pct
}

// IsSafe reports whether current usage is strictly below the threshold.
func (g *Guard) IsSafe(thresholdPercent float64) bool {
	return g.SampleUsage() < thresholdPercent
}

// Tier classifies a usage percentage, honoring emergency hysteresis: once
// the guard enters emergency it stays there until usage drops below the
// critical boundary. Instance admission has its own hysteresis: it pauses at
// critical and resumes only below warning, so bursty page loads do not make
// the gate oscillate.
func (g *Guard) Tier(pct float64) Tier {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pct >= g.cfg.CriticalPercent {
		g.paused = true
	} else if pct < g.cfg.WarningPercent {
		g.paused = false
	}

	if g.emergency {
		if pct < g.cfg.CriticalPercent {
			g.emergency = false
			return g.tierOf(pct)
		}
		return TierEmergency
	}
	tier := g.tierOf(pct)
	if tier == TierEmergency {
		g.emergency = true
	}
	return tier
}

// CurrentTier samples usage and classifies it.
func (g *Guard) CurrentTier() Tier {
	return g.Tier(g.SampleUsage())
}

// admissionSafe samples usage, updates hysteresis state, and reports whether
// new instance admission may proceed.
func (g *Guard) admissionSafe() bool {
	pct := g.SampleUsage()
	g.Tier(pct)
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.paused
}

func (g *Guard) tierOf(pct float64) Tier {
	switch {
	case pct >= g.cfg.EmergencyPercent:
		return TierEmergency
	case pct >= g.cfg.CriticalPercent:
		return TierCritical
	case pct >= g.cfg.WarningPercent:
		return TierWarning
	default:
		return TierNormal
	}
}

// WaitForHeadroom blocks until instance admission is safe or the timeout
// elapses, forcing reclamation between polls. Admission is re-evaluated on
// every call, so decisions are never stale.
func (g *Guard) WaitForHeadroom(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if g.admissionSafe() {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("headroom wait: %w", ctx.Err())
		}
		if time.Now().After(deadline) {
			pct := g.SampleUsage()
			g.logger.Warn("memory headroom wait timed out", zap.Float64("percent", pct))
			return fmt.Errorf("usage %.1f%% after %s: %w", pct, timeout, scanner.ErrMemoryExhausted)
		}

		g.ForceReclaim()

		wait := g.cfg.PollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("headroom wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// ForceReclaim triggers garbage collection and returns freed pages to the
// OS, blocking briefly to let it take effect. Safe under contention.
func (g *Guard) ForceReclaim() {
	g.reclaimMu.Lock()
	defer g.reclaimMu.Unlock()

	runtime.GC()
	debug.FreeOSMemory()
	time.Sleep(g.cfg.ReclaimSettle)
}

// Trend returns a copy of the retained memory samples, oldest first.
func (g *Guard) Trend() []scanner.MemorySample {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]scanner.MemorySample, len(g.samples))
	copy(out, g.samples)
	return out
}

// Run samples periodically and drives the tier handlers until ctx finishes.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.handlePressure(ctx, g.SampleUsage())
		}
	}
}

func (g *Guard) handlePressure(ctx context.Context, pct float64) {
	tier := g.Tier(pct)

	g.mu.Lock()
	evictor := g.evictor
	flusher := g.flusher
	g.mu.Unlock()

	switch tier {
	case TierEmergency:
		g.logger.Error("memory emergency, terminating all instances", zap.Float64("percent", pct))
		if evictor != nil {
			evicted := evictor.EvictAll()
			metrics.ObserveEvictions(evicted)
		}
		if flusher != nil {
			flusher.Flush(ctx)
		}
		g.ForceReclaim()
	case TierCritical:
		g.logger.Warn("memory critical, evicting oldest instance", zap.Float64("percent", pct))
		if evictor != nil {
			evicted := evictor.EvictOldest(1)
			metrics.ObserveEvictions(evicted)
		}
		g.ForceReclaim()
	case TierWarning:
		g.logger.Warn("memory warning", zap.Float64("percent", pct))
	case TierNormal:
	}
}
