package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/memguard"
	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// Config controls pool sizing and per-instance limits.
type Config struct {
	MaxInstances     int
	InstanceMemoryMB int
	HeadroomTimeout  time.Duration
	UserAgent        string
}

func (c *Config) applyDefaults() {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 5
	}
	if c.InstanceMemoryMB <= 0 {
		c.InstanceMemoryMB = 512
	}
	if c.HeadroomTimeout <= 0 {
		c.HeadroomTimeout = 30 * time.Second
	}
}

// Pool bounds the number of concurrently live browser instances behind the
// memory guard's admission gate. The capacity semaphore and the live map are
// the pool's only shared mutable state.
type Pool struct {
	cfg    Config
	guard  *memguard.Guard
	idGen  scanner.IDGenerator
	logger *zap.Logger

	slots chan struct{}

	mu   sync.Mutex
	live map[string]*Instance

	// launchFn is swapped out by tests to avoid spawning Chrome.
	launchFn func(id string, memoryMB int, userAgent string) *Instance
}

// NewPool constructs a Pool gated by the given guard.
func NewPool(cfg Config, guard *memguard.Guard, idGen scanner.IDGenerator, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:      cfg,
		guard:    guard,
		idGen:    idGen,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxInstances),
		live:     make(map[string]*Instance),
		launchFn: launch,
	}
	if guard != nil {
		guard.SetEvictor(p)
	}
	return p
}

// Acquire blocks until a pool slot is free and the memory guard reports
// headroom, or ctx finishes. The two-stage gate means work the pool has room
// for is still refused when the machine lacks memory for it; the admission
// decision is re-evaluated immediately before instance creation.
func (p *Pool) Acquire(ctx context.Context) (scanner.Instance, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("pool slot wait: %w: %w", scanner.ErrCapacityUnavailable, ctx.Err())
	}

	if p.guard != nil {
		if err := p.guard.WaitForHeadroom(ctx, p.cfg.HeadroomTimeout); err != nil {
			<-p.slots
			return nil, fmt.Errorf("%w: %w", scanner.ErrCapacityUnavailable, err)
		}
	}

	id, err := p.idGen.NewID()
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("instance id: %w", err)
	}

	inst := p.launchFn(id, p.cfg.InstanceMemoryMB, p.cfg.UserAgent)

	p.mu.Lock()
	p.live[inst.id] = inst
	active := len(p.live)
	p.mu.Unlock()

	metrics.SetActiveInstances(active)
	p.logger.Debug("browser instance acquired",
		zap.String("instance_id", inst.id),
		zap.Int("active", active),
	)
	return inst, nil
}

// Release tears the instance down, frees its slot, and triggers one forced
// reclamation. Instances are never reused across scans: browser processes
// leak on repeated navigation.
func (p *Pool) Release(inst scanner.Instance) {
	if inst == nil {
		return
	}
	concrete, ok := inst.(*Instance)
	if !ok {
		return
	}

	p.mu.Lock()
	_, tracked := p.live[concrete.id]
	if tracked {
		delete(p.live, concrete.id)
	}
	active := len(p.live)
	p.mu.Unlock()

	concrete.close()

	// An evicted instance already gave its slot back; releasing it again
	// must not free a slot the owner never held.
	if tracked {
		select {
		case <-p.slots:
		default:
		}
		if p.guard != nil {
			p.guard.ForceReclaim()
		}
	}

	metrics.SetActiveInstances(active)
	p.logger.Debug("browser instance released",
		zap.String("instance_id", concrete.id),
		zap.Int("active", active),
	)
}

// EvictOldest force-terminates up to count of the longest-lived instances,
// oldest first: they are the most likely to have leaked. Returns the number
// evicted.
func (p *Pool) EvictOldest(count int) int {
	p.mu.Lock()
	victims := make([]*Instance, 0, len(p.live))
	for _, inst := range p.live {
		victims = append(victims, inst)
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].createdAt.Before(victims[j].createdAt)
	})
	if count < len(victims) {
		victims = victims[:count]
	}
	for _, inst := range victims {
		delete(p.live, inst.id)
	}
	active := len(p.live)
	p.mu.Unlock()

	for _, inst := range victims {
		inst.close()
		select {
		case <-p.slots:
		default:
		}
		p.logger.Warn("evicted browser instance",
			zap.String("instance_id", inst.id),
			zap.Time("created_at", inst.createdAt),
		)
	}
	metrics.SetActiveInstances(active)
	return len(victims)
}

// EvictAll force-terminates every live instance. Used by the emergency tier.
func (p *Pool) EvictAll() int {
	return p.EvictOldest(int(^uint(0) >> 1))
}

// Active returns the number of live instances.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Close evicts everything. Intended for shutdown.
func (p *Pool) Close() {
	p.EvictAll()
}
