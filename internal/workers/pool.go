// Package workers replaces singleton system agents with a pool of
// ephemeral workers cloned from a frozen template.
package workers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/crew/pkg/models"
)

const (
	// DefaultMaxWorkers caps live clones per template.
	DefaultMaxWorkers = 8

	// DefaultIdleTimeout retires a worker after this much inactivity.
	DefaultIdleTimeout = 15 * time.Minute
)

// ErrTemplateMutable rejects templates that are not protected; a template
// must be immutable while clones of it are live.
var ErrTemplateMutable = errors.New("worker template must be a protected agent")

// Worker is one addressable clone of the template.
type Worker struct {
	Agent    *models.Agent
	LastUsed time.Time
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxWorkers  int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultPoolConfig returns production pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:  DefaultMaxWorkers,
		IdleTimeout: DefaultIdleTimeout,
		Logger:      slog.Default(),
	}
}

// Pool manages ephemeral workers cloned from one frozen template. Routing
// is least-recently-used: a request reuses the LRU idle worker, cloning a
// new one only while under the cap.
type Pool struct {
	template *models.Agent
	cfg      PoolConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	workers map[string]*Worker
	clones  int
}

// NewPool creates a worker pool for a protected template agent.
func NewPool(template *models.Agent, cfg PoolConfig) (*Pool, error) {
	if !template.Protected {
		return nil, ErrTemplateMutable
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		template: template,
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      time.Now,
		workers:  map[string]*Worker{},
	}, nil
}

// Acquire returns a worker agent for one unit of work. Under the cap a new
// clone is created; at the cap the least-recently-used worker is reused.
func (p *Pool) Acquire() *models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	if len(p.workers) < p.cfg.MaxWorkers {
		worker := p.clone(now)
		p.workers[worker.Agent.ID] = worker
		p.logger.Debug("worker cloned",
			"template", p.template.ID, "worker", worker.Agent.ID,
			"live", len(p.workers))
		return worker.Agent
	}

	lru := p.leastRecentlyUsed()
	lru.LastUsed = now
	return lru.Agent
}

// Touch records use of a worker so idle eviction sees it as active.
func (p *Pool) Touch(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if worker, ok := p.workers[workerID]; ok {
		worker.LastUsed = p.now()
	}
}

// EvictIdle retires workers idle past the timeout and returns how many
// were removed.
func (p *Pool) EvictIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	evicted := 0
	for id, worker := range p.workers {
		if now.Sub(worker.LastUsed) >= p.cfg.IdleTimeout {
			delete(p.workers, id)
			evicted++
		}
	}
	if evicted > 0 {
		p.logger.Info("idle workers retired",
			"template", p.template.ID, "evicted", evicted,
			"live", len(p.workers))
	}
	return evicted
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) clone(now time.Time) *Worker {
	p.clones++
	agent := *p.template
	agent.ID = fmt.Sprintf("%s-w%s", p.template.ID, uuid.NewString()[:8])
	agent.Name = fmt.Sprintf("%s #%d", p.template.Name, p.clones)

	// Clones are working copies, not system agents.
	agent.Protected = false
	agent.Active = true
	agent.CreatedAt = now

	return &Worker{Agent: &agent, LastUsed: now}
}

func (p *Pool) leastRecentlyUsed() *Worker {
	var lru *Worker
	for _, worker := range p.workers {
		if lru == nil || worker.LastUsed.Before(lru.LastUsed) {
			lru = worker
		}
	}
	return lru
}
