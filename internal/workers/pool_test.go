package workers

import (
	"testing"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

func poolTemplate() *models.Agent {
	return &models.Agent{
		ID:        "sys-concierge",
		Name:      "Concierge",
		Subtype:   models.SubtypeSupport,
		Active:    true,
		Protected: true,
	}
}

func TestNewPoolRejectsMutableTemplate(t *testing.T) {
	template := poolTemplate()
	template.Protected = false
	if _, err := NewPool(template, DefaultPoolConfig()); err != ErrTemplateMutable {
		t.Errorf("err = %v, want ErrTemplateMutable", err)
	}
}

func TestAcquireClonesUpToCap(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxWorkers = 3
	pool, err := NewPool(poolTemplate(), cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		agent := pool.Acquire()
		if agent.Protected {
			t.Error("clone must not be protected")
		}
		if agent.ID == "sys-concierge" {
			t.Error("clone must get its own ID")
		}
		seen[agent.ID] = true
	}
	if len(seen) != 3 || pool.Size() != 3 {
		t.Errorf("distinct workers = %d, size = %d, want 3", len(seen), pool.Size())
	}

	// At the cap: Acquire reuses instead of cloning.
	agent := pool.Acquire()
	if !seen[agent.ID] {
		t.Error("acquire over cap created a new worker")
	}
	if pool.Size() != 3 {
		t.Errorf("size = %d, want 3", pool.Size())
	}
}

func TestAcquireRoutesLeastRecentlyUsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cfg := DefaultPoolConfig()
	cfg.MaxWorkers = 2
	pool, _ := NewPool(poolTemplate(), cfg)
	pool.now = func() time.Time { return now }

	first := pool.Acquire()
	now = now.Add(time.Minute)
	second := pool.Acquire()
	now = now.Add(time.Minute)

	// first is now the LRU worker.
	got := pool.Acquire()
	if got.ID != first.ID {
		t.Errorf("acquired %q, want LRU worker %q", got.ID, first.ID)
	}

	now = now.Add(time.Minute)
	got = pool.Acquire()
	if got.ID != second.ID {
		t.Errorf("acquired %q, want %q after rotation", got.ID, second.ID)
	}
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cfg := DefaultPoolConfig()
	cfg.MaxWorkers = 2
	cfg.IdleTimeout = 10 * time.Minute
	pool, _ := NewPool(poolTemplate(), cfg)
	pool.now = func() time.Time { return now }

	busy := pool.Acquire()
	pool.Acquire()

	now = now.Add(9 * time.Minute)
	pool.Touch(busy.ID)

	now = now.Add(2 * time.Minute)
	if evicted := pool.EvictIdle(); evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if pool.Size() != 1 {
		t.Errorf("size = %d, want 1", pool.Size())
	}
}
