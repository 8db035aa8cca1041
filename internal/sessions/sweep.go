package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

// AgentDirectory resolves agent configuration for the sweep.
type AgentDirectory interface {
	Agent(ctx context.Context, id string) (*models.Agent, error)
}

// Sweeper closes sessions whose expiry boundary passed without further
// inbound traffic. Expiry is also evaluated lazily on message arrival; the
// sweep only bounds how stale an abandoned session can get.
type Sweeper struct {
	manager *Manager
	agents  AgentDirectory
	logger  *slog.Logger

	// batchSize limits sessions examined per page.
	batchSize int

	// grace delays sweep-side closure past the boundary so a message
	// arriving at the boundary is resolved lazily, not raced.
	grace time.Duration
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	BatchSize int
	Grace     time.Duration
	Logger    *slog.Logger
}

// DefaultSweeperConfig returns production sweep settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		BatchSize: 200,
		Grace:     10 * time.Second,
		Logger:    slog.Default(),
	}
}

// NewSweeper creates a session expiry sweeper.
func NewSweeper(manager *Manager, agents AgentDirectory, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		manager:   manager,
		agents:    agents,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		grace:     cfg.Grace,
	}
}

// Sweep walks open sessions in bounded batches and closes the ones past
// their boundary. It returns how many sessions it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	closed := 0
	offset := 0
	for {
		batch, err := s.manager.Store().ListOpen(ctx, s.batchSize, offset)
		if err != nil {
			return closed, err
		}
		if len(batch) == 0 {
			return closed, nil
		}
		batchClosed := 0
		for _, session := range batch {
			did, err := s.sweepOne(ctx, session)
			if err != nil {
				if ctx.Err() != nil {
					return closed, ctx.Err()
				}
				s.logger.Warn("sweep skipped session",
					"session_id", session.ID, "error", err)
				continue
			}
			if did {
				batchClosed++
			}
		}
		closed += batchClosed
		if len(batch) < s.batchSize {
			return closed, nil
		}
		// Sessions this batch closed left the open set, so only advance
		// past the survivors.
		offset += len(batch) - batchClosed
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, session *models.Session) (bool, error) {
	agent, err := s.agents.Agent(ctx, session.AgentID)
	if err != nil {
		return false, err
	}

	// Evaluate against a shifted clock so sessions inside the grace window
	// are left for lazy expiry.
	asOf := s.manager.now().Add(-s.grace)
	reason, due := expiryDue(session, agent, asOf)
	if !due {
		return false, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.manager.Lock(lockCtx, session.ID); err != nil {
		// Contended means a message handler is active; it will expire the
		// session itself if needed.
		if errors.Is(err, ErrLockTimeout) {
			return false, nil
		}
		return false, err
	}
	defer s.manager.Unlock(session.ID)

	// Re-read under the lock; a message may have arrived since listing.
	current, err := s.manager.Store().Get(ctx, session.ID)
	if err != nil {
		return false, err
	}
	if !current.Open() {
		return false, nil
	}
	reason, due = expiryDue(current, agent, asOf)
	if !due {
		return false, nil
	}
	if err := s.manager.Close(ctx, agent, current, reason); err != nil {
		return false, err
	}
	return true, nil
}
