// Package sessions implements the session lifecycle: lazy creation per
// (agent, channel, contact) tuple, idle/age expiry, resume with injected
// summary, asynchronous summarization on close, and the background sweep
// that bounds staleness without inbound traffic.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

var (
	// ErrNotFound means the session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrLockTimeout means the session lock could not be acquired in time.
	ErrLockTimeout = errors.New("session lock timeout")
)

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error

	// GetByKey returns the most recent session for a tuple key regardless
	// of status, or ErrNotFound. The caller decides whether a closed or
	// expired result means "reopen fresh" or "resume".
	GetByKey(ctx context.Context, key string) (*models.Session, error)

	// ListOpen returns open (active/resumed) sessions in bounded batches
	// for the expiry sweep, ordered by last message time ascending.
	ListOpen(ctx context.Context, limit int, offset int) ([]*models.Session, error)

	// AppendMessage records a message for a session.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// History returns the last limit messages, oldest first.
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// SessionKey builds the unique key for an (agent, channel, contact) tuple.
func SessionKey(agentID string, channel models.ChannelType, contactID string) string {
	return agentID + ":" + string(channel) + ":" + contactID
}

// Locker provides a process-safe session lock. Per-session execution is
// serialized through it: two concurrent messages for the same session must
// not race on state transitions or credit deduction.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// Clock is the test seam for time.
type Clock func() time.Time
