package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/crew/internal/credits"
	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/pkg/models"
)

type staticAgents map[string]*models.Agent

func (s staticAgents) Agent(ctx context.Context, id string) (*models.Agent, error) {
	agent, ok := s[id]
	if !ok {
		return nil, errors.New("unknown agent")
	}
	return agent, nil
}

func TestSweepJobReportsClosures(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agent := &models.Agent{
		ID:    "agent-1",
		OrgID: "org-1",
		Session: models.SessionPolicy{
			IdleTTL:     30 * time.Minute,
			MaxDuration: 24 * time.Hour,
		},
	}
	manager := sessions.NewManager(sessions.NewMemoryStore(), sessions.NewLocalLocker(),
		sessions.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	if _, err := manager.Resolve(ctx, agent, models.ChannelWebchat, "contact-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	now = now.Add(agent.Session.IdleTTL + time.Minute)

	sweeper := sessions.NewSweeper(manager, staticAgents{agent.ID: agent},
		sessions.SweeperConfig{BatchSize: 10, Grace: time.Second})

	var reported int
	job := SweepJob(sweeper, "@every 5m", nil, func(n int) { reported += n })
	if job.Name != "session-sweep" {
		t.Errorf("job name = %q", job.Name)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reported != 1 {
		t.Errorf("reported closures = %d, want 1", reported)
	}

	// A run that closes nothing must not invoke the callback.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reported != 1 {
		t.Errorf("reported closures = %d after idle run, want 1", reported)
	}
}

func TestPruneJobDeletesOldEntries(t *testing.T) {
	ledger := credits.NewMemoryLedgerStore()
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -120).Format("2006-01-02")
	recent := time.Now().UTC().Format("2006-01-02")
	if _, err := ledger.Record(ctx, "parent", "child", old, 5); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := ledger.Record(ctx, "parent", "child", recent, 5); err != nil {
		t.Fatalf("Record: %v", err)
	}

	job := PruneJob(ledger, "@daily", nil)
	if job.Name != "ledger-prune" {
		t.Errorf("job name = %q", job.Name)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gone, err := ledger.ChildConsumed(ctx, "parent", "child", old)
	if err != nil {
		t.Fatalf("ChildConsumed: %v", err)
	}
	if gone != 0 {
		t.Errorf("old entry consumed = %d, want 0 after prune", gone)
	}
	kept, err := ledger.ChildConsumed(ctx, "parent", "child", recent)
	if err != nil {
		t.Fatalf("ChildConsumed: %v", err)
	}
	if kept != 5 {
		t.Errorf("recent entry consumed = %d, want 5", kept)
	}
}
