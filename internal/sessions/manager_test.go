package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

func testAgent() *models.Agent {
	return &models.Agent{
		ID:    "agent-1",
		OrgID: "org-1",
		Name:  "support",
		Session: models.SessionPolicy{
			IdleTTL:     30 * time.Minute,
			MaxDuration: 24 * time.Hour,
			OnReopen:    models.ReopenFresh,
		},
		Active: true,
	}
}

func newTestManager(opts ...ManagerOption) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, NewLocalLocker(), opts...), store
}

func TestResolveCreatesSession(t *testing.T) {
	m, _ := newTestManager()
	agent := testAgent()

	session, err := m.Resolve(context.Background(), agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if session.Status != models.StatusActive {
		t.Errorf("status = %q, want active", session.Status)
	}
	if session.Key != SessionKey(agent.ID, models.ChannelWhatsApp, "contact-1") {
		t.Errorf("unexpected key %q", session.Key)
	}
	if session.OrgID != agent.OrgID {
		t.Errorf("org = %q, want %q", session.OrgID, agent.OrgID)
	}
}

func TestResolveReturnsExistingOpenSession(t *testing.T) {
	m, _ := newTestManager()
	agent := testAgent()
	ctx := context.Background()

	first, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("got new session %s, want existing %s", second.ID, first.ID)
	}
}

func TestResolveSeparateSessionsPerTuple(t *testing.T) {
	m, _ := newTestManager()
	agent := testAgent()
	ctx := context.Background()

	a, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	b, err := m.Resolve(ctx, agent, models.ChannelWebchat, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.ID == b.ID {
		t.Error("different channels must yield different sessions")
	}
}

func TestIdleExpiryBoundary(t *testing.T) {
	ttl := 30 * time.Minute
	cases := []struct {
		name      string
		idle      time.Duration
		wantNewID bool
	}{
		{"just under ttl", ttl - time.Second, false},
		{"exactly ttl", ttl, true},
		{"past ttl", ttl + time.Second, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			m, store := newTestManager(WithClock(func() time.Time { return now }))
			agent := testAgent()
			ctx := context.Background()

			first, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}

			now = now.Add(tc.idle)
			second, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
			if err != nil {
				t.Fatalf("Resolve after idle: %v", err)
			}

			gotNew := second.ID != first.ID
			if gotNew != tc.wantNewID {
				t.Errorf("new session = %v, want %v", gotNew, tc.wantNewID)
			}
			if tc.wantNewID {
				prior, err := store.Get(ctx, first.ID)
				if err != nil {
					t.Fatalf("Get prior: %v", err)
				}
				if prior.Status != models.StatusClosed {
					t.Errorf("prior status = %q, want closed", prior.Status)
				}
				if prior.CloseReason != models.CloseIdleTimeout {
					t.Errorf("close reason = %q, want idle_timeout", prior.CloseReason)
				}
			}
		})
	}
}

func TestMaxDurationExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, store := newTestManager(WithClock(func() time.Time { return now }))
	agent := testAgent()
	agent.Session.MaxDuration = time.Hour
	ctx := context.Background()

	first, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")

	// Keep the session busy so only max age can trip.
	for i := 0; i < 6; i++ {
		now = now.Add(10 * time.Minute)
		if err := m.Touch(ctx, first); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	second, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("session past max duration must be replaced")
	}
	prior, _ := store.Get(ctx, first.ID)
	if prior.Status != models.StatusExpired {
		t.Errorf("prior status = %q, want expired", prior.Status)
	}
	if prior.CloseReason != models.CloseExpired {
		t.Errorf("close reason = %q, want expired", prior.CloseReason)
	}
}

func TestChannelPolicyOverride(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, _ := newTestManager(WithClock(func() time.Time { return now }))
	agent := testAgent()
	agent.Session.ByChannel = map[models.ChannelType]models.ChannelSessionPolicy{
		models.ChannelWebchat: {IdleTTL: 5 * time.Minute},
	}
	ctx := context.Background()

	web, _ := m.Resolve(ctx, agent, models.ChannelWebchat, "contact-1")
	wa, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")

	now = now.Add(10 * time.Minute)

	webAgain, _ := m.Resolve(ctx, agent, models.ChannelWebchat, "contact-1")
	if webAgain.ID == web.ID {
		t.Error("webchat session should expire under its channel override")
	}
	waAgain, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if waAgain.ID != wa.ID {
		t.Error("whatsapp session should survive under the default TTL")
	}
}

func TestResumeInjectsSummaryVerbatim(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, store := newTestManager(WithClock(func() time.Time { return now }))
	agent := testAgent()
	agent.Session.OnReopen = models.ReopenResume
	ctx := context.Background()

	first, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err := m.Close(ctx, agent, first, models.CloseIdleTimeout); err != nil {
		t.Fatalf("Close: %v", err)
	}
	first.Summary = "Customer asked about a refund for order #1234; refund was issued."
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.Status != models.StatusResumed {
		t.Errorf("status = %q, want resumed", second.Status)
	}
	if second.ResumedFromID != first.ID {
		t.Errorf("resumed_from = %q, want %q", second.ResumedFromID, first.ID)
	}
	if second.InjectedContext != first.Summary {
		t.Errorf("injected context = %q, want summary verbatim", second.InjectedContext)
	}
}

func TestResumeWithoutSummaryCreatesFresh(t *testing.T) {
	m, _ := newTestManager()
	agent := testAgent()
	agent.Session.OnReopen = models.ReopenResume
	ctx := context.Background()

	first, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err := m.Close(ctx, agent, first, models.CloseManual); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// No summary has landed yet, so there is nothing to resume with.
	second, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if second.InjectedContext != "" {
		t.Errorf("injected context = %q, want empty when no summary exists", second.InjectedContext)
	}
	if second.Status != models.StatusActive {
		t.Errorf("status = %q, want active fallback without a summary", second.Status)
	}
	if second.ResumedFromID != "" {
		t.Errorf("resumed_from = %q, want empty", second.ResumedFromID)
	}
}

func TestHandedOffSessionReturnedAsIs(t *testing.T) {
	m, store := newTestManager()
	agent := testAgent()
	ctx := context.Background()

	session, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	session.Status = models.StatusHandedOff
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != session.ID || got.Status != models.StatusHandedOff {
		t.Errorf("got %s/%s, want the handed-off session unchanged", got.ID, got.Status)
	}
}

type recordingSummarizer struct {
	ch chan string
}

func (r *recordingSummarizer) Summarize(ctx context.Context, session *models.Session, history []*models.Message) (string, error) {
	r.ch <- session.ID
	return "summary of " + session.ID, nil
}

func TestCloseSchedulesSummary(t *testing.T) {
	rec := &recordingSummarizer{ch: make(chan string, 1)}
	m, store := newTestManager(WithSummarizer(rec))
	agent := testAgent()
	agent.Session.SummarizeOnClose = true
	ctx := context.Background()

	session, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	session.Stats.MessageCount = minMessagesForSummary
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Close(ctx, agent, session, models.CloseIdleTimeout); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case id := <-rec.ch:
		if id != session.ID {
			t.Errorf("summarized %q, want %q", id, session.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("summarizer was not invoked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Summary != "" {
			if got.Summary != "summary of "+session.ID {
				t.Errorf("summary = %q", got.Summary)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("summary was never written back")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseSkipsSummaryForShortSessions(t *testing.T) {
	rec := &recordingSummarizer{ch: make(chan string, 1)}
	m, store := newTestManager(WithSummarizer(rec))
	agent := testAgent()
	agent.Session.SummarizeOnClose = true
	ctx := context.Background()

	session, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	session.Stats.MessageCount = minMessagesForSummary - 1
	if err := store.Update(ctx, session); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Close(ctx, agent, session, models.CloseIdleTimeout); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-rec.ch:
		t.Error("short session must not be summarized")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCreditCapDefaults(t *testing.T) {
	agent := testAgent()
	if got := CreditCap(agent); got != DefaultSessionCreditCap {
		t.Errorf("CreditCap = %d, want default %d", got, DefaultSessionCreditCap)
	}
	agent.Session.CreditCap = 200
	if got := CreditCap(agent); got != 200 {
		t.Errorf("CreditCap = %d, want 200", got)
	}
}

func TestTouchUpdatesStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, store := newTestManager(WithClock(func() time.Time { return now }))
	agent := testAgent()
	ctx := context.Background()

	session, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	now = now.Add(time.Minute)
	if err := m.Touch(ctx, session); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, _ := store.Get(ctx, session.ID)
	if got.Stats.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", got.Stats.MessageCount)
	}
	if !got.LastMessageAt.Equal(now) {
		t.Errorf("last message at = %v, want %v", got.LastMessageAt, now)
	}
}

func TestCloseHookReceivesReason(t *testing.T) {
	var reasons []models.CloseReason
	var closedID string
	m, _ := newTestManager(WithCloseHook(func(session *models.Session, reason models.CloseReason) {
		reasons = append(reasons, reason)
		closedID = session.ID
	}))
	agent := testAgent()
	ctx := context.Background()

	session, _ := m.Resolve(ctx, agent, models.ChannelWhatsApp, "contact-1")
	if err := m.Close(ctx, agent, session, models.CloseIdleTimeout); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != models.CloseIdleTimeout {
		t.Errorf("hook reasons = %v, want [idle_timeout]", reasons)
	}
	if closedID != session.ID {
		t.Errorf("hook session = %q, want %q", closedID, session.ID)
	}
}
