package team

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/crew/internal/channels"
	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/pkg/models"
)

// AgentDirectory resolves agent configuration.
type AgentDirectory interface {
	Agent(ctx context.Context, id string) (*models.Agent, error)
}

// OrgDirectory resolves organization configuration for owner notices and
// per-org team policy.
type OrgDirectory interface {
	Org(ctx context.Context, id string) (*models.Organization, error)
}

// Harness executes handoffs, escalations, takeover, and resume on top of
// the session store. All team state lives on the session's team sub-object;
// the harness never holds state of its own between calls.
type Harness struct {
	store    sessions.Store
	agents   AgentDirectory
	orgs     OrgDirectory
	policy   Policy
	delivery *channels.Delivery
	notifier *channels.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithPolicy sets the team coordination policy.
func WithPolicy(policy Policy) HarnessOption {
	return func(h *Harness) { h.policy = policy }
}

// WithDelivery enables transition messages to the external party.
func WithDelivery(d *channels.Delivery) HarnessOption {
	return func(h *Harness) { h.delivery = d }
}

// WithNotifier enables owner notices for handoffs and escalations.
func WithNotifier(n *channels.Notifier) HarnessOption {
	return func(h *Harness) { h.notifier = n }
}

// WithLogger sets the harness logger.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) { h.logger = logger }
}

// WithNowFunc overrides the time source for tests.
func WithNowFunc(now func() time.Time) HarnessOption {
	return func(h *Harness) { h.now = now }
}

// NewHarness creates a team harness.
func NewHarness(store sessions.Store, agents AgentDirectory, orgs OrgDirectory, opts ...HarnessOption) *Harness {
	h := &Harness{
		store:  store,
		agents: agents,
		orgs:   orgs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExecuteHandoff transfers the conversation to another agent in the same
// organization. On success the handoff is appended to history, the shared
// context replaced with the provided summary, and the target becomes the
// active agent.
func (h *Harness) ExecuteHandoff(ctx context.Context, session *models.Session, fromAgentID, toAgentID, reason, contextSummary string) error {
	target, err := h.agents.Agent(ctx, toAgentID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, toAgentID)
	}
	if !target.Active {
		return ErrAgentInactive
	}
	if target.OrgID != session.OrgID {
		return ErrCrossOrg
	}

	team := session.Team
	if team == nil {
		team = &models.TeamSession{
			AgentIDs:      []string{session.AgentID},
			ActiveAgentID: session.AgentID,

			// Budget ownership stays with the agent that began the
			// session across all subsequent handoffs.
			BudgetOwnerID: session.AgentID,
		}
		session.Team = team
	}
	if team.ActiveAgentID == toAgentID {
		return ErrSelfHandoff
	}

	if len(team.HandoffHistory) >= h.policy.EffectiveMaxHandoffs() {
		return ErrMaxHandoffs
	}
	if n := len(team.HandoffHistory); n > 0 {
		last := team.HandoffHistory[n-1].At
		if h.now().Sub(last) < h.policy.EffectiveCooldown() {
			return ErrHandoffCooldown
		}
	}

	source, err := h.agents.Agent(ctx, fromAgentID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, fromAgentID)
	}
	if !h.policy.Allows(source.Subtype, target.Subtype) {
		return fmt.Errorf("%w: %s to %s", ErrHandoffDenied, source.Subtype, target.Subtype)
	}

	team.HandoffHistory = append(team.HandoffHistory, models.Handoff{
		FromAgentID:    fromAgentID,
		ToAgentID:      toAgentID,
		Reason:         reason,
		ContextSummary: contextSummary,
		At:             h.now(),
	})
	team.SharedContext = contextSummary
	if contextSummary == "" {
		team.SharedContext = reason
	}
	team.ActiveAgentID = toAgentID
	if !contains(team.AgentIDs, toAgentID) {
		team.AgentIDs = append(team.AgentIDs, toAgentID)
	}

	if err := h.store.Update(ctx, session); err != nil {
		return err
	}

	h.logger.Info("handoff executed",
		"session_id", session.ID, "from", fromAgentID, "to", toAgentID,
		"reason", reason, "handoffs", len(team.HandoffHistory))

	if h.delivery != nil && h.policy.TransitionMessage != "" {
		msg := &models.Message{
			SessionID: session.ID,
			Channel:   session.Channel,
			Direction: models.DirectionOutbound,
			Role:      models.RoleSystem,
			Content:   h.policy.TransitionMessage,
			CreatedAt: h.now(),
		}
		if err := h.delivery.Send(ctx, session.ContactID, msg); err != nil {
			h.logger.Warn("transition message delivery failed",
				"session_id", session.ID, "error", err)
		}
	}
	if h.policy.NotifyOwnerOnHandoff {
		h.notifyOwner(ctx, session, fmt.Sprintf(
			"Conversation %s was handed from %s to %s: %s",
			session.ID, source.Name, target.Name, reason))
	}
	return nil
}

// EscalateToHuman hands the session to a human operator. The session
// leaves agent control until an explicit resume.
func (h *Harness) EscalateToHuman(ctx context.Context, session *models.Session, reason string, urgency models.EscalationUrgency, contextSummary string) error {
	if session.Status == models.StatusHandedOff {
		return ErrAlreadyEscalated
	}
	if urgency == "" {
		urgency = models.UrgencyMedium
	}

	team := session.Team
	if team == nil {
		team = &models.TeamSession{
			AgentIDs:      []string{session.AgentID},
			ActiveAgentID: session.AgentID,
			BudgetOwnerID: session.AgentID,
		}
		session.Team = team
	}
	team.Escalation = &models.EscalationState{
		Requested:          true,
		Reason:             reason,
		Urgency:            urgency,
		RequestedAt:        h.now(),
		PriorActiveAgentID: team.ActiveAgentID,
	}
	if contextSummary != "" {
		team.SharedContext = contextSummary
	}
	session.Status = models.StatusHandedOff

	if err := h.store.Update(ctx, session); err != nil {
		return err
	}

	h.logger.Info("session escalated to human",
		"session_id", session.ID, "reason", reason, "urgency", urgency)

	h.notifyOwner(ctx, session, fmt.Sprintf(
		"Conversation %s needs a human (%s): %s",
		session.ID, urgency, reason))
	return nil
}

func (h *Harness) notifyOwner(ctx context.Context, session *models.Session, body string) {
	if h.notifier == nil || h.orgs == nil {
		return
	}
	org, err := h.orgs.Org(ctx, session.OrgID)
	if err != nil {
		h.logger.Warn("owner notice skipped, org lookup failed",
			"org_id", session.OrgID, "error", err)
		return
	}
	if org.OwnerContact.Address == "" {
		return
	}
	h.notifier.Notify(ctx, org.OwnerContact, body)
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
