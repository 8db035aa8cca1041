package team

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

// takeoverSummaryMaxLines bounds the compiled takeover summary.
const takeoverSummaryMaxLines = 12

// HandleHumanMessage routes a human operator's message to the external
// party and records it on the session under the operator role. The first
// message marks the takeover.
func (h *Harness) HandleHumanMessage(ctx context.Context, session *models.Session, operatorID, text string) error {
	if session.Status != models.StatusHandedOff || session.Team == nil || session.Team.Escalation == nil {
		return ErrNotHandedOff
	}

	escalation := session.Team.Escalation
	if escalation.TakenOverAt == nil {
		now := h.now()
		escalation.TakenOverAt = &now
		escalation.AssignedHuman = operatorID
		if err := h.store.Update(ctx, session); err != nil {
			return err
		}
		h.logger.Info("human takeover started",
			"session_id", session.ID, "operator", operatorID)
	}

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   session.Channel,
		Direction: models.DirectionOutbound,
		Role:      models.RoleHumanOperator,
		Content:   text,
		Metadata:  map[string]any{"operator_id": operatorID},
		CreatedAt: h.now(),
	}
	if err := h.store.AppendMessage(ctx, session.ID, msg); err != nil {
		return err
	}
	if h.delivery != nil {
		if err := h.delivery.Send(ctx, session.ContactID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Resume returns a handed-off session to agent control. What happened
// during the takeover is compiled into a short summary and injected as
// shared context for the prior active agent.
func (h *Harness) Resume(ctx context.Context, session *models.Session) error {
	if session.Status != models.StatusHandedOff || session.Team == nil || session.Team.Escalation == nil {
		return ErrNotHandedOff
	}

	escalation := session.Team.Escalation
	summary, err := h.compileTakeoverSummary(ctx, session, escalation)
	if err != nil {
		h.logger.Warn("takeover summary failed, resuming without context",
			"session_id", session.ID, "error", err)
	}
	if summary != "" {
		session.Team.SharedContext = summary
	}

	if escalation.PriorActiveAgentID != "" {
		session.Team.ActiveAgentID = escalation.PriorActiveAgentID
	}
	escalation.Requested = false
	session.Status = models.StatusActive

	if err := h.store.Update(ctx, session); err != nil {
		return err
	}
	h.logger.Info("session resumed from takeover",
		"session_id", session.ID, "active_agent", session.Team.ActiveAgentID)
	return nil
}

// compileTakeoverSummary condenses the messages exchanged while a human
// held the session into a few lines the agent can pick up from.
func (h *Harness) compileTakeoverSummary(ctx context.Context, session *models.Session, escalation *models.EscalationState) (string, error) {
	history, err := h.store.History(ctx, session.ID, 0)
	if err != nil {
		return "", err
	}

	since := escalation.RequestedAt
	if escalation.TakenOverAt != nil {
		since = *escalation.TakenOverAt
	}

	var lines []string
	for _, msg := range history {
		if msg.CreatedAt.Before(since) {
			continue
		}
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		switch msg.Role {
		case models.RoleHumanOperator:
			lines = append(lines, "Operator: "+text)
		case models.RoleUser:
			lines = append(lines, "Customer: "+text)
		}
	}
	if len(lines) > takeoverSummaryMaxLines {
		lines = lines[len(lines)-takeoverSummaryMaxLines:]
	}

	header := fmt.Sprintf("A human operator handled this conversation (escalated: %s).",
		escalation.Reason)
	if len(lines) == 0 {
		return header, nil
	}
	return header + "\n" + strings.Join(lines, "\n"), nil
}

// TakenOverFor reports how long a session has been waiting in the
// handed-off state, for timeout-driven re-checks.
func TakenOverFor(session *models.Session, now time.Time) (time.Duration, bool) {
	if session.Status != models.StatusHandedOff || session.Team == nil || session.Team.Escalation == nil {
		return 0, false
	}
	return now.Sub(session.Team.Escalation.RequestedAt), true
}
