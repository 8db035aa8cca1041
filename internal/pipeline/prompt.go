package pipeline

import (
	"strings"

	"github.com/haasonsaas/crew/pkg/models"
)

// buildSystem assembles the active agent's system context for one turn.
// Resume context and the latest handoff/takeover summary are injected
// verbatim; the degraded notice tells the model mutating actions are
// withheld so it does not promise them.
func buildSystem(agent *models.Agent, session *models.Session, degraded bool) string {
	var parts []string
	if strings.TrimSpace(agent.Soul) != "" {
		parts = append(parts, agent.Soul)
	}
	if session.InjectedContext != "" {
		parts = append(parts, "Context from the previous conversation:\n"+session.InjectedContext)
	}
	if session.Team != nil && session.Team.SharedContext != "" {
		parts = append(parts, "Handoff context:\n"+session.Team.SharedContext)
	}
	if degraded {
		parts = append(parts, "This conversation has reached its usage limit. "+
			"Only answer questions; do not attempt actions that modify external systems, "+
			"and suggest starting a new conversation for anything more.")
	}
	return strings.Join(parts, "\n\n")
}
