// Package pipeline composes policy resolution, budget accounting, session
// lifecycle, team coordination, model completion, and channel delivery into
// the per-message execution path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/crew/internal/channels"
	"github.com/haasonsaas/crew/internal/credits"
	"github.com/haasonsaas/crew/internal/model"
	"github.com/haasonsaas/crew/internal/observability"
	"github.com/haasonsaas/crew/internal/policy"
	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/internal/team"
	"github.com/haasonsaas/crew/internal/tools"
	"github.com/haasonsaas/crew/pkg/models"
)

// AgentDirectory resolves agents by id.
type AgentDirectory interface {
	Agent(ctx context.Context, id string) (*models.Agent, error)
}

// OrgDirectory resolves organizations by id.
type OrgDirectory interface {
	Org(ctx context.Context, id string) (*models.Organization, error)
}

// Config tunes the per-message execution path.
type Config struct {
	// PlatformBlocked tools are removed for every tenant.
	PlatformBlocked []string

	// DefaultModel is used when the agent has no model override.
	DefaultModel string

	// MaxToolIterations bounds model round-trips within one turn.
	// Defaults to 8.
	MaxToolIterations int

	// ToolTimeout bounds one tool execution. Defaults to 30 seconds.
	ToolTimeout time.Duration

	// ToolFailureLimit is how many failures disable a tool for the rest
	// of the session. Defaults to 3.
	ToolFailureLimit int

	// HistoryLimit is how many prior messages feed the model. Defaults
	// to 50.
	HistoryLimit int

	// Triggers tunes the auto-escalation detectors.
	Triggers team.TriggerConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolIterations: 8,
		ToolTimeout:       30 * time.Second,
		ToolFailureLimit:  3,
		HistoryLimit:      50,
	}
}

// Inbound is one external message entering the harness.
type Inbound struct {
	OrgID     string
	AgentID   string
	Channel   models.ChannelType
	ContactID string
	Text      string
}

// Outcome reports what one turn did.
type Outcome struct {
	SessionID    string
	Reply        string
	HandedOff    bool
	Escalated    bool
	Degraded     bool
	CreditsSpent int64
	Failure      FailureKind
}

// Pipeline is the execution harness entry point.
type Pipeline struct {
	sessions   *sessions.Manager
	resolver   *policy.Resolver
	accountant *credits.Accountant
	harness    *team.Harness
	provider   model.Provider
	registry   *tools.Registry
	delivery   *channels.Delivery
	notifier   *channels.Notifier
	agents     AgentDirectory
	orgs       OrgDirectory
	config     Config
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex
	// uncertainRuns counts consecutive uncertain agent replies per
	// session, feeding the uncertainty escalation detector.
	uncertainRuns map[string]int
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier sets the owner notification channel.
func WithNotifier(n *channels.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithNowFunc sets the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline over the assembled harness components.
func New(
	sessionManager *sessions.Manager,
	resolver *policy.Resolver,
	accountant *credits.Accountant,
	harness *team.Harness,
	provider model.Provider,
	registry *tools.Registry,
	delivery *channels.Delivery,
	agents AgentDirectory,
	orgs OrgDirectory,
	config Config,
	opts ...Option,
) *Pipeline {
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = 8
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 30 * time.Second
	}
	if config.ToolFailureLimit <= 0 {
		config.ToolFailureLimit = 3
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	p := &Pipeline{
		sessions:      sessionManager,
		resolver:      resolver,
		accountant:    accountant,
		harness:       harness,
		provider:      provider,
		registry:      registry,
		delivery:      delivery,
		agents:        agents,
		orgs:          orgs,
		config:        config,
		logger:        slog.Default(),
		now:           time.Now,
		uncertainRuns: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// estimatedTurnCost is the reserve deducted before the model call. The
// remainder against actual usage is deducted after the turn.
const estimatedTurnCost int64 = 1

// creditsForUsage prices one completion: one credit per call plus one per
// thousand tokens.
func creditsForUsage(u model.Usage) int64 {
	return 1 + int64(u.InputTokens+u.OutputTokens)/1000
}

// HandleInbound runs one external message through the harness and delivers
// the reply. Failures that reach the external party are always rendered as
// plain language; the detailed reason goes to the organization owner.
func (p *Pipeline) HandleInbound(ctx context.Context, in Inbound) (*Outcome, error) {
	if in.Text == "" {
		return nil, ErrEmptyMessage
	}
	agent, err := p.agents.Agent(ctx, in.AgentID)
	if err != nil || agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, in.AgentID)
	}
	if agent.OrgID != in.OrgID {
		return nil, ErrAgentOrgMismatch
	}
	org, err := p.orgs.Org(ctx, in.OrgID)
	if err != nil {
		return nil, fmt.Errorf("resolve org: %w", err)
	}

	session, err := p.sessions.Resolve(ctx, agent, in.Channel, in.ContactID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	if err := p.sessions.Lock(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer p.sessions.Unlock(session.ID)

	// Re-read under the lock; the sweep or a concurrent handler may have
	// advanced state between resolve and acquire.
	if fresh, err := p.sessions.Store().Get(ctx, session.ID); err == nil {
		session = fresh
	}

	started := p.now()
	outcome, err := p.handleLocked(ctx, org, agent, session, in)
	if p.metrics != nil && outcome != nil {
		label := "ok"
		if outcome.Failure != FailureNone {
			label = string(outcome.Failure)
		}
		p.metrics.MessagesProcessed.WithLabelValues(string(in.Channel), label).Inc()
		p.metrics.MessageDuration.WithLabelValues(string(in.Channel)).Observe(p.now().Sub(started).Seconds())
	}
	return outcome, err
}

func (p *Pipeline) handleLocked(ctx context.Context, org *models.Organization, agent *models.Agent, session *models.Session, in Inbound) (*Outcome, error) {
	outcome := &Outcome{SessionID: session.ID}

	inbound := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   in.Channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   in.Text,
		CreatedAt: p.now(),
	}
	if err := p.sessions.Store().AppendMessage(ctx, session.ID, inbound); err != nil {
		return nil, fmt.Errorf("record inbound: %w", err)
	}
	if err := p.sessions.Touch(ctx, session); err != nil {
		p.logger.Warn("session touch failed", "session_id", session.ID, "error", err)
	}

	// During a human takeover the operator owns the conversation; the
	// message is recorded for them and no agent runs.
	if session.Status == models.StatusHandedOff {
		outcome.HandedOff = true
		return outcome, nil
	}

	active := agent
	if session.Team != nil && session.Team.ActiveAgentID != "" && session.Team.ActiveAgentID != agent.ID {
		other, err := p.agents.Agent(ctx, session.Team.ActiveAgentID)
		if err == nil && other != nil {
			active = other
		}
	}

	budgetOrg, err := p.budgetOrgID(ctx, org, session)
	if err != nil {
		return nil, err
	}

	creditCap := sessions.CreditCap(agent)
	degraded := session.Stats.CreditsSpent >= creditCap
	outcome.Degraded = degraded
	if degraded {
		outcome.Failure = FailureDegraded
	}

	// Pre-check: reserve the minimum turn cost before calling the model.
	// Budget failures here are fatal for the turn.
	if _, err := p.accountant.Deduct(ctx, budgetOrg, estimatedTurnCost, "turn_reserve"); err != nil {
		code := credits.Code(err)
		if code == "" {
			return nil, fmt.Errorf("budget pre-check: %w", err)
		}
		p.recordDeduction(code)
		p.fail(ctx, org, session, in, fmt.Sprintf("budget check failed for agent %s: %s", agent.ID, code))
		outcome.Failure = FailureFatal
		return outcome, nil
	}
	p.recordDeduction("ok")
	spent := estimatedTurnCost

	toolSet := p.resolveTools(org, active, session, in.Channel)
	if degraded {
		toolSet = toolSet.WithoutMutating()
	}

	history, err := p.sessions.Store().History(ctx, session.ID, p.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turn := &turnState{
		messages:     history,
		toolSet:      toolSet,
		toolFailures: make(map[string]int),
	}

	reply, err := p.runModelLoop(ctx, org, active, session, in, outcome, turn, degraded, &spent)
	p.settle(ctx, budgetOrg, session, spent)
	outcome.CreditsSpent = spent
	if err != nil {
		p.fail(ctx, org, session, in, fmt.Sprintf("model call failed for agent %s: %v", active.ID, err))
		outcome.Failure = FailureFatal
		return outcome, nil
	}
	if outcome.Failure == FailureLoop || (outcome.Escalated && reply == "") {
		reply = escalationAck
	}

	// Crossing the session cap this turn is a soft stop: the reply still
	// goes out, with guidance to start a new conversation.
	if !degraded && session.Stats.CreditsSpent >= creditCap {
		reply = reply + "\n\n" + budgetNotice
		outcome.Degraded = true
	}

	p.checkTriggers(ctx, session, in, turn, reply, outcome)

	outcome.Reply = reply
	p.deliver(ctx, session, in, reply)
	return outcome, nil
}

// turnState accumulates the model conversation within one turn.
type turnState struct {
	messages     []*models.Message
	toolSet      *policy.ToolSet
	toolFailures map[string]int
	repeatKey    string
	repeatRun    int
	maxRepeatRun int
}

func (p *Pipeline) runModelLoop(ctx context.Context, org *models.Organization, active *models.Agent, session *models.Session, in Inbound, outcome *Outcome, turn *turnState, degraded bool, spent *int64) (string, error) {
	modelID := active.Model
	if modelID == "" {
		modelID = p.config.DefaultModel
	}

	for i := 0; i < p.config.MaxToolIterations; i++ {
		req := &model.Request{
			Model:    modelID,
			System:   buildSystem(active, session, degraded),
			Messages: turn.messages,
			Tools:    turn.toolSet.Definitions(),
		}

		callStart := p.now()
		resp, err := p.provider.Complete(ctx, req)
		if err != nil {
			if p.metrics != nil {
				p.metrics.ObserveModelRequest(p.provider.Name(), "error", p.now().Sub(callStart), 0, 0)
			}
			return "", err
		}
		if p.metrics != nil {
			p.metrics.ObserveModelRequest(p.provider.Name(), "ok", p.now().Sub(callStart), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		*spent += creditsForUsage(resp.Usage)

		if resp.StopReason != model.StopToolUse || len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		assistant := &models.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Channel:   in.Channel,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: p.now(),
		}
		turn.messages = append(turn.messages, assistant)
		if err := p.sessions.Store().AppendMessage(ctx, session.ID, assistant); err != nil {
			p.logger.Warn("record assistant turn failed", "session_id", session.ID, "error", err)
		}

		results := make([]models.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if p.trackRepeat(turn, call) {
				reason := fmt.Sprintf("agent repeated the %s tool %d times in a row", call.Name, turn.repeatRun)
				p.escalate(ctx, session, reason, models.UrgencyMedium, outcome, string(team.TriggerToolLoop))
				outcome.Failure = FailureLoop
				return "", nil
			}

			result, stop := p.executeCall(ctx, org, active, session, in, outcome, turn, call)
			results = append(results, result)
			if stop {
				// Escalation hands the conversation off; remaining
				// calls in this batch are moot.
				p.appendToolResults(ctx, session, in, turn, results)
				return "", nil
			}

			// A handoff switches the speaking agent mid-turn.
			if outcome.HandedOff && session.Team != nil && session.Team.ActiveAgentID != active.ID {
				next, err := p.agents.Agent(ctx, session.Team.ActiveAgentID)
				if err == nil && next != nil {
					active = next
					modelID = active.Model
					if modelID == "" {
						modelID = p.config.DefaultModel
					}
					turn.toolSet = p.resolveTools(org, active, session, in.Channel)
					if degraded {
						turn.toolSet = turn.toolSet.WithoutMutating()
					}
				}
			}
		}
		p.appendToolResults(ctx, session, in, turn, results)
	}
	return "", fmt.Errorf("tool iteration limit reached after %d rounds", p.config.MaxToolIterations)
}

// executeCall runs one tool call. Harness tools (handoff, escalation) are
// intercepted; everything else goes through the registry. Failures come
// back as error results for the model, never as turn-ending errors.
func (p *Pipeline) executeCall(ctx context.Context, org *models.Organization, active *models.Agent, session *models.Session, in Inbound, outcome *Outcome, turn *turnState, call models.ToolCall) (models.ToolResult, bool) {
	switch call.Name {
	case tools.HandoffTool:
		return p.executeHandoffCall(ctx, active, session, outcome, call), false
	case tools.EscalateTool:
		return p.executeEscalateCall(ctx, session, outcome, call)
	}

	if !turn.toolSet.Has(call.Name) {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %s is not available in this conversation", call.Name),
			IsError:    true,
		}, false
	}

	toolCtx, cancel := context.WithTimeout(ctx, p.config.ToolTimeout)
	callStart := p.now()
	result, err := p.registry.Execute(toolCtx, call.Name, call.Input)
	cancel()

	status := "ok"
	failed := err != nil || (result != nil && result.IsError)
	if failed {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.ObserveTool(call.Name, status, p.now().Sub(callStart))
	}

	if err != nil {
		result = tools.ErrorResult(fmt.Sprintf("tool %s failed: %v", call.Name, err))
	}
	if failed {
		turn.toolFailures[call.Name]++
		if turn.toolFailures[call.Name] >= p.config.ToolFailureLimit && !session.ToolDisabled(call.Name) {
			p.disableTool(ctx, session, call.Name)
			turn.toolSet = p.resolveTools(org, active, session, in.Channel)
			result = tools.ErrorResult(fmt.Sprintf(
				"tool %s failed repeatedly and is disabled for the rest of this conversation", call.Name))
		}
	}

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}, false
}

type handoffInput struct {
	TargetAgent    string `json:"target_agent"`
	Reason         string `json:"reason"`
	ContextSummary string `json:"context_summary"`
}

func (p *Pipeline) executeHandoffCall(ctx context.Context, active *models.Agent, session *models.Session, outcome *Outcome, call models.ToolCall) models.ToolResult {
	var input handoffInput
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: "invalid handoff input", IsError: true}
	}
	err := p.harness.ExecuteHandoff(ctx, session, active.ID, input.TargetAgent, input.Reason, input.ContextSummary)
	if err != nil {
		if p.metrics != nil {
			p.metrics.Handoffs.WithLabelValues("rejected").Inc()
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("handoff failed: %v", err),
			IsError:    true,
		}
	}
	if p.metrics != nil {
		p.metrics.Handoffs.WithLabelValues("ok").Inc()
	}
	outcome.HandedOff = true
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("conversation transferred to agent %s; continue as that agent", input.TargetAgent),
	}
}

type escalateInput struct {
	Reason         string `json:"reason"`
	Urgency        string `json:"urgency"`
	ContextSummary string `json:"context_summary"`
}

func (p *Pipeline) executeEscalateCall(ctx context.Context, session *models.Session, outcome *Outcome, call models.ToolCall) (models.ToolResult, bool) {
	var input escalateInput
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: "invalid escalation input", IsError: true}, false
	}
	urgency := models.EscalationUrgency(input.Urgency)
	switch urgency {
	case models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh, models.UrgencyCritical:
	default:
		urgency = models.UrgencyMedium
	}
	if err := p.harness.EscalateToHuman(ctx, session, input.Reason, urgency, input.ContextSummary); err != nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("escalation failed: %v", err),
			IsError:    true,
		}, false
	}
	if p.metrics != nil {
		p.metrics.Escalations.WithLabelValues("agent_requested").Inc()
	}
	outcome.Escalated = true
	return models.ToolResult{ToolCallID: call.ID, Content: "escalated to a human operator"}, true
}

// trackRepeat updates the identical-call run and reports when it crosses the
// loop threshold.
func (p *Pipeline) trackRepeat(turn *turnState, call models.ToolCall) bool {
	key := call.Name + "\x00" + string(call.Input)
	if key == turn.repeatKey {
		turn.repeatRun++
	} else {
		turn.repeatKey = key
		turn.repeatRun = 1
	}
	if turn.repeatRun > turn.maxRepeatRun {
		turn.maxRepeatRun = turn.repeatRun
	}
	threshold := p.config.Triggers.ToolLoopThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return turn.repeatRun >= threshold
}

func (p *Pipeline) appendToolResults(ctx context.Context, session *models.Session, in Inbound, turn *turnState, results []models.ToolResult) {
	if len(results) == 0 {
		return
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Channel:     in.Channel,
		Direction:   models.DirectionInbound,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   p.now(),
	}
	turn.messages = append(turn.messages, msg)
	if err := p.sessions.Store().AppendMessage(ctx, session.ID, msg); err != nil {
		p.logger.Warn("record tool results failed", "session_id", session.ID, "error", err)
	}
}

// disableTool withdraws a tool for the rest of the session after repeated
// failures. Withdrawal is a degraded-mode event, not a turn failure.
func (p *Pipeline) disableTool(ctx context.Context, session *models.Session, name string) {
	session.DisabledTools = append(session.DisabledTools, name)
	if err := p.sessions.Store().Update(ctx, session); err != nil {
		p.logger.Warn("persist disabled tool failed", "session_id", session.ID, "tool", name, "error", err)
	}
	p.logger.Info("tool disabled for session", "session_id", session.ID, "tool", name)
}

func (p *Pipeline) resolveTools(org *models.Organization, agent *models.Agent, session *models.Session, channel models.ChannelType) *policy.ToolSet {
	profile := agent.Tools.Profile
	if profile == "" {
		profile = tools.ProfileForSubtype(agent.Subtype)
	}
	return p.resolver.ResolveActiveTools(policy.Context{
		PlatformBlocked:       p.config.PlatformBlocked,
		OrgAllowed:            org.AllowedTools,
		OrgBlocked:            org.BlockedTools,
		ConnectedIntegrations: org.ConnectedIntegrations,
		Profile:               profile,
		AgentAllowed:          agent.Tools.Allow,
		AgentBlocked:          agent.Tools.Deny,
		Autonomy:              agent.Autonomy,
		SessionDisabled:       session.DisabledTools,
		Channel:               channel,
	})
}

// budgetOrgID attributes team spend to the budget owner's organization.
func (p *Pipeline) budgetOrgID(ctx context.Context, org *models.Organization, session *models.Session) (string, error) {
	if session.Team == nil || session.Team.BudgetOwnerID == "" || session.Team.BudgetOwnerID == session.AgentID {
		return org.ID, nil
	}
	owner, err := p.agents.Agent(ctx, session.Team.BudgetOwnerID)
	if err != nil || owner == nil {
		return "", fmt.Errorf("resolve budget owner %s: %w", session.Team.BudgetOwnerID, err)
	}
	return owner.OrgID, nil
}

// settle deducts the remainder of actual spend over the reserve and updates
// session stats. Spend already happened, so a deduction failure here is
// reported to the owner but does not fail the turn.
func (p *Pipeline) settle(ctx context.Context, budgetOrg string, session *models.Session, spent int64) {
	if remainder := spent - estimatedTurnCost; remainder > 0 {
		if _, err := p.accountant.Deduct(ctx, budgetOrg, remainder, "model_usage"); err != nil {
			code := credits.Code(err)
			p.recordDeduction(code)
			p.logger.Warn("post-turn deduction failed",
				"session_id", session.ID, "org_id", budgetOrg, "amount", remainder, "code", code, "error", err)
		} else {
			p.recordDeduction("ok")
		}
	}
	session.Stats.CreditsSpent += spent
	if err := p.sessions.Store().Update(ctx, session); err != nil {
		p.logger.Warn("session stats update failed", "session_id", session.ID, "error", err)
	}
	if p.metrics != nil && spent > 0 {
		p.metrics.CreditsSpent.WithLabelValues("turn").Add(float64(spent))
	}
}

// checkTriggers runs the auto-escalation detectors after the reply is
// composed. The reply still goes out; the owner gets the escalation.
func (p *Pipeline) checkTriggers(ctx context.Context, session *models.Session, in Inbound, turn *turnState, reply string, outcome *Outcome) {
	if outcome.Escalated || outcome.HandedOff || outcome.Failure == FailureLoop {
		p.ForgetSession(session.ID)
		return
	}

	p.mu.Lock()
	if reply != "" && team.Uncertain(reply) {
		p.uncertainRuns[session.ID]++
	} else {
		delete(p.uncertainRuns, session.ID)
	}
	uncertain := p.uncertainRuns[session.ID]
	p.mu.Unlock()

	result, ok := p.config.Triggers.Evaluate(team.TurnSignals{
		InboundText:                   in.Text,
		ConsecutiveRepeatedToolCalls:  turn.maxRepeatRun,
		ConsecutiveUncertainResponses: uncertain,
	})
	if !ok {
		return
	}
	p.escalate(ctx, session, result.Reason, result.Urgency, outcome, string(result.Trigger))
}

func (p *Pipeline) escalate(ctx context.Context, session *models.Session, reason string, urgency models.EscalationUrgency, outcome *Outcome, trigger string) {
	if err := p.harness.EscalateToHuman(ctx, session, reason, urgency, ""); err != nil {
		p.logger.Warn("auto escalation failed", "session_id", session.ID, "trigger", trigger, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.Escalations.WithLabelValues(trigger).Inc()
	}
	outcome.Escalated = true
	p.ForgetSession(session.ID)
}

// ForgetSession drops per-session trigger state. Called whenever a session
// leaves the agent's hands: escalation, handoff, or close.
func (p *Pipeline) ForgetSession(sessionID string) {
	p.mu.Lock()
	delete(p.uncertainRuns, sessionID)
	p.mu.Unlock()
}

// fail delivers the plain-language apology to the external party and the
// detailed reason to the organization owner.
func (p *Pipeline) fail(ctx context.Context, org *models.Organization, session *models.Session, in Inbound, detail string) {
	p.logger.Error("turn failed", "session_id", session.ID, "org_id", org.ID, "detail", detail)
	if p.notifier != nil {
		p.notifier.Notify(ctx, org.OwnerContact, detail)
	}
	p.deliver(ctx, session, in, userApology)
}

func (p *Pipeline) deliver(ctx context.Context, session *models.Session, in Inbound, text string) {
	if text == "" {
		return
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   in.Channel,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: p.now(),
	}
	if err := p.sessions.Store().AppendMessage(ctx, session.ID, msg); err != nil {
		p.logger.Warn("record outbound failed", "session_id", session.ID, "error", err)
	}
	if err := p.delivery.Send(ctx, in.ContactID, msg); err != nil {
		p.logger.Error("outbound delivery failed", "session_id", session.ID, "channel", in.Channel, "error", err)
	}
	if err := p.sessions.Touch(ctx, session); err != nil {
		p.logger.Warn("session touch failed", "session_id", session.ID, "error", err)
	}
}

func (p *Pipeline) recordDeduction(code string) {
	if p.metrics == nil {
		return
	}
	if code == "" {
		code = "error"
	}
	p.metrics.CreditDeductions.WithLabelValues(code).Inc()
}
