package team

import (
	"strings"

	"github.com/haasonsaas/crew/pkg/models"
)

// Trigger is one auto-escalation rule evaluated on every turn,
// independently of the escalation tool.
type Trigger string

const (
	TriggerHumanRequest Trigger = "human_request"
	TriggerSentiment    Trigger = "negative_sentiment"
	TriggerToolLoop     Trigger = "tool_loop"
	TriggerBlockedTopic Trigger = "blocked_topic"
	TriggerUncertainty  Trigger = "uncertainty"
)

// TriggerResult is a matched auto-escalation rule with its canned reason
// and severity.
type TriggerResult struct {
	Trigger Trigger
	Reason  string
	Urgency models.EscalationUrgency
}

// TriggerConfig tunes the auto-escalation detectors.
type TriggerConfig struct {
	// BlockedTopics escalate immediately when mentioned.
	BlockedTopics []string `json:"blocked_topics,omitempty" yaml:"blocked_topics"`

	// ToolLoopThreshold is how many consecutive identical tool calls
	// count as a loop. Zero uses 3.
	ToolLoopThreshold int `json:"tool_loop_threshold,omitempty" yaml:"tool_loop_threshold"`

	// UncertaintyRun is how many consecutive uncertain agent responses
	// trip escalation. Zero uses 3.
	UncertaintyRun int `json:"uncertainty_run,omitempty" yaml:"uncertainty_run"`
}

func (c *TriggerConfig) toolLoopThreshold() int {
	if c.ToolLoopThreshold > 0 {
		return c.ToolLoopThreshold
	}
	return 3
}

func (c *TriggerConfig) uncertaintyRun() int {
	if c.UncertaintyRun > 0 {
		return c.UncertaintyRun
	}
	return 3
}

// TurnSignals carries the per-turn observations the detectors evaluate.
type TurnSignals struct {
	// InboundText is the external party's latest message.
	InboundText string

	// ConsecutiveRepeatedToolCalls counts identical back-to-back tool
	// invocations (same name and input) in the current turn sequence.
	ConsecutiveRepeatedToolCalls int

	// ConsecutiveUncertainResponses counts agent turns in a row that read
	// as uncertain.
	ConsecutiveUncertainResponses int

	// NegativeSentiment is supplied by an upstream classifier when one is
	// configured; the built-in detector only covers strong lexical cues.
	NegativeSentiment bool
}

var humanRequestPhrases = []string{
	"speak to a human",
	"talk to a human",
	"speak to a person",
	"talk to a person",
	"real person",
	"human agent",
	"speak to someone",
	"talk to someone",
	"customer service rep",
	"manager",
	"stop talking to a bot",
	"are you a bot",
}

var negativePhrases = []string{
	"this is ridiculous",
	"absolutely useless",
	"worst service",
	"i am furious",
	"i'm furious",
	"terrible experience",
	"i want a refund now",
	"never using this again",
	"sue",
	"lawyer",
}

// Evaluate runs the detectors in priority order and returns the first
// match.
func (c *TriggerConfig) Evaluate(signals TurnSignals) (*TriggerResult, bool) {
	text := strings.ToLower(signals.InboundText)

	for _, topic := range c.BlockedTopics {
		if topic != "" && strings.Contains(text, strings.ToLower(topic)) {
			return &TriggerResult{
				Trigger: TriggerBlockedTopic,
				Reason:  "Conversation touched a restricted topic: " + topic,
				Urgency: models.UrgencyHigh,
			}, true
		}
	}

	for _, phrase := range humanRequestPhrases {
		if strings.Contains(text, phrase) {
			return &TriggerResult{
				Trigger: TriggerHumanRequest,
				Reason:  "Customer explicitly asked for a human",
				Urgency: models.UrgencyHigh,
			}, true
		}
	}

	if signals.NegativeSentiment || matchesAny(text, negativePhrases) {
		return &TriggerResult{
			Trigger: TriggerSentiment,
			Reason:  "Customer message shows strong negative sentiment",
			Urgency: models.UrgencyMedium,
		}, true
	}

	if signals.ConsecutiveRepeatedToolCalls >= c.toolLoopThreshold() {
		return &TriggerResult{
			Trigger: TriggerToolLoop,
			Reason:  "Agent repeated the same tool call without progress",
			Urgency: models.UrgencyMedium,
		}, true
	}

	if signals.ConsecutiveUncertainResponses >= c.uncertaintyRun() {
		return &TriggerResult{
			Trigger: TriggerUncertainty,
			Reason:  "Agent gave several uncertain responses in a row",
			Urgency: models.UrgencyLow,
		}, true
	}

	return nil, false
}

var uncertaintyPhrases = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"i cannot help with",
	"i can't help with",
	"i'm unable to",
	"i am unable to",
}

// Uncertain reports whether an agent response reads as uncertain, for the
// pipeline's consecutive-uncertainty counter.
func Uncertain(response string) bool {
	return matchesAny(strings.ToLower(response), uncertaintyPhrases)
}

func matchesAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
