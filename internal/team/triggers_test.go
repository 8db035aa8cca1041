package team

import (
	"testing"

	"github.com/haasonsaas/crew/pkg/models"
)

func TestTriggerHumanRequest(t *testing.T) {
	var cfg TriggerConfig
	result, ok := cfg.Evaluate(TurnSignals{InboundText: "Can I speak to a human please?"})
	if !ok {
		t.Fatal("no trigger matched")
	}
	if result.Trigger != TriggerHumanRequest || result.Urgency != models.UrgencyHigh {
		t.Errorf("result = %+v", result)
	}
}

func TestTriggerBlockedTopicBeatsOthers(t *testing.T) {
	cfg := TriggerConfig{BlockedTopics: []string{"medical advice"}}
	result, ok := cfg.Evaluate(TurnSignals{
		InboundText: "I need medical advice and want to talk to a human",
	})
	if !ok || result.Trigger != TriggerBlockedTopic {
		t.Errorf("result = %+v, want blocked topic first", result)
	}
}

func TestTriggerSentiment(t *testing.T) {
	var cfg TriggerConfig
	result, ok := cfg.Evaluate(TurnSignals{InboundText: "This is ridiculous, worst service ever"})
	if !ok || result.Trigger != TriggerSentiment {
		t.Errorf("result = %+v", result)
	}

	result, ok = cfg.Evaluate(TurnSignals{InboundText: "ok thanks", NegativeSentiment: true})
	if !ok || result.Trigger != TriggerSentiment {
		t.Errorf("classifier signal ignored: %+v", result)
	}
}

func TestTriggerToolLoop(t *testing.T) {
	var cfg TriggerConfig
	if _, ok := cfg.Evaluate(TurnSignals{ConsecutiveRepeatedToolCalls: 2}); ok {
		t.Error("two repeats must not trip the default threshold")
	}
	result, ok := cfg.Evaluate(TurnSignals{ConsecutiveRepeatedToolCalls: 3})
	if !ok || result.Trigger != TriggerToolLoop {
		t.Errorf("result = %+v", result)
	}
}

func TestTriggerUncertaintyRun(t *testing.T) {
	var cfg TriggerConfig
	result, ok := cfg.Evaluate(TurnSignals{ConsecutiveUncertainResponses: 3})
	if !ok || result.Trigger != TriggerUncertainty || result.Urgency != models.UrgencyLow {
		t.Errorf("result = %+v", result)
	}
}

func TestNoTrigger(t *testing.T) {
	var cfg TriggerConfig
	if _, ok := cfg.Evaluate(TurnSignals{InboundText: "what time do you open tomorrow?"}); ok {
		t.Error("benign message tripped a trigger")
	}
}

func TestUncertainDetection(t *testing.T) {
	if !Uncertain("I'm not sure I can answer that.") {
		t.Error("uncertain phrase not detected")
	}
	if Uncertain("Your order ships tomorrow.") {
		t.Error("confident response flagged uncertain")
	}
}
