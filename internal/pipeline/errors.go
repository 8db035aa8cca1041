package pipeline

import "errors"

// FailureKind grades how a turn failed. Transient failures were retried
// inside the model/delivery layers before surfacing; degraded means a
// capability was withdrawn but the conversation continues; fatal means the
// message could not be serviced; loop means the repetition heuristic
// tripped and the turn was routed to escalation.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureDegraded FailureKind = "degraded"
	FailureFatal    FailureKind = "fatal"
	FailureLoop     FailureKind = "loop_detected"
)

var (
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrAgentOrgMismatch = errors.New("agent does not belong to organization")
	ErrEmptyMessage     = errors.New("inbound message is empty")
)

// The external party never sees a raw error. These are the only strings
// delivered on failure paths; the owner gets the detailed reason through
// their notification channel.
const (
	userApology = "Sorry, we're having trouble right now. Please try again in a few minutes."

	budgetNotice = "This conversation has reached its limit. Please start a new conversation to continue."

	escalationAck = "I'm connecting you with a member of our team. Someone will be with you shortly."
)
