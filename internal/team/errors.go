package team

import "errors"

var (
	// ErrAgentNotFound means the handoff target does not exist.
	ErrAgentNotFound = errors.New("handoff target agent not found")

	// ErrAgentInactive means the handoff target is archived or retired.
	ErrAgentInactive = errors.New("handoff target agent is inactive")

	// ErrCrossOrg means the handoff target belongs to another organization.
	ErrCrossOrg = errors.New("cross-organization handoff is not allowed")

	// ErrSelfHandoff means the target is already the active agent.
	ErrSelfHandoff = errors.New("agent is already active in this session")

	// ErrMaxHandoffs means the session reached its handoff cap.
	ErrMaxHandoffs = errors.New("handoff limit reached for this session")

	// ErrHandoffCooldown means the last handoff was too recent.
	ErrHandoffCooldown = errors.New("handoff cooldown has not elapsed")

	// ErrHandoffDenied means the permission table forbids the transfer.
	ErrHandoffDenied = errors.New("handoff not permitted between these agents")

	// ErrNotHandedOff means a takeover operation was attempted on a
	// session no human holds.
	ErrNotHandedOff = errors.New("session is not handed off")

	// ErrAlreadyEscalated means the session is already with a human.
	ErrAlreadyEscalated = errors.New("session is already escalated")
)
