package credits

import "errors"

// Budget failures carry distinct codes so callers can render distinct
// owner-facing guidance.
var (
	// ErrCreditsExhausted means the organization has no balance left and
	// no parent to fall back on.
	ErrCreditsExhausted = errors.New("CREDITS_EXHAUSTED")

	// ErrSharingDisabled means a parent exists but has credit sharing
	// turned off.
	ErrSharingDisabled = errors.New("CREDIT_SHARING_DISABLED")

	// ErrChildCapReached means the child's daily draw from its parent
	// would exceed the per-child cap.
	ErrChildCapReached = errors.New("CHILD_CREDIT_CAP_REACHED")

	// ErrSharedPoolExhausted means the parent's total daily shared pool
	// would be exceeded.
	ErrSharedPoolExhausted = errors.New("SHARED_POOL_EXHAUSTED")

	// ErrNegativeAmount rejects negative deductions.
	ErrNegativeAmount = errors.New("deduction amount must be non-negative")

	// ErrOrgNotFound means an organization lookup failed.
	ErrOrgNotFound = errors.New("organization not found")
)

// Code returns the stable error code for a budget failure, or empty for
// other errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrCreditsExhausted):
		return "CREDITS_EXHAUSTED"
	case errors.Is(err, ErrSharingDisabled):
		return "CREDIT_SHARING_DISABLED"
	case errors.Is(err, ErrChildCapReached):
		return "CHILD_CREDIT_CAP_REACHED"
	case errors.Is(err, ErrSharedPoolExhausted):
		return "SHARED_POOL_EXHAUSTED"
	default:
		return ""
	}
}
