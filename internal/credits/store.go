// Package credits implements the credit ledger and budget accountant:
// three-tier balances per organization, parent→child credit sharing under
// daily caps, and the sharing ledger that records cross-organization draws.
package credits

import (
	"context"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

// ReferenceLocation is the fixed timezone for ledger day partitioning, so
// calendar-day keys never drift across organizations.
var ReferenceLocation = time.UTC

// DayKey returns the calendar-day ledger key for a point in time.
func DayKey(t time.Time) string {
	return t.In(ReferenceLocation).Format("2006-01-02")
}

// BalanceStore persists per-organization credit balances.
type BalanceStore interface {
	// Balance returns the organization's balance, zero-valued if absent.
	Balance(ctx context.Context, orgID string) (*models.CreditBalance, error)

	// Save writes the organization's balance.
	Save(ctx context.Context, balance *models.CreditBalance) error
}

// LedgerEntry is one (parent, child, day) sharing record. Amount
// accumulates all credits the child drew from the parent that day.
type LedgerEntry struct {
	ParentOrgID string    `json:"parent_org_id"`
	ChildOrgID  string    `json:"child_org_id"`
	Day         string    `json:"day"`
	Amount      int64     `json:"amount"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerStore persists the credit-sharing ledger. Entries are created on
// first cross-org deduction of the day and pruned after the retention
// window.
type LedgerStore interface {
	// Record adds amount to the (parent, child, day) entry, creating it
	// if needed, and returns the child's new daily total.
	Record(ctx context.Context, parentOrgID, childOrgID, day string, amount int64) (int64, error)

	// ChildConsumed returns the child's draw from the parent on the day.
	ChildConsumed(ctx context.Context, parentOrgID, childOrgID, day string) (int64, error)

	// TotalShared returns the parent's total shared consumption across
	// all children on the day.
	TotalShared(ctx context.Context, parentOrgID, day string) (int64, error)

	// Prune deletes entries for days before the cutoff day key.
	Prune(ctx context.Context, cutoffDay string) (int64, error)
}

// OrgDirectory resolves organizations for parent lookups.
type OrgDirectory interface {
	Org(ctx context.Context, orgID string) (*models.Organization, error)
}

// LedgerRetention is how long sharing ledger entries are kept.
const LedgerRetention = 90 * 24 * time.Hour

// PruneCutoff returns the day key before which entries should be pruned.
func PruneCutoff(now time.Time) string {
	return DayKey(now.Add(-LedgerRetention))
}
