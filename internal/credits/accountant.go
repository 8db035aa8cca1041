package credits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
)

// ThresholdKind identifies which sharing cap crossed its notify threshold.
type ThresholdKind string

const (
	ThresholdPerChild    ThresholdKind = "per_child"
	ThresholdSharedTotal ThresholdKind = "shared_total"
)

// ThresholdNotice is emitted once per (cap, day) when a sharing cap crosses
// its notifyAt fraction.
type ThresholdNotice struct {
	ParentOrgID string
	ChildOrgID  string // empty for shared-total notices
	Kind        ThresholdKind
	Consumed    int64
	Cap         int64
	Day         string
}

// Notifier delivers owner notifications. Implementations route through the
// organization's configured channel binding.
type Notifier interface {
	NotifyThreshold(ctx context.Context, notice ThresholdNotice) error
}

// Deduction describes a completed deduction.
type Deduction struct {
	OrgID string
	// Amount is the credits deducted.
	Amount int64
	// FromParent is set when the balance came from the parent via sharing.
	FromParent string
	// Action labels what the spend was for (model call, tool, summary).
	Action string
}

// TxRunner is implemented by stores that can bind a deduction to one
// database transaction. The accountant uses it when available so cap checks
// and balance writes stay atomic across processes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(balances BalanceStore, ledger LedgerStore) error) error
}

// Accountant applies credit deductions with the daily → monthly → purchased
// consumption order and parent fallback under sharing caps.
//
// Deductions are serialized two ways: an in-process lock orders concurrent
// sessions in this process, and when the balance store implements TxRunner
// the whole deduction runs in one row-locked transaction, which is what
// keeps multi-process deployments from double-spending.
type Accountant struct {
	balances BalanceStore
	ledger   LedgerStore
	orgs     OrgDirectory
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
	// notified tracks one-time-per-threshold notifications, keyed per
	// (parent, child-or-total, day).
	notified map[string]bool
}

// Option configures the accountant.
type Option func(*Accountant)

// WithNotifier sets the threshold notifier.
func WithNotifier(notifier Notifier) Option {
	return func(a *Accountant) { a.notifier = notifier }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accountant) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(a *Accountant) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccountant creates a budget accountant.
func NewAccountant(balances BalanceStore, ledger LedgerStore, orgs OrgDirectory, opts ...Option) *Accountant {
	accountant := &Accountant{
		balances: balances,
		ledger:   ledger,
		orgs:     orgs,
		logger:   slog.Default(),
		now:      time.Now,
		notified: map[string]bool{},
	}
	for _, opt := range opts {
		opt(accountant)
	}
	return accountant
}

// Deduct withdraws amount credits from the organization, falling back to
// the direct parent under the parent's sharing configuration when the
// organization's own balance is insufficient.
func (a *Accountant) Deduct(ctx context.Context, orgID string, amount int64, action string) (*Deduction, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	state := &deductState{balances: a.balances, ledger: a.ledger}
	var deduction *Deduction
	if runner, ok := a.balances.(TxRunner); ok {
		err := runner.InTx(ctx, func(balances BalanceStore, ledger LedgerStore) error {
			state.balances, state.ledger = balances, ledger
			var err error
			deduction, err = a.deduct(ctx, state, orgID, amount, action, 0)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		deduction, err = a.deduct(ctx, state, orgID, amount, action, 0)
		if err != nil {
			return nil, err
		}
	}

	// Threshold notices go out only once the deduction is committed.
	for _, pending := range state.notices {
		a.checkThreshold(ctx, pending.notice, pending.notifyAt)
	}
	return deduction, nil
}

// deductState carries the store bindings for one deduction, transactional
// or not, plus the threshold notices it accrued.
type deductState struct {
	balances BalanceStore
	ledger   LedgerStore
	notices  []pendingNotice
}

type pendingNotice struct {
	notice   ThresholdNotice
	notifyAt float64
}

// maxFallbackDepth bounds parent recursion. Only one level of nesting is
// supported today; the bound guards against directory cycles.
const maxFallbackDepth = 3

func (a *Accountant) deduct(ctx context.Context, state *deductState, orgID string, amount int64, action string, depth int) (*Deduction, error) {
	balance, err := state.balances.Balance(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load balance for %s: %w", orgID, err)
	}

	if consumeTiers(balance, amount) {
		if err := state.balances.Save(ctx, balance); err != nil {
			return nil, fmt.Errorf("save balance for %s: %w", orgID, err)
		}
		return &Deduction{OrgID: orgID, Amount: amount, Action: action}, nil
	}

	if depth >= maxFallbackDepth {
		return nil, ErrCreditsExhausted
	}

	org, err := a.orgs.Org(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.ParentID == "" {
		return nil, ErrCreditsExhausted
	}

	parent, err := a.orgs.Org(ctx, org.ParentID)
	if err != nil {
		return nil, err
	}
	sharing := parent.CreditSharing
	if sharing == nil || !sharing.Enabled {
		return nil, ErrSharingDisabled
	}

	day := DayKey(a.now())

	childCap := sharing.CapForChild(orgID)
	consumed, err := state.ledger.ChildConsumed(ctx, parent.ID, orgID, day)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if float64(consumed+amount) > float64(childCap)*sharing.BlockFraction() {
		return nil, ErrChildCapReached
	}

	totalShared, err := state.ledger.TotalShared(ctx, parent.ID, day)
	if err != nil {
		return nil, fmt.Errorf("ledger total: %w", err)
	}
	if sharing.MaxTotalShared > 0 && float64(totalShared+amount) > float64(sharing.MaxTotalShared)*sharing.BlockFraction() {
		return nil, ErrSharedPoolExhausted
	}

	// The parent pays from its own balance, which may itself fall through
	// to a grandparent.
	if _, err := a.deduct(ctx, state, parent.ID, amount, action, depth+1); err != nil {
		return nil, err
	}

	newConsumed, err := state.ledger.Record(ctx, parent.ID, orgID, day, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger record: %w", err)
	}

	state.notices = append(state.notices, pendingNotice{
		notice: ThresholdNotice{
			ParentOrgID: parent.ID,
			ChildOrgID:  orgID,
			Kind:        ThresholdPerChild,
			Consumed:    newConsumed,
			Cap:         childCap,
			Day:         day,
		},
		notifyAt: sharing.NotifyAt,
	})

	if sharing.MaxTotalShared > 0 {
		state.notices = append(state.notices, pendingNotice{
			notice: ThresholdNotice{
				ParentOrgID: parent.ID,
				Kind:        ThresholdSharedTotal,
				Consumed:    totalShared + amount,
				Cap:         sharing.MaxTotalShared,
				Day:         day,
			},
			notifyAt: sharing.NotifyAt,
		})
	}

	a.logger.Info("credits drawn from parent",
		"org_id", orgID,
		"parent_org_id", parent.ID,
		"amount", amount,
		"action", action,
		"child_daily_total", newConsumed,
	)

	return &Deduction{OrgID: orgID, Amount: amount, FromParent: parent.ID, Action: action}, nil
}

// checkThreshold emits a one-time notification when consumption crosses
// notifyAt × cap.
func (a *Accountant) checkThreshold(ctx context.Context, notice ThresholdNotice, notifyAt float64) {
	if a.notifier == nil || notifyAt <= 0 || notice.Cap <= 0 {
		return
	}
	if float64(notice.Consumed) < float64(notice.Cap)*notifyAt {
		return
	}
	key := fmt.Sprintf("%s|%s|%s|%s", notice.ParentOrgID, notice.ChildOrgID, notice.Kind, notice.Day)
	if a.notified[key] {
		return
	}
	a.notified[key] = true
	if err := a.notifier.NotifyThreshold(ctx, notice); err != nil {
		a.logger.Warn("threshold notification failed",
			"parent_org_id", notice.ParentOrgID,
			"kind", string(notice.Kind),
			"error", err,
		)
	}
}

// consumeTiers withdraws amount across daily → monthly → purchased in that
// strict order. Returns false, leaving the balance untouched, when the
// combined tiers cannot cover the amount. Unlimited tiers absorb any
// remainder.
func consumeTiers(balance *models.CreditBalance, amount int64) bool {
	if balance.Unlimited() {
		// An unlimited tier absorbs the spend; finite tiers above it in
		// the order still drain first.
		remaining := amount
		remaining = drainTier(&balance.Daily, remaining)
		remaining = drainTier(&balance.Monthly, remaining)
		remaining = drainTier(&balance.Purchased, remaining)
		return remaining == 0
	}

	if balance.Daily+balance.Monthly+balance.Purchased < amount {
		return false
	}
	remaining := amount
	remaining = drainTier(&balance.Daily, remaining)
	remaining = drainTier(&balance.Monthly, remaining)
	remaining = drainTier(&balance.Purchased, remaining)
	return remaining == 0
}

// drainTier withdraws as much of remaining as the tier holds. Unlimited
// tiers absorb everything.
func drainTier(tier *int64, remaining int64) int64 {
	if remaining == 0 {
		return 0
	}
	if *tier == models.UnlimitedCredits {
		return 0
	}
	if *tier >= remaining {
		*tier -= remaining
		return 0
	}
	remaining -= *tier
	*tier = 0
	return remaining
}
