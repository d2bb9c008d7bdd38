// Package ledger provides quota Ledger implementations for speechgate.
//
// The in-memory store here serves tests and single-process deployments;
// the postgres and redis subpackages are multi-instance-safe backends.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edukit/speechgate"
)

// MemoryLedger is an in-memory Ledger. Deductions against the same account
// serialize on a per-account lock; different accounts never contend.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[speechgate.BillingTarget]*memoryAccount
}

type memoryAccount struct {
	mu      sync.Mutex
	state   speechgate.UsageAccount
	entries []speechgate.UsageLogEntry
}

var _ speechgate.Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[speechgate.BillingTarget]*memoryAccount),
	}
}

// SetAccount seeds or replaces a tenant's active billing period.
func (l *MemoryLedger) SetAccount(account speechgate.UsageAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if account.BufferFraction == 0 {
		account.BufferFraction = speechgate.DefaultBufferFraction
	}
	l.accounts[account.Tenant] = &memoryAccount{state: account}
}

// CheckQuota reports whether the tenant has required base units left before
// the soft limit. Read-only.
func (l *MemoryLedger) CheckQuota(_ context.Context, target speechgate.BillingTarget, required int64) (bool, error) {
	acct, err := l.account(target)
	if err != nil {
		return false, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.state.TotalAllowance-acct.state.UsedAllowance >= required, nil
}

// QuotaInfo returns the tenant's quota snapshot.
func (l *MemoryLedger) QuotaInfo(_ context.Context, target speechgate.BillingTarget) (speechgate.QuotaInfo, error) {
	acct, err := l.account(target)
	if err != nil {
		return speechgate.QuotaInfo{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return snapshot(acct.state), nil
}

// Deduct converts rawAmount and commits the deduction under the account
// lock: the limit guard and the increment are one serialized operation.
func (l *MemoryLedger) Deduct(_ context.Context, target speechgate.BillingTarget, rawAmount float64, unit speechgate.Unit, uctx speechgate.UsageContext) (speechgate.UsageLogEntry, error) {
	cost, err := speechgate.Convert(rawAmount, unit)
	if err != nil {
		return speechgate.UsageLogEntry{}, err
	}

	acct, err := l.account(target)
	if err != nil {
		return speechgate.UsageLogEntry{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	state := &acct.state
	limit := speechgate.EffectiveLimit(state.TotalAllowance, state.BufferFraction)
	if state.UsedAllowance+cost > limit {
		return speechgate.UsageLogEntry{}, &speechgate.QuotaHardLimitError{
			Tenant:         target,
			Used:           state.UsedAllowance,
			Total:          state.TotalAllowance,
			EffectiveLimit: limit,
			OverBy:         state.UsedAllowance + cost - limit,
		}
	}

	before := state.UsedAllowance
	state.UsedAllowance += cost

	entry := speechgate.UsageLogEntry{
		ID:          uuid.New().String(),
		Tenant:      target,
		StudentID:   uctx.StudentID,
		RequestID:   uctx.RequestID,
		Feature:     uctx.Feature,
		RawAmount:   rawAmount,
		RawUnit:     unit,
		Cost:        cost,
		QuotaBefore: before,
		QuotaAfter:  state.UsedAllowance,
		CreatedAt:   time.Now().UTC(),
	}
	acct.entries = append(acct.entries, entry)

	return entry, nil
}

// Entries returns a copy of the committed usage log for a tenant.
func (l *MemoryLedger) Entries(target speechgate.BillingTarget) []speechgate.UsageLogEntry {
	l.mu.RLock()
	acct, ok := l.accounts[target]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	out := make([]speechgate.UsageLogEntry, len(acct.entries))
	copy(out, acct.entries)
	return out
}

func (l *MemoryLedger) account(target speechgate.BillingTarget) (*memoryAccount, error) {
	l.mu.RLock()
	acct, ok := l.accounts[target]
	l.mu.RUnlock()

	if !ok {
		return nil, &speechgate.NoSubscriptionError{Tenant: target}
	}

	acct.mu.Lock()
	status := acct.state.Status
	acct.mu.Unlock()
	if status != speechgate.AccountActive {
		return nil, &speechgate.NoSubscriptionError{Tenant: target}
	}
	return acct, nil
}

func snapshot(state speechgate.UsageAccount) speechgate.QuotaInfo {
	remaining := state.TotalAllowance - state.UsedAllowance
	if remaining < 0 {
		remaining = 0
	}
	return speechgate.QuotaInfo{
		Total:          state.TotalAllowance,
		Used:           state.UsedAllowance,
		Remaining:      remaining,
		EffectiveLimit: speechgate.EffectiveLimit(state.TotalAllowance, state.BufferFraction),
		Status:         speechgate.ClassifyQuota(state.TotalAllowance, state.UsedAllowance, state.BufferFraction),
	}
}
