package speechgate

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger holds per-tenant usage accounts and performs atomic check/deduct
// operations against them.
type Ledger interface {
	// CheckQuota reports whether the tenant has at least required base units
	// left before the soft limit. Read-only, no side effect, and not
	// authoritative: Deduct re-validates under the account lock.
	CheckQuota(ctx context.Context, target BillingTarget, required int64) (bool, error)

	// QuotaInfo returns the tenant's quota snapshot.
	QuotaInfo(ctx context.Context, target BillingTarget) (QuotaInfo, error)

	// Deduct converts rawAmount to base units and commits the deduction.
	// The guard-then-increment is a single serialized operation per account:
	// concurrent deductions against the same account can never both pass a
	// check only one can satisfy. Fails with NoSubscriptionError when the
	// account has no active period, and with QuotaHardLimitError (no
	// mutation) when the deduction would exceed total*(1+buffer).
	Deduct(ctx context.Context, target BillingTarget, rawAmount float64, unit Unit, uctx UsageContext) (UsageLogEntry, error)
}

// EffectiveLimit returns the hard cap for an account: the total allowance
// plus the grace buffer, truncated to whole base units. Computed in decimal
// like the conversion table, so large allowances never lose a unit to
// float64 rounding.
func EffectiveLimit(total int64, bufferFraction float64) int64 {
	factor := decimal.NewFromFloat(bufferFraction).Add(decimal.NewFromInt(1))
	return decimal.NewFromInt(total).Mul(factor).IntPart()
}

// ClassifyQuota buckets usage into the dashboard quota states.
func ClassifyQuota(total, used int64, bufferFraction float64) QuotaState {
	if total <= 0 {
		return QuotaExhausted
	}
	switch {
	case used >= EffectiveLimit(total, bufferFraction):
		return QuotaExhausted
	case used > total:
		return QuotaBuffer
	case used*100 >= total*80:
		return QuotaWarning
	default:
		return QuotaOK
	}
}
