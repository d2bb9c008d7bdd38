// Package redis provides a Redis-backed Ledger for speechgate.
//
// Account state is stored in Redis hashes and the usage log in lists. The
// deduction guard and increment run in a single Lua script, so same-account
// deductions are atomic across instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/edukit/speechgate"
)

// Ledger is a Redis-backed speechgate.Ledger.
type Ledger struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ speechgate.Ledger = (*Ledger)(nil)

// Option configures Ledger.
type Option func(*Ledger)

// WithKeyPrefix sets the Redis key prefix (default "speechgate:ledger:").
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) { l.keyPrefix = prefix }
}

// New creates a new Redis-backed Ledger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Ledger {
	l := &Ledger{
		client:    client,
		keyPrefix: "speechgate:ledger:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) accountKey(target speechgate.BillingTarget) string {
	return l.keyPrefix + string(target.Kind) + ":" + target.ID
}

func (l *Ledger) logKey(target speechgate.BillingTarget) string {
	return l.keyPrefix + "log:" + string(target.Kind) + ":" + target.ID
}

// deductScript atomically guards and increments used_allowance.
// KEYS[1] = account hash key
// ARGV[1] = cost
//
// Returns {code, used_before, total, limit} from one snapshot of the
// account, so error fields can never mix states across a concurrent
// SetAccount:
//
//	 1 = deducted OK
//	 0 = hard limit exceeded
//	-1 = account not found or not active
var deductScript = goredis.NewScript(`
local account_key = KEYS[1]
local cost = tonumber(ARGV[1])

local total = redis.call("HGET", account_key, "total_allowance")
if not total then
    return {-1, 0, 0, 0}
end
total = tonumber(total)

local status = redis.call("HGET", account_key, "status")
if status ~= "active" then
    return {-1, 0, 0, 0}
end

local used = tonumber(redis.call("HGET", account_key, "used_allowance") or "0")
local buffer = tonumber(redis.call("HGET", account_key, "buffer_fraction") or "0.20")
local limit = math.floor(total * (1 + buffer))

if used + cost > limit then
    return {0, used, total, limit}
end

redis.call("HINCRBY", account_key, "used_allowance", cost)
return {1, used, total, limit}
`)

// SetAccount seeds or replaces a tenant's active billing period.
func (l *Ledger) SetAccount(ctx context.Context, account speechgate.UsageAccount) error {
	if account.BufferFraction == 0 {
		account.BufferFraction = speechgate.DefaultBufferFraction
	}
	err := l.client.HSet(ctx, l.accountKey(account.Tenant),
		"total_allowance", account.TotalAllowance,
		"used_allowance", account.UsedAllowance,
		"status", string(account.Status),
		"buffer_fraction", strconv.FormatFloat(account.BufferFraction, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("speechgate/redis: set account: %w", err)
	}
	return nil
}

// CheckQuota reports whether the tenant has required base units left before
// the soft limit. Read-only.
func (l *Ledger) CheckQuota(ctx context.Context, target speechgate.BillingTarget, required int64) (bool, error) {
	account, err := l.loadAccount(ctx, target)
	if err != nil {
		return false, err
	}
	return account.TotalAllowance-account.UsedAllowance >= required, nil
}

// QuotaInfo returns the tenant's quota snapshot.
func (l *Ledger) QuotaInfo(ctx context.Context, target speechgate.BillingTarget) (speechgate.QuotaInfo, error) {
	account, err := l.loadAccount(ctx, target)
	if err != nil {
		return speechgate.QuotaInfo{}, err
	}

	remaining := account.TotalAllowance - account.UsedAllowance
	if remaining < 0 {
		remaining = 0
	}
	return speechgate.QuotaInfo{
		Total:          account.TotalAllowance,
		Used:           account.UsedAllowance,
		Remaining:      remaining,
		EffectiveLimit: speechgate.EffectiveLimit(account.TotalAllowance, account.BufferFraction),
		Status:         speechgate.ClassifyQuota(account.TotalAllowance, account.UsedAllowance, account.BufferFraction),
	}, nil
}

// Deduct converts rawAmount and commits the deduction through the Lua
// script, then appends the log entry.
func (l *Ledger) Deduct(ctx context.Context, target speechgate.BillingTarget, rawAmount float64, unit speechgate.Unit, uctx speechgate.UsageContext) (speechgate.UsageLogEntry, error) {
	cost, err := speechgate.Convert(rawAmount, unit)
	if err != nil {
		return speechgate.UsageLogEntry{}, err
	}

	result, err := deductScript.Run(ctx, l.client,
		[]string{l.accountKey(target)},
		cost,
	).Int64Slice()
	if err != nil {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/redis: deduct: %w", err)
	}
	if len(result) != 4 {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/redis: unexpected deduct result: %v", result)
	}
	code, before, total, limit := result[0], result[1], result[2], result[3]

	switch code {
	case 1:
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
			QuotaAfter:  before + cost,
			CreatedAt:   time.Now().UTC(),
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/redis: marshal entry: %w", err)
		}
		if err := l.client.RPush(ctx, l.logKey(target), payload).Err(); err != nil {
			return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/redis: log entry: %w", err)
		}
		return entry, nil

	case 0:
		return speechgate.UsageLogEntry{}, &speechgate.QuotaHardLimitError{
			Tenant:         target,
			Used:           before,
			Total:          total,
			EffectiveLimit: limit,
			OverBy:         before + cost - limit,
		}

	case -1:
		return speechgate.UsageLogEntry{}, &speechgate.NoSubscriptionError{Tenant: target}

	default:
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/redis: unexpected deduct code: %d", code)
	}
}

// Entries returns the committed usage log for a tenant, oldest first.
func (l *Ledger) Entries(ctx context.Context, target speechgate.BillingTarget) ([]speechgate.UsageLogEntry, error) {
	raw, err := l.client.LRange(ctx, l.logKey(target), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("speechgate/redis: entries: %w", err)
	}

	entries := make([]speechgate.UsageLogEntry, 0, len(raw))
	for _, item := range raw {
		var e speechgate.UsageLogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("speechgate/redis: unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *Ledger) loadAccount(ctx context.Context, target speechgate.BillingTarget) (speechgate.UsageAccount, error) {
	fields, err := l.client.HGetAll(ctx, l.accountKey(target)).Result()
	if err != nil {
		return speechgate.UsageAccount{}, fmt.Errorf("speechgate/redis: load account: %w", err)
	}
	if len(fields) == 0 {
		return speechgate.UsageAccount{}, &speechgate.NoSubscriptionError{Tenant: target}
	}

	status := speechgate.AccountStatus(fields["status"])
	if status != speechgate.AccountActive {
		return speechgate.UsageAccount{}, &speechgate.NoSubscriptionError{Tenant: target}
	}

	total, _ := strconv.ParseInt(fields["total_allowance"], 10, 64)
	used, _ := strconv.ParseInt(fields["used_allowance"], 10, 64)
	buffer, _ := strconv.ParseFloat(fields["buffer_fraction"], 64)

	return speechgate.UsageAccount{
		Tenant:         target,
		TotalAllowance: total,
		UsedAllowance:  used,
		Status:         status,
		BufferFraction: buffer,
	}, nil
}
