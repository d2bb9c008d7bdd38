// Package postgres provides a PostgreSQL-backed Ledger for speechgate.
//
// Account state and the usage log live in PostgreSQL tables. Deduct runs as
// a single transaction holding a row lock on the account, so concurrent
// deductions against the same tenant serialize while different tenants
// proceed independently. This makes it safe for multi-instance deployments
// and provides durability across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukit/speechgate"
)

// Ledger is a PostgreSQL-backed speechgate.Ledger.
type Ledger struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ speechgate.Ledger = (*Ledger)(nil)

// Option configures Ledger.
type Option func(*Ledger)

// WithTablePrefix sets the table name prefix (default "speechgate_").
func WithTablePrefix(prefix string) Option {
	return func(l *Ledger) { l.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Ledger {
	l := &Ledger{
		pool:        pool,
		tablePrefix: "speechgate_",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) accountsTable() string { return l.tablePrefix + "accounts" }
func (l *Ledger) usageLogTable() string { return l.tablePrefix + "usage_log" }

// EnsureSchema creates the required tables if they don't exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_kind TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			total_allowance BIGINT NOT NULL,
			used_allowance BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			buffer_fraction DOUBLE PRECISION NOT NULL DEFAULT 0.20,
			PRIMARY KEY (tenant_kind, tenant_id)
		);
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant_kind TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			student_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			feature TEXT NOT NULL DEFAULT '',
			raw_amount DOUBLE PRECISION NOT NULL,
			raw_unit TEXT NOT NULL,
			cost BIGINT NOT NULL,
			quota_before BIGINT NOT NULL,
			quota_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, l.accountsTable(), l.usageLogTable())
	_, err := l.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("speechgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// SetAccount seeds or replaces a tenant's active billing period (upsert).
func (l *Ledger) SetAccount(ctx context.Context, account speechgate.UsageAccount) error {
	if account.BufferFraction == 0 {
		account.BufferFraction = speechgate.DefaultBufferFraction
	}
	_, err := l.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (tenant_kind, tenant_id, total_allowance, used_allowance, status, buffer_fraction)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_kind, tenant_id) DO UPDATE SET
				total_allowance = $3, used_allowance = $4, status = $5, buffer_fraction = $6`,
			l.accountsTable()),
		string(account.Tenant.Kind), account.Tenant.ID,
		account.TotalAllowance, account.UsedAllowance, string(account.Status), account.BufferFraction,
	)
	if err != nil {
		return fmt.Errorf("speechgate/postgres: set account: %w", err)
	}
	return nil
}

// CheckQuota reports whether the tenant has required base units left before
// the soft limit. Read-only.
func (l *Ledger) CheckQuota(ctx context.Context, target speechgate.BillingTarget, required int64) (bool, error) {
	account, err := l.loadAccount(ctx, l.pool, target, false)
	if err != nil {
		return false, err
	}
	return account.TotalAllowance-account.UsedAllowance >= required, nil
}

// QuotaInfo returns the tenant's quota snapshot.
func (l *Ledger) QuotaInfo(ctx context.Context, target speechgate.BillingTarget) (speechgate.QuotaInfo, error) {
	account, err := l.loadAccount(ctx, l.pool, target, false)
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

// Deduct converts rawAmount and commits the deduction in one transaction.
// The SELECT ... FOR UPDATE row lock serializes same-account deductions; the
// guard and increment can never interleave across requests.
func (l *Ledger) Deduct(ctx context.Context, target speechgate.BillingTarget, rawAmount float64, unit speechgate.Unit, uctx speechgate.UsageContext) (speechgate.UsageLogEntry, error) {
	cost, err := speechgate.Convert(rawAmount, unit)
	if err != nil {
		return speechgate.UsageLogEntry{}, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := l.loadAccount(ctx, tx, target, true)
	if err != nil {
		return speechgate.UsageLogEntry{}, err
	}

	limit := speechgate.EffectiveLimit(account.TotalAllowance, account.BufferFraction)
	if account.UsedAllowance+cost > limit {
		return speechgate.UsageLogEntry{}, &speechgate.QuotaHardLimitError{
			Tenant:         target,
			Used:           account.UsedAllowance,
			Total:          account.TotalAllowance,
			EffectiveLimit: limit,
			OverBy:         account.UsedAllowance + cost - limit,
		}
	}

	entry := speechgate.UsageLogEntry{
		ID:          uuid.New().String(),
		Tenant:      target,
		StudentID:   uctx.StudentID,
		RequestID:   uctx.RequestID,
		Feature:     uctx.Feature,
		RawAmount:   rawAmount,
		RawUnit:     unit,
		Cost:        cost,
		QuotaBefore: account.UsedAllowance,
		QuotaAfter:  account.UsedAllowance + cost,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used_allowance = used_allowance + $1 WHERE tenant_kind = $2 AND tenant_id = $3`,
			l.accountsTable()),
		cost, string(target.Kind), target.ID,
	)
	if err != nil {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/postgres: deduct: %w", err)
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_kind, tenant_id, student_id, request_id, feature, raw_amount, raw_unit, cost, quota_before, quota_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			l.usageLogTable()),
		entry.ID, string(target.Kind), target.ID, entry.StudentID, entry.RequestID, entry.Feature,
		entry.RawAmount, string(entry.RawUnit), entry.Cost, entry.QuotaBefore, entry.QuotaAfter, entry.CreatedAt,
	)
	if err != nil {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/postgres: log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return speechgate.UsageLogEntry{}, fmt.Errorf("speechgate/postgres: commit: %w", err)
	}

	return entry, nil
}

// Entries returns the committed usage log for a tenant, oldest first.
func (l *Ledger) Entries(ctx context.Context, target speechgate.BillingTarget) ([]speechgate.UsageLogEntry, error) {
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, student_id, request_id, feature, raw_amount, raw_unit, cost, quota_before, quota_after, created_at
			FROM %s WHERE tenant_kind = $1 AND tenant_id = $2 ORDER BY created_at`,
			l.usageLogTable()),
		string(target.Kind), target.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("speechgate/postgres: entries: %w", err)
	}
	defer rows.Close()

	var entries []speechgate.UsageLogEntry
	for rows.Next() {
		e := speechgate.UsageLogEntry{Tenant: target}
		var unit string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.RequestID, &e.Feature, &e.RawAmount, &unit,
			&e.Cost, &e.QuotaBefore, &e.QuotaAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("speechgate/postgres: scan entry: %w", err)
		}
		e.RawUnit = speechgate.Unit(unit)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (l *Ledger) loadAccount(ctx context.Context, q queryer, target speechgate.BillingTarget, forUpdate bool) (speechgate.UsageAccount, error) {
	query := fmt.Sprintf(`SELECT total_allowance, used_allowance, status, buffer_fraction
		FROM %s WHERE tenant_kind = $1 AND tenant_id = $2`, l.accountsTable())
	if forUpdate {
		query += " FOR UPDATE"
	}

	account := speechgate.UsageAccount{Tenant: target}
	var status string
	err := q.QueryRow(ctx, query, string(target.Kind), target.ID).
		Scan(&account.TotalAllowance, &account.UsedAllowance, &status, &account.BufferFraction)
	if errors.Is(err, pgx.ErrNoRows) {
		return speechgate.UsageAccount{}, &speechgate.NoSubscriptionError{Tenant: target}
	}
	if err != nil {
		return speechgate.UsageAccount{}, fmt.Errorf("speechgate/postgres: load account: %w", err)
	}

	account.Status = speechgate.AccountStatus(status)
	if account.Status != speechgate.AccountActive {
		return speechgate.UsageAccount{}, &speechgate.NoSubscriptionError{Tenant: target}
	}
	return account, nil
}
