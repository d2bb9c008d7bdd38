package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sg "github.com/edukit/speechgate"
	"github.com/edukit/speechgate/ledger"
)

func seededLedger(total, used int64) (*ledger.MemoryLedger, sg.BillingTarget) {
	l := ledger.NewMemoryLedger()
	target := sg.Teacher("teacher-1")
	l.SetAccount(sg.UsageAccount{
		Tenant:         target,
		TotalAllowance: total,
		UsedAllowance:  used,
		Status:         sg.AccountActive,
		BufferFraction: 0.20,
	})
	return l, target
}

// Test 1: Deductions convert units, increment usage, and log an entry.
func TestMemoryLedger_Deduct(t *testing.T) {
	l, target := seededLedger(1000, 0)
	ctx := context.Background()

	entry, err := l.Deduct(ctx, target, 500, sg.UnitWord, sg.UsageContext{
		StudentID: "student-1",
		RequestID: "req-1",
		Feature:   "speech_assessment",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(50), entry.Cost)
	assert.Equal(t, int64(0), entry.QuotaBefore)
	assert.Equal(t, int64(50), entry.QuotaAfter)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	info, err := l.QuotaInfo(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Used)
	assert.Equal(t, int64(950), info.Remaining)
}

// Test 2: Usage equals the sum of logged costs after mixed deductions.
func TestMemoryLedger_Reconciliation(t *testing.T) {
	l, target := seededLedger(10000, 0)
	ctx := context.Background()

	deductions := []struct {
		amount float64
		unit   sg.Unit
	}{
		{120, sg.UnitSeconds},
		{500, sg.UnitWord},
		{2, sg.UnitImage},
		{1.5, sg.UnitMinute},
	}
	for _, d := range deductions {
		_, err := l.Deduct(ctx, target, d.amount, d.unit, sg.UsageContext{})
		require.NoError(t, err)
	}

	var sum int64
	for _, entry := range l.Entries(target) {
		sum += entry.Cost
	}

	info, err := l.QuotaInfo(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, sum, info.Used)
}

// Test 3: The hard limit allows landing exactly on it, then rejects.
func TestMemoryLedger_HardLimitBoundary(t *testing.T) {
	l, target := seededLedger(1000, 1150)
	ctx := context.Background()

	// 1150 + 50 = 1200, exactly the effective limit.
	entry, err := l.Deduct(ctx, target, 50, sg.UnitSeconds, sg.UsageContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), entry.QuotaAfter)

	// One more unit goes over.
	_, err = l.Deduct(ctx, target, 1, sg.UnitSeconds, sg.UsageContext{})
	var hardErr *sg.QuotaHardLimitError
	require.ErrorAs(t, err, &hardErr)
	assert.Equal(t, int64(1200), hardErr.Used)
	assert.Equal(t, int64(1200), hardErr.EffectiveLimit)
	assert.Equal(t, int64(1), hardErr.OverBy)

	// The rejected deduction must not mutate the account.
	info, err := l.QuotaInfo(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), info.Used)
	assert.Len(t, l.Entries(target), 1)
}

// Test 4: Quota status transitions across the soft limit and buffer.
func TestMemoryLedger_StatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		used int64
		want sg.QuotaState
	}{
		{"fresh account", 0, sg.QuotaOK},
		{"just below warning", 799, sg.QuotaOK},
		{"at eighty percent", 800, sg.QuotaWarning},
		{"at the soft limit", 1000, sg.QuotaWarning},
		{"inside the buffer", 1001, sg.QuotaBuffer},
		{"deep in the buffer", 1199, sg.QuotaBuffer},
		{"at the hard limit", 1200, sg.QuotaExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, target := seededLedger(1000, tt.used)
			info, err := l.QuotaInfo(context.Background(), target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Status)
		})
	}
}

// Test 5: CheckQuota is a soft check against the base allowance only.
func TestMemoryLedger_CheckQuotaIgnoresBuffer(t *testing.T) {
	l, target := seededLedger(1000, 990)
	ctx := context.Background()

	ok, err := l.CheckQuota(ctx, target, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.CheckQuota(ctx, target, 11)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Test 6: Missing and non-active accounts report no subscription.
func TestMemoryLedger_NoSubscription(t *testing.T) {
	l := ledger.NewMemoryLedger()
	ctx := context.Background()

	_, err := l.QuotaInfo(ctx, sg.Teacher("ghost"))
	assert.ErrorIs(t, err, sg.ErrNoSubscription)

	expired := sg.Teacher("expired")
	l.SetAccount(sg.UsageAccount{
		Tenant:         expired,
		TotalAllowance: 1000,
		Status:         sg.AccountExpired,
	})
	_, err = l.Deduct(ctx, expired, 1, sg.UnitSeconds, sg.UsageContext{})
	assert.ErrorIs(t, err, sg.ErrNoSubscription)
}

// Test 7: Concurrent deductions against one account never overshoot.
func TestMemoryLedger_ConcurrentDeducts(t *testing.T) {
	l, target := seededLedger(100, 0)
	ctx := context.Background()

	const attempts = 200
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Deduct(ctx, target, 1, sg.UnitSeconds, sg.UsageContext{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, sg.ErrQuotaHardLimit)
	}

	// Effective limit is 120, so exactly 120 single-unit deductions land.
	assert.Equal(t, 120, succeeded)

	info, err := l.QuotaInfo(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(120), info.Used)
	assert.Len(t, l.Entries(target), 120)
}

// Test 8: Unsupported units are rejected before touching the account.
func TestMemoryLedger_UnsupportedUnit(t *testing.T) {
	l, target := seededLedger(1000, 0)

	_, err := l.Deduct(context.Background(), target, 10, sg.Unit("tokens"), sg.UsageContext{})
	var unitErr *sg.UnsupportedUnitError
	require.ErrorAs(t, err, &unitErr)
	assert.Empty(t, l.Entries(target))
}
