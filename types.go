package speechgate

import "time"

// TenantKind distinguishes the two billing-responsible entity types.
type TenantKind string

const (
	TenantOrganization TenantKind = "organization"
	TenantTeacher      TenantKind = "teacher"
)

// BillingTarget is the resolved billing tenant for one request. It is
// created per-request and never persisted.
type BillingTarget struct {
	Kind TenantKind
	ID   string
}

func (t BillingTarget) String() string {
	return string(t.Kind) + "/" + t.ID
}

// Organization returns a BillingTarget for an organization account.
func Organization(id string) BillingTarget {
	return BillingTarget{Kind: TenantOrganization, ID: id}
}

// Teacher returns a BillingTarget for an individual teacher account.
func Teacher(id string) BillingTarget {
	return BillingTarget{Kind: TenantTeacher, ID: id}
}

// AccountStatus describes a usage account's billing period state.
type AccountStatus string

const (
	AccountActive         AccountStatus = "active"
	AccountExpired        AccountStatus = "expired"
	AccountNoSubscription AccountStatus = "no_subscription"
)

// UsageAccount is a tenant's currently active billing period. UsedAllowance
// only ever grows while the account is active; it is reset externally at
// period rollover.
type UsageAccount struct {
	Tenant         BillingTarget
	TotalAllowance int64
	UsedAllowance  int64
	Status         AccountStatus
	BufferFraction float64
}

// UsageLogEntry is the immutable record of one committed deduction.
type UsageLogEntry struct {
	ID          string
	Tenant      BillingTarget
	StudentID   string
	RequestID   string
	Feature     string
	RawAmount   float64
	RawUnit     Unit
	Cost        int64
	QuotaBefore int64
	QuotaAfter  int64
	CreatedAt   time.Time
}

// QuotaState buckets how much of the allowance a tenant has consumed.
type QuotaState string

const (
	QuotaOK        QuotaState = "ok"        // used < 80% of total
	QuotaWarning   QuotaState = "warning"   // 80% <= used <= total
	QuotaBuffer    QuotaState = "buffer"    // total < used < effective limit
	QuotaExhausted QuotaState = "exhausted" // used >= effective limit
)

// QuotaInfo is the read-only quota snapshot exposed to dashboards. Remaining
// is clamped to zero; EffectiveLimit is the hard cap including the grace
// buffer.
type QuotaInfo struct {
	Total          int64
	Used           int64
	Remaining      int64
	EffectiveLimit int64
	Status         QuotaState
}

// UsageContext carries the request attribution recorded on a UsageLogEntry.
type UsageContext struct {
	StudentID string
	RequestID string
	Feature   string
}

// AssessmentRequest is one speech-assessment submission.
type AssessmentRequest struct {
	Audio         []byte
	ReferenceText string
	Locale        string
	ClassroomID   string
	StudentID     string
}

// AssessmentResult is the outcome of a successful submission.
type AssessmentResult struct {
	Scores    RawResult
	Tenant    BillingTarget
	Usage     UsageLogEntry
	QueueWait time.Duration

	// BillingWarning is set when the deduction failed after a successful
	// provider call. The result is still delivered; the discrepancy is
	// reported here and through telemetry.
	BillingWarning error
}
