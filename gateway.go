package speechgate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Gateway composes tenant resolution, quota accounting, and bounded
// admission around one upstream speech-assessment provider.
type Gateway struct {
	cfg        Config
	provider   Provider
	resolver   *Resolver
	ledger     Ledger
	admission  *AdmissionController
	sink       Sink
	dispatcher *Dispatcher
	health     *HealthTracker
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLedger sets the quota ledger.
func WithLedger(l Ledger) Option {
	return func(g *Gateway) { g.ledger = l }
}

// WithSink sets the error telemetry sink. The dispatcher in front of it is
// constructed by NewGateway once all options are applied, so option order
// does not matter.
func WithSink(s Sink) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithHealthTracker sets the provider health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(g *Gateway) { g.health = h }
}

// NewGateway creates a Gateway for the given provider and tenant directory.
// Default components (noop ledger, no telemetry sink, slog.Default) are used
// unless overridden via options.
func NewGateway(cfg Config, provider Provider, dir Directory, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("speechgate: a provider is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("speechgate: a tenant directory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:      cfg,
		provider: provider,
		resolver: NewResolver(dir),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	if g.ledger == nil {
		g.ledger = &noopLedger{}
	}
	if g.health == nil {
		g.health = NewHealthTracker()
	}
	if g.sink != nil {
		g.dispatcher = NewDispatcher(g.sink, cfg.Telemetry.Buffer, g.logger)
	}
	g.admission = NewAdmissionController(cfg.AdmissionConfig(), g.dispatcher, g.logger)

	return g, nil
}

// SubmitAssessment gates, executes, and bills one assessment request.
//
// Sequence: resolve tenant → quota precheck → admission-wrapped provider
// call → authoritative deduction → result. Quota failures abort before the
// expensive upstream call; a deduction failure after a successful call does
// not discard the result (see AssessmentResult.BillingWarning).
func (g *Gateway) SubmitAssessment(ctx context.Context, req AssessmentRequest) (AssessmentResult, error) {
	if len(req.Audio) == 0 {
		return AssessmentResult{}, fmt.Errorf("speechgate: audio payload is required")
	}
	if req.ClassroomID == "" {
		return AssessmentResult{}, fmt.Errorf("speechgate: classroom reference is required")
	}

	target, err := g.resolver.Resolve(ctx, req.ClassroomID)
	if err != nil {
		return AssessmentResult{}, err
	}

	sample := Sample{
		Audio:         req.Audio,
		ReferenceText: req.ReferenceText,
		Locale:        req.Locale,
	}
	requestID := uuid.New().String()

	// Fast precheck against the effective limit. Not authoritative: Deduct
	// re-validates under the account lock after the call.
	estimated := EstimateCost(sample)
	info, err := g.ledger.QuotaInfo(ctx, target)
	if err != nil {
		return AssessmentResult{}, err
	}
	if info.Used+estimated > info.EffectiveLimit {
		return AssessmentResult{}, &QuotaHardLimitError{
			Tenant:         target,
			Used:           info.Used,
			Total:          info.Total,
			EffectiveLimit: info.EffectiveLimit,
			OverBy:         info.Used + estimated - info.EffectiveLimit,
		}
	}
	if soft, err := g.ledger.CheckQuota(ctx, target, estimated); err == nil && !soft {
		g.logger.Warn("tenant entering quota grace buffer",
			"tenant", target.String(),
			"used", info.Used,
			"total", info.Total,
		)
	}

	meta := CallMeta{
		Tenant:       target,
		RequestID:    requestID,
		PayloadBytes: len(req.Audio),
	}
	raw, stats, err := g.admission.Do(ctx, meta, func(ctx context.Context) (RawResult, error) {
		return g.provider.Assess(ctx, sample)
	})
	if err != nil {
		g.health.RecordFailure(g.provider.Name())
		return AssessmentResult{}, err
	}
	g.health.RecordSuccess(g.provider.Name())

	result := AssessmentResult{
		Scores:    raw,
		Tenant:    target,
		QueueWait: stats.QueueWait,
	}

	// Authoritative deduction, billed on the measured audio duration. A
	// failure here is surfaced as a side channel rather than discarding the
	// paid-for result; the discrepancy is logged and shipped to telemetry
	// for reconciliation.
	entry, err := g.ledger.Deduct(ctx, target, float64(raw.BilledSeconds()), UnitSeconds, UsageContext{
		StudentID: req.StudentID,
		RequestID: requestID,
		Feature:   "speech_assessment",
	})
	if err != nil {
		berr := &BillingError{Tenant: target, Err: err}
		result.BillingWarning = berr
		g.logger.Warn("deduction failed after successful assessment",
			"tenant", target.String(),
			"request_id", requestID,
			"error", err,
		)
		if g.dispatcher != nil {
			g.dispatcher.Dispatch(ErrorEvent{
				Kind:         ErrorKindBilling,
				Message:      berr.Error(),
				Tenant:       target,
				RequestID:    requestID,
				PayloadBytes: len(req.Audio),
				Environment:  g.cfg.Environment,
				OccurredAt:   time.Now().UTC(),
			})
		}
		return result, nil
	}

	if entry.QuotaAfter > info.Total && info.Total > 0 {
		g.logger.Warn("tenant consuming quota grace buffer",
			"tenant", target.String(),
			"used", entry.QuotaAfter,
			"total", info.Total,
		)
	}

	result.Usage = entry
	return result, nil
}

// QuotaStatus returns the tenant's quota snapshot for dashboards.
func (g *Gateway) QuotaStatus(ctx context.Context, target BillingTarget) (QuotaInfo, error) {
	return g.ledger.QuotaInfo(ctx, target)
}

// ProviderHealth returns the tracked health of the upstream provider.
func (g *Gateway) ProviderHealth() HealthState {
	return g.health.GetHealth(g.provider.Name())
}

// Close stops the telemetry dispatcher, draining buffered events.
func (g *Gateway) Close() {
	if g.dispatcher != nil {
		g.dispatcher.Close()
	}
}

// noopLedger tracks nothing and allows everything (no quota configured).
type noopLedger struct{}

func (l *noopLedger) CheckQuota(context.Context, BillingTarget, int64) (bool, error) {
	return true, nil
}

func (l *noopLedger) QuotaInfo(context.Context, BillingTarget) (QuotaInfo, error) {
	return QuotaInfo{EffectiveLimit: math.MaxInt64, Status: QuotaOK}, nil
}

func (l *noopLedger) Deduct(_ context.Context, target BillingTarget, rawAmount float64, unit Unit, uctx UsageContext) (UsageLogEntry, error) {
	cost, err := Convert(rawAmount, unit)
	if err != nil {
		return UsageLogEntry{}, err
	}
	return UsageLogEntry{
		ID:        uuid.New().String(),
		Tenant:    target,
		StudentID: uctx.StudentID,
		RequestID: uctx.RequestID,
		Feature:   uctx.Feature,
		RawAmount: rawAmount,
		RawUnit:   unit,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
	}, nil
}
