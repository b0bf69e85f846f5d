// Package reconcile resolves reservations stuck in pending_payment by asking
// the payment provider for the authoritative outcome. A prompt the payer
// never answered, a lost callback or a crashed process all end up here.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bodarent/backend/internal/domain/reservation"
	"github.com/bodarent/backend/internal/payment/momo"
)

// Settler is the slice of the settlement service the poller drives.
type Settler interface {
	OnPaymentSettled(ctx context.Context, id uuid.UUID) error
	OnPaymentRejected(ctx context.Context, id uuid.UUID, reason string) error
}

// Config tunes the poller.
type Config struct {
	// Interval between polling sweeps.
	Interval time.Duration
	// MinAge is how long a reservation must sit in pending_payment before the
	// poller queries the provider for it. Fresh prompts are left alone.
	MinAge time.Duration
	// BatchSize caps reservations inspected per sweep.
	BatchSize int
}

// Metrics counts reconciliation activity.
type Metrics struct {
	inspected metric.Int64Counter
	verdicts  metric.Int64Counter
}

// NewMetrics registers the reconciliation instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	inspected, err := meter.Int64Counter("reconcile.inspected",
		metric.WithDescription("Stale pending reservations inspected by the poller"))
	if err != nil {
		return nil, err
	}
	verdicts, err := meter.Int64Counter("reconcile.verdicts",
		metric.WithDescription("Provider verdicts applied to stale reservations"))
	if err != nil {
		return nil, err
	}
	return &Metrics{inspected: inspected, verdicts: verdicts}, nil
}

func (m *Metrics) addInspected(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.inspected.Add(ctx, int64(n))
}

func (m *Metrics) addVerdict(ctx context.Context, outcome momo.Outcome) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// Poller periodically sweeps stale pending reservations and applies the
// provider's verdict. An unknown or still-pending outcome changes nothing:
// only an explicit provider answer moves a reservation.
type Poller struct {
	reservations reservation.Repository
	gateway      momo.Gateway
	settler      Settler
	cfg          Config
	metrics      *Metrics
	now          func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(reservations reservation.Repository, gateway momo.Gateway, settler Settler, cfg Config) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{
		reservations: reservations,
		gateway:      gateway,
		settler:      settler,
		cfg:          cfg,
		now:          time.Now,
	}
}

// WithMetrics attaches reconciliation metrics. A poller without metrics is
// valid and records nothing.
func (p *Poller) WithMetrics(m *Metrics) *Poller {
	p.metrics = m
	return p
}

// Run sweeps until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep inspects one batch of stale pending reservations.
func (p *Poller) Sweep(ctx context.Context) {
	lg := zctx.From(ctx)

	cutoff := p.now().Add(-p.cfg.MinAge)
	stale, err := p.reservations.ListStalePending(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		lg.Error("listing stale pending reservations", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}
	lg.Info("reconciling stale pending reservations", zap.Int("count", len(stale)))
	p.metrics.addInspected(ctx, len(stale))

	for _, res := range stale {
		if ctx.Err() != nil {
			return
		}
		p.reconcile(ctx, res)
	}
}

func (p *Poller) reconcile(ctx context.Context, res reservation.Reservation) {
	lg := zctx.From(ctx).With(zap.String("reservation_id", res.ID.String()))

	outcome, message, err := p.gateway.Status(ctx, res.ID.String())
	if err != nil {
		lg.Warn("provider status query failed", zap.Error(err))
		return
	}

	p.metrics.addVerdict(ctx, outcome)

	switch outcome {
	case momo.OutcomeSettled:
		if err := p.settler.OnPaymentSettled(ctx, res.ID); err != nil {
			lg.Error("settling reconciled reservation", zap.Error(err))
		}
	case momo.OutcomeRejected:
		if message == "" {
			message = "payment not completed"
		}
		if err := p.settler.OnPaymentRejected(ctx, res.ID, message); err != nil {
			lg.Error("failing reconciled reservation", zap.Error(err))
		}
	case momo.OutcomePending, momo.OutcomeUnknown:
		// No provider verdict yet. Unknown in particular is never treated as
		// success; the reservation stays pending for the next sweep.
		lg.Debug("reservation still unresolved", zap.String("outcome", string(outcome)))
	}
}
