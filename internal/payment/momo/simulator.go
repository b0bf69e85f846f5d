package momo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Simulator is a Gateway that fabricates successful payments after a fixed
// delay. It exists so the booking flow is exercisable without live provider
// credentials and must only be wired when explicitly enabled in
// configuration: every push it accepts is money that never moved.
type Simulator struct {
	delay       time.Duration
	countryCode string
	now         func() time.Time
	lg          *zap.Logger

	mu       sync.Mutex
	requests map[string]time.Time
}

var _ Gateway = (*Simulator)(nil)

// NewSimulator creates a simulated gateway that settles every push after the
// given delay. Payer numbers are normalised against the same default country
// code the real client uses. It logs a warning at construction so the
// fallback is never silent.
func NewSimulator(delay time.Duration, countryCode string, lg *zap.Logger) *Simulator {
	lg.Warn("payment SIMULATION enabled: pushes will settle locally without a provider",
		zap.Duration("settle_delay", delay))
	return &Simulator{
		delay:       delay,
		countryCode: countryCode,
		now:         time.Now,
		lg:          lg,
		requests:    make(map[string]time.Time),
	}
}

// RequestPush accepts every well-formed push and remembers when it arrived.
func (s *Simulator) RequestPush(_ context.Context, req PushRequest) (*PushResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &RejectionError{Reason: "amount must be positive"}
	}
	if _, err := NormalizeMSISDN(req.PayerMSISDN, s.countryCode); err != nil {
		return nil, &RejectionError{Reason: "invalid payer phone number"}
	}

	s.mu.Lock()
	s.requests[req.Reference] = s.now()
	s.mu.Unlock()

	s.lg.Warn("simulated payment push accepted",
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()))

	return &PushResult{
		ProviderMessage: "simulated: prompt queued",
		Simulated:       true,
	}, nil
}

// Status reports pending until the settle delay has elapsed, then settled.
// References it has never seen are unknown, like a real provider.
func (s *Simulator) Status(_ context.Context, reference string) (Outcome, string, error) {
	s.mu.Lock()
	requestedAt, ok := s.requests[reference]
	s.mu.Unlock()

	if !ok {
		return OutcomeUnknown, "", nil
	}
	if s.now().Sub(requestedAt) < s.delay {
		return OutcomePending, "simulated: awaiting payer", nil
	}
	return OutcomeSettled, "simulated: payment settled", nil
}
