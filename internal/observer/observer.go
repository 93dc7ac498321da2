// Package observer normalizes platform queue events and drives each
// transaction through backend validation. It owns the in-flight transaction
// set: a transaction is finalized with the platform only once a terminal
// outcome is known, and a re-delivered transaction with a submission still
// outstanding is dropped as a duplicate.
package observer

import (
	"context"
	"log/slog"

	"purchasekit/internal/appstore"
	"purchasekit/internal/platform/metrics"
	"purchasekit/internal/purchaserinfo"
	dErrors "purchasekit/pkg/domain-errors"
)

// Validator reconciles one transaction against the backend.
type Validator interface {
	Validate(ctx context.Context, txn appstore.Transaction) (*purchaserinfo.PurchaserInfo, error)
}

// RestoreSink receives Restored-state transactions. Add reports false when no
// restore batch is open; the observer then reconciles the transaction
// individually, exactly like a purchase.
type RestoreSink interface {
	Add(txn appstore.Transaction) bool
}

// Outcomes receives terminal results. Calls happen on the engine's
// serialization goroutine.
type Outcomes interface {
	TransactionValidated(txn appstore.Transaction, info *purchaserinfo.PurchaserInfo)
	TransactionErrored(txn appstore.Transaction, err error)
}

// Service routes transactions by state. HandleTransaction and the completion
// path both run on the engine's serialization goroutine (via exec); only the
// backend call itself runs concurrently.
type Service struct {
	validator Validator
	restores  RestoreSink
	finish    func(transactionID string)
	exec      func(func())
	outcomes  Outcomes
	logger    *slog.Logger
	metrics   *metrics.Metrics

	inflight map[string]bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(v Validator, restores RestoreSink, finish func(string), exec func(func()), outcomes Outcomes, opts ...Option) *Service {
	s := &Service{
		validator: v,
		restores:  restores,
		finish:    finish,
		exec:      exec,
		outcomes:  outcomes,
		logger:    slog.Default(),
		metrics:   metrics.NewUnregistered(),
		inflight:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleTransaction processes one queue event. Must run on the serialization
// goroutine.
func (s *Service) HandleTransaction(ctx context.Context, txn appstore.Transaction) {
	switch txn.State {
	case appstore.StatePurchasing, appstore.StateDeferred:
		// Transient; the platform reports a terminal state later.
		return
	case appstore.StateFailed:
		s.finalize(txn.ID)
		s.outcomes.TransactionErrored(txn, dErrors.New(dErrors.CodeStore, txn.FailureReason))
		return
	case appstore.StateRestored:
		if s.restores.Add(txn) {
			return
		}
		// No restore in progress: the platform re-delivered a restored
		// transaction from an earlier run. Reconcile it like a purchase.
		s.submit(ctx, txn)
	case appstore.StatePurchased:
		s.submit(ctx, txn)
	default:
		s.logger.Warn("unknown transaction state", "transaction_id", txn.ID, "state", txn.State)
	}
}

func (s *Service) submit(ctx context.Context, txn appstore.Transaction) {
	if s.inflight[txn.ID] {
		// Platform re-delivery while the first submission is outstanding, not
		// a new purchase.
		s.logger.Debug("duplicate transaction dropped", "transaction_id", txn.ID)
		return
	}
	s.inflight[txn.ID] = true

	go func() {
		info, err := s.validator.Validate(ctx, txn)
		s.exec(func() { s.complete(txn, info, err) })
	}()
}

func (s *Service) complete(txn appstore.Transaction, info *purchaserinfo.PurchaserInfo, err error) {
	delete(s.inflight, txn.ID)

	if err != nil {
		if dErrors.Has(err, dErrors.CodeBackend) {
			// Definitive rejection: retrying cannot succeed, so release the
			// transaction from the platform queue.
			s.finalize(txn.ID)
		}
		// CodeNetwork stays unfinished: the platform re-delivers on next
		// launch and the idempotency key makes re-submission safe.
		s.outcomes.TransactionErrored(txn, err)
		return
	}

	s.finalize(txn.ID)
	s.outcomes.TransactionValidated(txn, info)
}

func (s *Service) finalize(transactionID string) {
	s.finish(transactionID)
	s.metrics.TransactionsFinished.Inc()
}
