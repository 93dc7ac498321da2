package receipt

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"purchasekit/internal/appstore"
	"purchasekit/internal/platform/metrics"
	"purchasekit/internal/purchaserinfo"
	dErrors "purchasekit/pkg/domain-errors"
	"purchasekit/pkg/platform/circuit"
)

var tracer = otel.Tracer("purchasekit/receipt")

// Validator reconciles a single transaction against the backend. Transient
// failures (transport, 5xx) are retried with capped exponential backoff up to
// the attempt budget and then surfaced as CodeNetwork, which callers must
// treat as non-terminal: the transaction stays unfinished so a later launch
// can retry. Definitive rejections (4xx) come back as CodeBackend and are
// terminal.
type Validator struct {
	backend     Backend
	session     Session
	breaker     *circuit.Breaker
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithRetryPolicy bounds transient-failure retries. maxAttempts counts the
// first attempt.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(v *Validator) {
		if maxAttempts > 0 {
			v.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			v.baseDelay = baseDelay
		}
	}
}

func NewValidator(backend Backend, session Session, opts ...Option) *Validator {
	v := &Validator{
		backend:     backend,
		session:     session,
		breaker:     circuit.New("receipt-backend"),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		logger:      slog.Default(),
		metrics:     metrics.NewUnregistered(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate posts the transaction's receipt and returns the resulting
// purchaser info snapshot. Safe to call repeatedly for the same transaction;
// the transaction ID is the idempotency key.
func (v *Validator) Validate(ctx context.Context, txn appstore.Transaction) (*purchaserinfo.PurchaserInfo, error) {
	ctx, span := tracer.Start(ctx, "receipt.Validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", txn.ID),
		attribute.String("product.id", txn.ProductID),
	)

	if v.breaker.IsOpen() {
		span.SetStatus(codes.Error, "circuit open")
		return nil, dErrors.New(dErrors.CodeNetwork, "receipt service unavailable (circuit open)")
	}

	req := Request{
		APIKey:         v.session.APIKey,
		AppUserID:      v.session.AppUserID,
		ReceiptPayload: base64.StdEncoding.EncodeToString(txn.Receipt),
		ProductID:      txn.ProductID,
		Quantity:       txn.Quantity,
		TransactionID:  txn.ID,
		SDKVersion:     v.session.SDKVersion,
	}

	started := time.Now()
	var resp *Response
	operation := func() error {
		v.metrics.ValidationAttempts.Inc()
		r, err := v.backend.ValidateReceipt(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Definitive() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		v.metrics.ValidationRetries.Inc()
		v.logger.Warn("receipt validation retrying",
			"transaction_id", txn.ID, "wait", wait, "error", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = v.baseDelay
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(v.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, notify)
	v.metrics.ValidationDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Definitive() {
			// The service answered; only this receipt was rejected.
			v.breaker.RecordSuccess()
			v.metrics.ValidationOutcomes.WithLabelValues("backend_rejection").Inc()
			span.SetStatus(codes.Error, se.Message)
			return nil, dErrors.Wrap(err, dErrors.CodeBackend, se.Message)
		}
		if _, change := v.breaker.RecordFailure(); change.Opened {
			v.logger.Error("receipt backend circuit opened", "error", err)
		}
		v.metrics.ValidationOutcomes.WithLabelValues("network_exhausted").Inc()
		span.SetStatus(codes.Error, "retries exhausted")
		return nil, dErrors.Wrap(err, dErrors.CodeNetwork, "receipt validation failed after retries")
	}

	v.breaker.RecordSuccess()
	v.metrics.ValidationOutcomes.WithLabelValues("success").Inc()

	ents := make(map[string]purchaserinfo.Entitlement, len(resp.Entitlements))
	for _, e := range resp.Entitlements {
		ents[e.ID] = purchaserinfo.Entitlement{
			ExpiresAt:             e.ExpiresAt,
			OriginalTransactionID: e.OriginalTransactionID,
		}
	}
	return purchaserinfo.New(v.session.AppUserID, resp.RequestDate, ents, resp.ActiveProductIdentifiers), nil
}
