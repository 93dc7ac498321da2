package purchasekit

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"purchasekit/internal/appstore"
	"purchasekit/internal/notifier"
	"purchasekit/internal/observer"
	"purchasekit/internal/platform/config"
	"purchasekit/internal/platform/metrics"
	platformredis "purchasekit/internal/platform/redis"
	"purchasekit/internal/promo"
	"purchasekit/internal/purchaserinfo"
	"purchasekit/internal/receipt"
	"purchasekit/internal/restore"
	dErrors "purchasekit/pkg/domain-errors"
	"purchasekit/pkg/platform/sentinel"
	pstrings "purchasekit/pkg/platform/strings"
)

// Engine is the purchase-transaction synchronization engine. One explicitly
// owned instance per (API key, app user ID) pair; there is no hidden global
// state. All mutating operations run on a single serialization goroutine, so
// concurrent queue deliveries never interleave into inconsistent states;
// backend calls for distinct transactions still run concurrently.
type Engine struct {
	cfg     config.Config
	session receipt.Session

	queue    appstore.Queue
	catalog  appstore.Catalog
	cache    purchaserinfo.Cache
	backend  receipt.Backend
	notifier *notifier.Notifier
	observer *observer.Service
	restores *restore.Coordinator
	promos   *promo.Coordinator

	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// Unbounded loop inbox. Tasks are often submitted from the loop goroutine
	// itself (a restore trigger fans out through the queue synchronously), so
	// enqueueing must never block.
	taskMu sync.Mutex
	inbox  []func()
	wake   chan struct{}

	redis *platformredis.Client

	// Loop-owned state. Touched only on the serialization goroutine.
	active    bool
	heldTxns  []appstore.Transaction
	heldPromo []appstore.Product
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueue sets the platform payment queue. Defaults to an in-process
// MemoryQueue, which is only useful for tests and local development; real
// hosts bridge their platform's store API.
func WithQueue(q appstore.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithCatalog sets the product catalog used by Products.
func WithCatalog(c appstore.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithBackend overrides the receipt validation backend. Tests inject mocks
// here.
func WithBackend(b receipt.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithCache overrides the purchaser info cache.
func WithCache(c purchaserinfo.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithConfig replaces the environment-derived configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetricsRegistry registers engine metrics on reg. Without it metrics are
// collected on a private registry and not exported.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = metrics.New(reg) }
}

// New constructs and starts an Engine. Both credentials are required; an
// empty API key or app user ID fails construction rather than the first
// backend call.
func New(apiKey, appUserID string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "API key must not be empty")
	}
	if appUserID == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "app user ID must not be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     config.Default(),
		session: receipt.Session{APIKey: apiKey, AppUserID: appUserID, SDKVersion: Version},
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = metrics.NewUnregistered()
	}
	if e.queue == nil {
		e.queue = appstore.NewMemoryQueue()
	}
	if e.catalog == nil {
		e.catalog = appstore.NewMemoryCatalog()
	}
	if e.backend == nil {
		e.backend = receipt.NewClient(e.cfg.BackendURL, e.cfg.RequestTimeout)
	}
	if e.cache == nil {
		if e.cfg.Redis.URL != "" {
			client, err := platformredis.New(ctx, e.cfg.Redis)
			if err != nil {
				cancel()
				return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "connect purchaser info mirror")
			}
			e.redis = client
			e.cache = purchaserinfo.NewRedisCache(client.Client)
		} else {
			e.cache = purchaserinfo.NewMemoryCache()
		}
	}

	e.notifier = notifier.New(notifier.WithLogger(e.logger))

	validator := receipt.NewValidator(e.backend, e.session,
		receipt.WithLogger(e.logger),
		receipt.WithMetrics(e.metrics),
		receipt.WithRetryPolicy(e.cfg.MaxAttempts, e.cfg.RetryBaseDelay),
	)
	e.restores = restore.New(validator,
		e.queue.RestoreCompletedTransactions,
		e.finishTransaction,
		restore.WithLogger(e.logger),
		restore.WithQuiescence(e.cfg.RestoreQuiescence),
	)
	e.promos = promo.New(e.notifier, e.PurchaseQuantity, promo.WithLogger(e.logger))
	e.observer = observer.New(validator, e.restores, e.finishTransaction, e.submit, engineOutcomes{e},
		observer.WithLogger(e.logger),
		observer.WithMetrics(e.metrics),
	)

	go e.run()
	e.queue.SetObserver(queueObserver{e})

	return e, nil
}

// SetListener registers the host listener. This is the activation signal:
// transactions buffered since construction are processed now, and buffered
// listener events are delivered in order. If a purchaser info snapshot is
// already cached, the listener receives it immediately.
func (e *Engine) SetListener(l Listener) {
	e.notifier.Attach(l)
	e.submit(e.activate)
}

// RemoveListener suspends event delivery. Nothing is dropped: events buffer
// until the next SetListener, and unfinished transactions stay queued by the
// platform.
func (e *Engine) RemoveListener() {
	e.notifier.Detach()
}

// Purchase buys one unit of the product.
func (e *Engine) Purchase(productID string) {
	e.PurchaseQuantity(productID, 1)
}

// PurchaseQuantity buys the product with an explicit quantity. Quantities
// above one are only valid for consumable products.
func (e *Engine) PurchaseQuantity(productID string, quantity int) {
	e.queue.AddPayment(appstore.Payment{ProductID: productID, Quantity: quantity})
}

// RestorePurchases reconciles every transaction tied to the platform account
// and reports one aggregated outcome through the listener's restore
// capability.
func (e *Engine) RestorePurchases() {
	e.submit(func() {
		e.restores.Begin(e.ctx, func(o restore.Outcome) {
			e.submit(func() { e.restoreDone(o) })
		})
	})
}

// Products looks up catalog metadata for the given identifiers. Mirrors the
// store contract: lookups that fail produce an empty result, not an error, so
// purchase UIs degrade instead of breaking.
func (e *Engine) Products(ctx context.Context, ids []string) []Product {
	products, err := e.catalog.Products(ctx, pstrings.DedupeAndTrim(ids))
	if err != nil {
		e.logger.Warn("product lookup failed", "error", err)
		return nil
	}
	return products
}

// PurchaserInfo returns the latest accepted snapshot for this user, or
// sentinel.ErrNotFound when none has arrived yet.
func (e *Engine) PurchaserInfo(ctx context.Context) (*PurchaserInfo, error) {
	return e.cache.Current(ctx, e.session.AppUserID)
}

// Close stops the serialization goroutine and releases owned resources.
// Unfinished transactions remain with the platform and are re-delivered to a
// future engine instance.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.cancel()
		<-e.done
		if e.redis != nil {
			_ = e.redis.Close()
		}
	})
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}
		for {
			e.taskMu.Lock()
			batch := e.inbox
			e.inbox = nil
			e.taskMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, f := range batch {
				f()
			}
		}
	}
}

// submit enqueues f for the serialization goroutine. Never blocks: tasks
// submitted from within a running task land in the same drain cycle.
func (e *Engine) submit(f func()) {
	e.taskMu.Lock()
	e.inbox = append(e.inbox, f)
	e.taskMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) activate() {
	if e.active {
		e.replayPurchaserInfo()
		return
	}
	e.active = true

	held := e.heldTxns
	e.heldTxns = nil
	for _, txn := range held {
		e.observer.HandleTransaction(e.ctx, txn)
	}
	heldPromo := e.heldPromo
	e.heldPromo = nil
	for _, p := range heldPromo {
		e.promos.HandleIntent(p)
	}
	e.replayPurchaserInfo()
}

// replayPurchaserInfo gives a freshly attached listener its initial state
// when a snapshot is already cached.
func (e *Engine) replayPurchaserInfo() {
	info, err := e.cache.Current(e.ctx, e.session.AppUserID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			e.logger.Warn("purchaser info read failed", "error", err)
		}
		return
	}
	e.notifier.PurchaserInfoUpdated(info)
}

func (e *Engine) finishTransaction(transactionID string) {
	if err := e.queue.FinishTransaction(transactionID); err != nil {
		e.logger.Error("finish transaction failed", "transaction_id", transactionID, "error", err)
	}
}

// installInfo installs a snapshot and fans out the change when accepted.
func (e *Engine) installInfo(info *purchaserinfo.PurchaserInfo) {
	accepted, err := e.cache.Update(e.ctx, e.session.AppUserID, info)
	if err != nil {
		e.logger.Error("purchaser info cache update failed", "error", err)
		return
	}
	if !accepted {
		e.metrics.CacheUpdatesStale.Inc()
		return
	}
	e.metrics.CacheUpdatesAccepted.Inc()
	e.notifier.PurchaserInfoUpdated(info)
}

func (e *Engine) restoreDone(o restore.Outcome) {
	if o.Err != nil {
		e.metrics.RestoresFailed.Inc()
		e.notifier.RestoreFailed(o.Err)
		return
	}
	if o.Failed > 0 {
		e.logger.Warn("restore completed with partial failures", "validated", o.Validated, "failed", o.Failed)
	}
	e.installInfo(o.Info)
	e.metrics.RestoresCompleted.Inc()
	e.notifier.RestoreCompleted(o.Info)
}

// engineOutcomes receives terminal validation results on the serialization
// goroutine.
type engineOutcomes struct{ e *Engine }

func (o engineOutcomes) TransactionValidated(txn appstore.Transaction, info *purchaserinfo.PurchaserInfo) {
	o.e.installInfo(info)
	o.e.notifier.TransactionCompleted(txn, info)
}

func (o engineOutcomes) TransactionErrored(txn appstore.Transaction, err error) {
	o.e.notifier.TransactionFailed(txn, err)
}

// queueObserver adapts platform queue callbacks, which arrive on arbitrary
// goroutines, onto the serialization goroutine.
type queueObserver struct{ e *Engine }

func (q queueObserver) UpdatedTransaction(txn appstore.Transaction) {
	e := q.e
	e.submit(func() {
		if !e.active {
			e.heldTxns = append(e.heldTxns, txn)
			return
		}
		e.observer.HandleTransaction(e.ctx, txn)
	})
}

// PromotionalIntent holds intents only until first activation. Once active, a
// detached listener declines: the intent is a synchronous query from the
// store front, not a bufferable event, and the platform re-announces promos
// it still cares about.
func (q queueObserver) PromotionalIntent(product appstore.Product) {
	e := q.e
	e.submit(func() {
		if !e.active {
			e.heldPromo = append(e.heldPromo, product)
			return
		}
		e.promos.HandleIntent(product)
	})
}

func (q queueObserver) RestoreFinished() {
	e := q.e
	e.submit(e.restores.Finish)
}
