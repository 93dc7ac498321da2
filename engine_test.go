package purchasekit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchasekit"
	"purchasekit/internal/platform/config"
	"purchasekit/internal/receipt"
	dErrors "purchasekit/pkg/domain-errors"
	"purchasekit/pkg/platform/sentinel"
)

// fakeBackend scripts validation responses per attempt number.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	handler func(attempt int, req receipt.Request) (*receipt.Response, error)
}

func (b *fakeBackend) ValidateReceipt(_ context.Context, req receipt.Request) (*receipt.Response, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	h := b.handler
	b.mu.Unlock()
	return h(n, req)
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func okResponse(products ...string) *receipt.Response {
	ents := make([]receipt.ResponseEntitlement, 0, len(products))
	for _, p := range products {
		ents = append(ents, receipt.ResponseEntitlement{ID: "ent-" + p, OriginalTransactionID: "txn-" + p})
	}
	return &receipt.Response{
		RequestDate:              time.Now().UTC(),
		Entitlements:             ents,
		ActiveProductIdentifiers: products,
	}
}

func alwaysOK(products ...string) func(int, receipt.Request) (*receipt.Response, error) {
	return func(int, receipt.Request) (*receipt.Response, error) {
		return okResponse(products...), nil
	}
}

type failedEvent struct {
	txn purchasekit.Transaction
	err error
}

type promoEvent struct {
	product   purchasekit.Product
	deferment *purchasekit.Deferment
}

// testListener implements the full listener surface and forwards every
// callback onto channels so tests can wait for engine-goroutine delivery.
type testListener struct {
	decision purchasekit.PromoDecision

	completed   chan purchasekit.Transaction
	failed      chan failedEvent
	infos       chan *purchasekit.PurchaserInfo
	restored    chan *purchasekit.PurchaserInfo
	restoreErrs chan error
	promos      chan promoEvent
}

func newTestListener() *testListener {
	return &testListener{
		completed:   make(chan purchasekit.Transaction, 16),
		failed:      make(chan failedEvent, 16),
		infos:       make(chan *purchasekit.PurchaserInfo, 16),
		restored:    make(chan *purchasekit.PurchaserInfo, 16),
		restoreErrs: make(chan error, 16),
		promos:      make(chan promoEvent, 16),
	}
}

func (l *testListener) TransactionCompleted(txn purchasekit.Transaction, _ *purchasekit.PurchaserInfo) {
	l.completed <- txn
}

func (l *testListener) TransactionFailed(txn purchasekit.Transaction, err error) {
	l.failed <- failedEvent{txn: txn, err: err}
}

func (l *testListener) PurchaserInfoUpdated(info *purchasekit.PurchaserInfo) {
	l.infos <- info
}

func (l *testListener) RestoreCompleted(info *purchasekit.PurchaserInfo) {
	l.restored <- info
}

func (l *testListener) RestoreFailed(err error) {
	l.restoreErrs <- err
}

func (l *testListener) ShouldPurchasePromo(product purchasekit.Product, d *purchasekit.Deferment) purchasekit.PromoDecision {
	l.promos <- promoEvent{product: product, deferment: d}
	return l.decision
}

func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func assertNoEvent[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RestoreQuiescence = 100 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*purchasekit.Engine, *purchasekit.MemoryQueue) {
	t.Helper()
	queue := purchasekit.NewMemoryQueue()
	engine, err := purchasekit.New("test-key", "user-1",
		purchasekit.WithQueue(queue),
		purchasekit.WithBackend(backend),
		purchasekit.WithConfig(testConfig()),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, queue
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := purchasekit.New("", "user-1")
	require.Error(t, err)
	assert.True(t, dErrors.Has(err, dErrors.CodeConfiguration))

	_, err = purchasekit.New("test-key", "")
	require.Error(t, err)
	assert.True(t, dErrors.Has(err, dErrors.CodeConfiguration))
}

func TestPurchase_SuccessfulFlow(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("gold_100")}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.Purchase("gold_100")

	txn := await(t, l.completed, "completed transaction")
	assert.Equal(t, "gold_100", txn.ProductID)
	assert.Equal(t, purchasekit.StatePurchased, txn.State)
	assert.Equal(t, 1, queue.FinishCount(txn.ID))
	assert.Equal(t, 1, backend.callCount())

	info := await(t, l.infos, "purchaser info update")
	assert.True(t, info.HasActiveProduct("gold_100"))

	cached, err := engine.PurchaserInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, cached.HasActiveProduct("gold_100"))
}

func TestPurchase_TransientFailuresAreInvisible(t *testing.T) {
	backend := &fakeBackend{handler: func(attempt int, _ receipt.Request) (*receipt.Response, error) {
		if attempt <= 2 {
			return nil, errors.New("connection refused")
		}
		return okResponse("gold_100"), nil
	}}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.Purchase("gold_100")

	// The host sees exactly one terminal event despite two retries.
	txn := await(t, l.completed, "completed transaction")
	assert.Equal(t, 3, backend.callCount())
	assert.Equal(t, 1, queue.FinishCount(txn.ID))
	assertNoEvent(t, l.completed, "second completion")
	assertNoEvent(t, l.failed, "failure event")
}

func TestPurchase_DefinitiveRejection(t *testing.T) {
	backend := &fakeBackend{handler: func(int, receipt.Request) (*receipt.Response, error) {
		return nil, &receipt.StatusError{Status: 400, Code: "invalid_receipt", Message: "receipt could not be verified"}
	}}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.Purchase("gold_100")

	ev := await(t, l.failed, "failed transaction")
	assert.True(t, dErrors.Has(ev.err, dErrors.CodeBackend))
	assert.Contains(t, ev.err.Error(), "receipt could not be verified")

	// No retry, and the transaction is released so the platform stops
	// re-delivering it.
	assert.Equal(t, 1, backend.callCount())
	assert.Equal(t, 1, queue.FinishCount(ev.txn.ID))
	assertNoEvent(t, l.completed, "completion")
}

func TestPurchase_NetworkOutageLeavesTransactionPending(t *testing.T) {
	backend := &fakeBackend{handler: func(int, receipt.Request) (*receipt.Response, error) {
		return nil, errors.New("connection refused")
	}}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.Purchase("gold_100")

	ev := await(t, l.failed, "failed transaction")
	assert.True(t, dErrors.Has(ev.err, dErrors.CodeNetwork))

	// Unfinished: the platform re-delivers on next launch.
	assert.Equal(t, 0, queue.FinishCount(ev.txn.ID))
}

func TestPurchase_StoreCancellation(t *testing.T) {
	backend := &fakeBackend{handler: func(int, receipt.Request) (*receipt.Response, error) {
		t.Error("cancelled purchase must not reach the backend")
		return nil, nil
	}}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	queue.FailNextPurchase("payment cancelled")
	engine.Purchase("gold_100")

	ev := await(t, l.failed, "failed transaction")
	assert.True(t, dErrors.Has(ev.err, dErrors.CodeStore))
	assert.Equal(t, 1, queue.FinishCount(ev.txn.ID))
}

func TestTransactionsHeldUntilListenerAttached(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("gold_100")}
	engine, _ := newTestEngine(t, backend)

	engine.Purchase("gold_100")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, backend.callCount())

	// Attaching activates the engine; nothing was lost.
	l := newTestListener()
	engine.SetListener(l)
	txn := await(t, l.completed, "completed transaction")
	assert.Equal(t, "gold_100", txn.ProductID)
}

func TestRemoveListenerBuffersEvents(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("gold_100")}
	engine, _ := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.RemoveListener()

	// The purchase still reconciles; only delivery is suspended.
	engine.Purchase("gold_100")
	assertNoEvent(t, l.completed, "delivery while detached")

	engine.SetListener(l)
	txn := await(t, l.completed, "buffered completion")
	assert.Equal(t, "gold_100", txn.ProductID)
}

func TestReattachReplaysCachedPurchaserInfo(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("gold_100")}
	engine, _ := newTestEngine(t, backend)

	first := newTestListener()
	engine.SetListener(first)
	engine.Purchase("gold_100")
	await(t, first.completed, "completed transaction")
	engine.RemoveListener()

	// A listener attached later starts from the cached snapshot.
	second := newTestListener()
	engine.SetListener(second)
	info := await(t, second.infos, "replayed purchaser info")
	assert.True(t, info.HasActiveProduct("gold_100"))
}

func TestRestorePurchases_Aggregates(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("pro_monthly", "pro_annual")}
	engine, queue := newTestEngine(t, backend)

	queue.SeedRestorable(
		purchasekit.Transaction{ID: "txn-r1", ProductID: "pro_monthly", Quantity: 1, Receipt: []byte("r1")},
		purchasekit.Transaction{ID: "txn-r2", ProductID: "pro_annual", Quantity: 1, Receipt: []byte("r2")},
	)

	l := newTestListener()
	engine.SetListener(l)
	engine.RestorePurchases()

	info := await(t, l.restored, "restore completion")
	assert.True(t, info.HasActiveProduct("pro_monthly"))
	assert.True(t, info.HasActiveProduct("pro_annual"))
	assert.Equal(t, 2, backend.callCount())
	assert.Equal(t, 1, queue.FinishCount("txn-r1"))
	assert.Equal(t, 1, queue.FinishCount("txn-r2"))
}

func TestRestorePurchases_LargeBatchDoesNotStallEngine(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("pro_monthly")}
	engine, queue := newTestEngine(t, backend)

	// Far more restorables than any internal buffer: the queue re-surfaces
	// them synchronously from the restore trigger, all on the serialization
	// goroutine.
	const n = 300
	for i := 0; i < n; i++ {
		queue.SeedRestorable(purchasekit.Transaction{
			ProductID: "pro_monthly",
			Quantity:  1,
			Receipt:   []byte("r"),
		})
	}

	l := newTestListener()
	engine.SetListener(l)
	engine.RestorePurchases()

	info := await(t, l.restored, "restore completion")
	assert.True(t, info.HasActiveProduct("pro_monthly"))
	assert.Equal(t, n, backend.callCount())

	// The loop is still live afterwards.
	engine.Purchase("gold_100")
	await(t, l.completed, "post-restore purchase")
}

func TestRestorePurchases_EmptyAccount(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK()}
	engine, _ := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.RestorePurchases()

	err := await(t, l.restoreErrs, "restore failure")
	assert.True(t, dErrors.Has(err, dErrors.CodeRestoreEmpty))
	assert.Equal(t, 0, backend.callCount())
}

func TestPromotionalIntent_DeferredThenInvoked(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("promo_pack")}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	l.decision = purchasekit.PromoDefer
	engine.SetListener(l)

	queue.SendPromotionalIntent(purchasekit.Product{ID: "promo_pack"})
	ev := await(t, l.promos, "promo intent")
	assert.Equal(t, "promo_pack", ev.product.ID)
	assertNoEvent(t, l.completed, "purchase before the host invokes the continuation")

	require.True(t, ev.deferment.Invoke())
	txn := await(t, l.completed, "deferred purchase completion")
	assert.Equal(t, "promo_pack", txn.ProductID)

	assert.False(t, ev.deferment.Invoke())
	assertNoEvent(t, l.completed, "double purchase")
}

func TestPromotionalIntent_DeclinedByDefault(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("promo_pack")}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)

	queue.SendPromotionalIntent(purchasekit.Product{ID: "promo_pack"})
	await(t, l.promos, "promo intent")
	assertNoEvent(t, l.completed, "declined promo purchase")
	assert.Equal(t, 0, backend.callCount())
}

func TestPromotionalIntent_HeldUntilListenerAttached(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("promo_pack")}
	engine, queue := newTestEngine(t, backend)

	// Intent arrives before the host is ready; it must be replayed on attach,
	// like a held transaction.
	queue.SendPromotionalIntent(purchasekit.Product{ID: "promo_pack"})

	l := newTestListener()
	l.decision = purchasekit.PromoAuthorize
	engine.SetListener(l)

	ev := await(t, l.promos, "replayed promo intent")
	assert.Equal(t, "promo_pack", ev.product.ID)
	txn := await(t, l.completed, "authorized promo purchase")
	assert.Equal(t, "promo_pack", txn.ProductID)
}

func TestPromotionalIntent_DeclinedWhileDetached(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK("promo_pack")}
	engine, queue := newTestEngine(t, backend)

	l := newTestListener()
	engine.SetListener(l)
	engine.RemoveListener()

	// Once active, an intent is a live question: with the listener detached
	// the answer is decline, not a buffered replay.
	queue.SendPromotionalIntent(purchasekit.Product{ID: "promo_pack"})

	engine.SetListener(l)
	assertNoEvent(t, l.promos, "replay of a declined intent")
	assertNoEvent(t, l.completed, "purchase from a declined intent")
	assert.Equal(t, 0, backend.callCount())
}

func TestProducts_LooksUpCatalog(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK()}
	queue := purchasekit.NewMemoryQueue()
	catalog := purchasekit.NewMemoryCatalog()
	catalog.Seed(purchasekit.Product{ID: "gold_100", Title: "100 Gold", Price: "0.99"})

	engine, err := purchasekit.New("test-key", "user-1",
		purchasekit.WithQueue(queue),
		purchasekit.WithCatalog(catalog),
		purchasekit.WithBackend(backend),
		purchasekit.WithConfig(testConfig()),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	products := engine.Products(context.Background(), []string{"gold_100", "unknown"})
	require.Len(t, products, 1)
	assert.Equal(t, "100 Gold", products[0].Title)
}

func TestPurchaserInfo_BeforeAnySync(t *testing.T) {
	backend := &fakeBackend{handler: alwaysOK()}
	engine, _ := newTestEngine(t, backend)

	_, err := engine.PurchaserInfo(context.Background())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
