package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pos-service/models"
	"pos-service/providers"
	"pos-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_PricesFromCatalog(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 2}})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, int64(20000), o.Subtotal)
	assert.Equal(t, int64(2000), o.Tax)
	assert.Equal(t, int64(22000), o.GrandTotal)
	assert.Equal(t, models.StatusAwaitingPayment, o.Status)
	assert.Nil(t, o.PaidAt)
	assert.NotEmpty(t, res.PaymentCode)

	stored := env.repo.get(o.ID)
	require.Len(t, stored.OrderItems, 1)
	assert.Equal(t, int64(10000), stored.OrderItems[0].Price)
	assert.True(t, stored.HasPaymentLinkage())
	assert.False(t, stored.NeedsReconciliation)

	assert.Equal(t, []string{models.EventOrderCreated}, env.sns.eventTypes())
}

func TestCreateOrder_IsDeterministic(t *testing.T) {
	env := newTestEnv(t, false)
	lines := []models.CreateOrderLine{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}

	first, err := env.orders.CreateOrder(context.Background(), lines)
	require.NoError(t, err)
	second, err := env.orders.CreateOrder(context.Background(), lines)
	require.NoError(t, err)

	assert.Equal(t, first.Order.Subtotal, second.Order.Subtotal)
	assert.Equal(t, first.Order.Tax, second.Order.Tax)
	assert.Equal(t, first.Order.GrandTotal, second.Order.GrandTotal)
	assert.NotEqual(t, first.Order.ID, second.Order.ID)
}

func TestCreateOrder_UnknownProductIsReported(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidLineItem)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, http.StatusBadRequest, services.StatusCode(err))
	assert.Equal(t, 0, env.repo.count())
}

func TestCreateOrder_RejectsInvalidLines(t *testing.T) {
	env := newTestEnv(t, false)

	cases := map[string][]models.CreateOrderLine{
		"empty":     {},
		"zero qty":  {{ProductID: "p1", Quantity: 0}},
		"no id":     {{ProductID: "", Quantity: 1}},
		"duplicate": {{ProductID: "p1", Quantity: 1}, {ProductID: "p1", Quantity: 2}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.orders.CreateOrder(context.Background(), lines)
			assert.ErrorIs(t, err, services.ErrValidation)
			assert.Equal(t, http.StatusBadRequest, services.StatusCode(err))
		})
	}
	assert.Equal(t, 0, env.repo.count())
}

func TestCreateOrder_RetriesGateway(t *testing.T) {
	env := newTestEnv(t, false)
	env.gateway.failNext(2, providers.ErrGatewayUnavailable)

	res, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PaymentCode)
	assert.Equal(t, 3, env.gateway.calls)
}

// The provider may have created the request even though the first attempt
// timed out; the retry must link that request rather than a second one.
func TestCreateOrder_TimeoutRetryLinksOriginalRequest(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		keys  []string
		byKey = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-key")
		mu.Lock()
		calls++
		first := calls == 1
		keys = append(keys, key)
		id, ok := byKey[key]
		if !ok || key == "" {
			id = fmt.Sprintf("pr-%d", calls)
			byKey[key] = id
		}
		mu.Unlock()

		if first {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = fmt.Fprintf(w, `{"id":%q,"status":"REQUIRES_ACTION","payment_method":{"id":"pm-%s","status":"ACTIVE",
			"qr_code":{"channel_code":"QRIS","channel_properties":{"qr_string":"QR-%s"}}}}`, id, id, id)
	}))
	defer srv.Close()

	repo := newMemOrderRepo()
	orders := services.NewOrderService(
		repo,
		services.NewPricer(newCatalog(models.Product{ID: "p1", Name: "Kopi Susu", Price: 10000}), decimal.RequireFromString("0.10")),
		providers.NewXenditGateway("xnd_test", srv.URL, "IDR", 50*time.Millisecond),
		&captureSNS{},
		nil,
		services.OrderServiceConfig{SetupAttempts: 3, RetryBackoff: time.Millisecond},
		nopLogger(),
	)

	res, err := orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, "QR-pr-1", res.PaymentCode)

	stored := repo.get(res.Order.ID)
	require.True(t, stored.HasPaymentLinkage())
	assert.Equal(t, "pr-1", *stored.ExternalTransactionID)
	assert.Equal(t, "pm-pr-1", *stored.PaymentMethodID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{providers.IdempotencyKey(res.Order.ID.String()), providers.IdempotencyKey(res.Order.ID.String())}, keys)
}

func TestCreateOrder_GatewayDownFlagsOrder(t *testing.T) {
	env := newTestEnv(t, false)
	env.gateway.failNext(10, providers.ErrGatewayUnavailable)

	res, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrPaymentSetupIncomplete)
	assert.ErrorIs(t, err, services.ErrGatewayUnavailable)
	assert.Equal(t, http.StatusBadGateway, services.StatusCode(err))

	require.NotNil(t, res)
	require.NotNil(t, res.Order)
	assert.Empty(t, res.PaymentCode)

	stored := env.repo.get(res.Order.ID)
	assert.Equal(t, models.StatusAwaitingPayment, stored.Status)
	assert.True(t, stored.NeedsReconciliation)
	assert.NotEmpty(t, stored.ReconciliationNote)
	assert.False(t, stored.HasPaymentLinkage())
	assert.Equal(t, 3, env.gateway.calls)
}

func TestCreateOrder_LinkageWriteFailureFlagsOrder(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.attachErr = errors.New("connection reset")

	res, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 1}})
	assert.ErrorIs(t, err, services.ErrPaymentSetupIncomplete)
	require.NotNil(t, res.Order)

	stored := env.repo.get(res.Order.ID)
	assert.True(t, stored.NeedsReconciliation)
	assert.Contains(t, stored.ReconciliationNote, "pr-sandbox-")
}

func TestRetryPaymentSetup(t *testing.T) {
	env := newTestEnv(t, false)
	env.gateway.failNext(3, providers.ErrGatewayUnavailable)

	res, err := env.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 1}})
	require.ErrorIs(t, err, services.ErrPaymentSetupIncomplete)
	id := res.Order.ID.String()

	retried, err := env.orders.RetryPaymentSetup(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, retried.PaymentCode)
	assert.False(t, env.repo.get(res.Order.ID).NeedsReconciliation)

	_, err = env.orders.RetryPaymentSetup(context.Background(), id)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestGetPaymentCode(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)

	view, err := env.orders.GetPaymentCode(context.Background(), order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "SANDBOX-QRIS-"+order.ID.String()+"-22000", view.PaymentCode)
	assert.Equal(t, "ACTIVE", view.ProviderStatus)
}

func TestWebhookConfirmation_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)
	ctx := context.Background()

	res, err := env.webhook.HandleCallback(ctx, successCallback(order.ID.String(), 22000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeConfirmed, res.Outcome)

	after := env.repo.get(order.ID)
	assert.Equal(t, models.StatusProcessing, after.Status)
	require.NotNil(t, after.PaidAt)
	firstPaidAt := *after.PaidAt

	res, err = env.webhook.HandleCallback(ctx, successCallback(order.ID.String(), 22000))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeDuplicate, res.Outcome)

	replayed := env.repo.get(order.ID)
	assert.Equal(t, models.StatusProcessing, replayed.Status)
	assert.Equal(t, firstPaidAt, *replayed.PaidAt)

	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderPaid}, env.sns.eventTypes())
}

func TestConfirmPayment_ConcurrentDeliveriesConfirmOnce(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[string]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.orders.ConfirmPayment(context.Background(), order.ID.String(), models.PaymentConfirmation{})
			if assert.NoError(t, err) {
				mu.Lock()
				outcomes[res.Outcome]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[models.WebhookOutcomeConfirmed])
	assert.Equal(t, 9, outcomes[models.WebhookOutcomeDuplicate])
}

func TestConfirmPayment_AmountMismatch(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)

	_, err := env.orders.ConfirmPayment(context.Background(), order.ID.String(), models.PaymentConfirmation{Amount: 100})
	assert.ErrorIs(t, err, services.ErrAmountMismatch)
	assert.Equal(t, http.StatusUnprocessableEntity, services.StatusCode(err))
	assert.Equal(t, models.StatusAwaitingPayment, env.repo.get(order.ID).Status)
}

func TestFinishOrder_Lifecycle(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)
	ctx := context.Background()
	id := order.ID.String()

	_, err := env.orders.FinishOrder(ctx, id)
	assert.ErrorIs(t, err, services.ErrNotPayable)
	assert.Equal(t, http.StatusConflict, services.StatusCode(err))
	assert.Equal(t, models.StatusAwaitingPayment, env.repo.get(order.ID).Status)

	_, err = env.webhook.HandleCallback(ctx, successCallback(id, 22000))
	require.NoError(t, err)
	paidAt := *env.repo.get(order.ID).PaidAt

	done, err := env.orders.FinishOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, done.Status)

	_, err = env.orders.FinishOrder(ctx, id)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	final := env.repo.get(order.ID)
	assert.Equal(t, models.StatusDone, final.Status)
	assert.Equal(t, paidAt, *final.PaidAt)
	assert.Equal(t, int64(22000), final.GrandTotal)

	assert.Equal(t, []string{models.EventOrderCreated, models.EventOrderPaid, models.EventOrderFinished}, env.sns.eventTypes())
}

func TestFinishOrder_NotFound(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.orders.FinishOrder(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, services.StatusCode(err))

	_, err = env.orders.FinishOrder(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestFinishOrder_ConcurrentFinishSucceedsOnce(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)
	_, err := env.orders.ConfirmPayment(context.Background(), order.ID.String(), models.PaymentConfirmation{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.orders.FinishOrder(context.Background(), order.ID.String())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, services.ErrInvalidTransition)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCheckStatus(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)
	ctx := context.Background()
	id := order.ID.String()

	view, err := env.orders.CheckStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, view.Paid)
	assert.Equal(t, models.StatusAwaitingPayment, view.Status)

	_, err = env.orders.ConfirmPayment(ctx, id, models.PaymentConfirmation{})
	require.NoError(t, err)
	view, err = env.orders.CheckStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.Paid)

	_, err = env.orders.FinishOrder(ctx, id)
	require.NoError(t, err)
	view, err = env.orders.CheckStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, view.Paid)
	assert.Equal(t, models.StatusDone, view.Status)
}

func TestSimulatePayment_DeliversCallback(t *testing.T) {
	env := newTestEnv(t, true)
	order := env.createOrder(t)

	require.NoError(t, env.orders.SimulatePayment(context.Background(), order.ID.String()))

	after := env.repo.get(order.ID)
	assert.Equal(t, models.StatusProcessing, after.Status)
	assert.NotNil(t, after.PaidAt)

	err := env.orders.SimulatePayment(context.Background(), order.ID.String())
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestSimulatePayment_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)

	err := env.orders.SimulatePayment(context.Background(), order.ID.String())
	assert.ErrorIs(t, err, services.ErrSimulationDisabled)
	assert.Equal(t, http.StatusForbidden, services.StatusCode(err))
	assert.Equal(t, models.StatusAwaitingPayment, env.repo.get(order.ID).Status)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	paid := env.createOrder(t)
	time.Sleep(time.Millisecond)
	_ = env.createOrder(t)
	_, err := env.orders.ConfirmPayment(ctx, paid.ID.String(), models.PaymentConfirmation{})
	require.NoError(t, err)

	all, err := env.orders.ListOrders(ctx, "ALL", 1, 10)
	require.NoError(t, err)
	assert.Len(t, all.Orders, 2)
	assert.Equal(t, int64(2), all.Meta.TotalOrders)
	assert.False(t, all.Meta.HasMore)

	processing, err := env.orders.ListOrders(ctx, "PROCESSING", 1, 10)
	require.NoError(t, err)
	require.Len(t, processing.Orders, 1)
	assert.Equal(t, paid.ID, processing.Orders[0].ID)
	assert.Equal(t, 1, processing.Orders[0].ItemCount)

	_, err = env.orders.ListOrders(ctx, "SHIPPED", 1, 10)
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestGetOrder_RefusesMismatchedItems(t *testing.T) {
	env := newTestEnv(t, false)
	order := env.createOrder(t)

	got, err := env.orders.GetOrder(context.Background(), order.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.OrderItems, 1)

	env.repo.mu.Lock()
	env.repo.orders[order.ID].ItemCount = 2
	env.repo.mu.Unlock()

	_, err = env.orders.GetOrder(context.Background(), order.ID.String())
	assert.ErrorIs(t, err, services.ErrCorruptOrder)
	assert.Equal(t, http.StatusInternalServerError, services.StatusCode(err))
}

func TestSalesReport_Scenario(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	finished := env.createOrder(t)
	_ = env.createOrder(t)

	_, err := env.webhook.HandleCallback(ctx, successCallback(finished.ID.String(), 22000))
	require.NoError(t, err)
	_, err = env.orders.FinishOrder(ctx, finished.ID.String())
	require.NoError(t, err)

	report, err := services.NewSalesService(env.repo, nopLogger()).Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(22000), report.TotalRevenue)
	assert.Equal(t, int64(1), report.TotalOngoingOrders)
	assert.Equal(t, int64(1), report.TotalCompletedOrders)
}
