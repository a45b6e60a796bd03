package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pos-service/models"
	"pos-service/providers"
	"pos-service/repository"
	"pos-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---- in-memory order repository with conditional writes ----

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.Order
	attachErr error
	listErr   error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.ExternalTransactionID != nil {
		s := *o.ExternalTransactionID
		c.ExternalTransactionID = &s
	}
	if o.PaymentMethodID != nil {
		s := *o.PaymentMethodID
		c.PaymentMethodID = &s
	}
	return &c
}

func (m *memOrderRepo) CreateWithItems(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(order.OrderItems) == 0 {
		return fmt.Errorf("order has no items")
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.OrderItems {
		order.OrderItems[i].ID = uuid.New()
		order.OrderItems[i].OrderID = order.ID
	}
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrderRepo) List(_ context.Context, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var all []models.Order
	for _, o := range m.orders {
		if status != nil && o.Status != *status {
			continue
		}
		all = append(all, *cloneOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *memOrderRepo) AttachPayment(_ context.Context, id uuid.UUID, requestID, paymentMethodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	o, ok := m.orders[id]
	if !ok || o.HasPaymentLinkage() {
		return repository.ErrStaleState
	}
	o.ExternalTransactionID = &requestID
	o.PaymentMethodID = &paymentMethodID
	o.NeedsReconciliation = false
	o.ReconciliationNote = ""
	return nil
}

func (m *memOrderRepo) FlagForReconciliation(_ context.Context, id uuid.UUID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.NeedsReconciliation = true
	o.ReconciliationNote = note
	return nil
}

func (m *memOrderRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return repository.ErrStaleState
	}
	o.Status = to
	if paidAt != nil {
		t := *paidAt
		o.PaidAt = &t
	}
	return nil
}

func (m *memOrderRepo) SalesSnapshot(_ context.Context) (*models.SalesReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r models.SalesReport
	for _, o := range m.orders {
		if o.PaidAt != nil {
			r.TotalRevenue += o.GrandTotal
		}
		if o.Status == models.StatusDone {
			r.TotalCompletedOrders++
		} else {
			r.TotalOngoingOrders++
		}
	}
	return &r, nil
}

func (m *memOrderRepo) get(id uuid.UUID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// ---- catalog ----

type memProductRepo struct {
	products map[string]models.Product
}

func newCatalog(products ...models.Product) *memProductRepo {
	m := &memProductRepo{products: make(map[string]models.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProductRepo) FindByIDs(_ context.Context, ids []string) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProductRepo) FindByID(_ context.Context, id string) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

// ---- gateway that fails a set number of times before delegating ----

type flakyGateway struct {
	*providers.SandboxGateway
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (g *flakyGateway) CreatePaymentRequest(ctx context.Context, amount int64, orderID string) (*providers.PaymentRequest, error) {
	g.mu.Lock()
	g.calls++
	if g.failures > 0 {
		g.failures--
		err := g.err
		g.mu.Unlock()
		return nil, err
	}
	g.mu.Unlock()
	return g.SandboxGateway.CreatePaymentRequest(ctx, amount, orderID)
}

func (g *flakyGateway) failNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = n
	g.err = err
}

// ---- SNS capture ----

type captureSNS struct {
	mu     sync.Mutex
	events []models.OrderEvent
	types  []string
}

func (c *captureSNS) Publish(_ context.Context, _ string, eventType string, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ev models.OrderEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return err
	}
	c.events = append(c.events, ev)
	c.types = append(c.types, eventType)
	return nil
}

func (c *captureSNS) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.types...)
}

// ---- environment ----

type testEnv struct {
	repo    *memOrderRepo
	gateway *flakyGateway
	sns     *captureSNS
	orders  services.OrderService
	webhook *services.WebhookService
}

const testWebhookToken = "callback-token"

func newTestEnv(t *testing.T, simulation bool) *testEnv {
	t.Helper()
	logger := nopLogger()

	repo := newMemOrderRepo()
	catalog := newCatalog(
		models.Product{ID: "p1", Name: "Kopi Susu", Price: 10000},
		models.Product{ID: "p2", Name: "Roti Bakar", Price: 15000},
		models.Product{ID: "p3", Name: "Air Mineral", Price: 5},
	)
	gateway := &flakyGateway{SandboxGateway: providers.NewSandboxGateway()}
	sns := &captureSNS{}

	orders := services.NewOrderService(
		repo,
		services.NewPricer(catalog, decimal.RequireFromString("0.10")),
		gateway,
		sns,
		nil,
		services.OrderServiceConfig{
			SetupAttempts:     3,
			RetryBackoff:      time.Millisecond,
			SimulationEnabled: simulation,
			SNSTopicArn:       "arn:aws:sns:ap-southeast-1:000000000000:pos-order-events",
		},
		logger,
	)
	webhook := services.NewWebhookService(orders, testWebhookToken, nil, nil, logger)
	gateway.SetCallback(func(ctx context.Context, cb *models.PaymentCallback) error {
		_, err := webhook.HandleCallback(ctx, cb)
		return err
	})

	return &testEnv{repo: repo, gateway: gateway, sns: sns, orders: orders, webhook: webhook}
}

func (e *testEnv) createOrder(t *testing.T) *models.Order {
	t.Helper()
	res, err := e.orders.CreateOrder(context.Background(), []models.CreateOrderLine{{ProductID: "p1", Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return res.Order
}

func successCallback(orderID string, amount int64) *models.PaymentCallback {
	return &models.PaymentCallback{
		Event: "payment.succeeded",
		Data: models.PaymentCallbackData{
			ID:          "py-1",
			Amount:      amount,
			ReferenceID: orderID,
			Status:      models.PaymentStatusSucceeded,
		},
	}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
