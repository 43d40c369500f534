package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/notify"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memoryRepo is an in-memory stand-in for the Postgres store. Every method
// counts as one backend call.
type memoryRepo struct {
	mu       sync.Mutex
	calls    int64
	products map[uuid.UUID]*models.Product
	batches  map[uuid.UUID][]models.Batch
	orders   map[uuid.UUID]*models.Order
	items    map[uuid.UUID][]models.OrderItem

	accounts      map[uuid.UUID]*models.Account
	profiles      map[uuid.UUID]models.ProfileCompletion
	verifications map[uuid.UUID]string
	businesses    map[uuid.UUID]models.Business

	onboardingWrites int64
	failOnboardingTx bool
	failUpsert       bool
	failCreateOrder  error
	txDelay          time.Duration
	listDelay        time.Duration
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:      map[uuid.UUID]*models.Product{},
		batches:       map[uuid.UUID][]models.Batch{},
		orders:        map[uuid.UUID]*models.Order{},
		items:         map[uuid.UUID][]models.OrderItem{},
		accounts:      map[uuid.UUID]*models.Account{},
		profiles:      map[uuid.UUID]models.ProfileCompletion{},
		verifications: map[uuid.UUID]string{},
		businesses:    map[uuid.UUID]models.Business{},
	}
}

func (m *memoryRepo) touch() {
	atomic.AddInt64(&m.calls, 1)
}

func (m *memoryRepo) Calls() int64 {
	return atomic.LoadInt64(&m.calls)
}

func notFound(op string) error {
	return apperror.New(apperror.KindNotFound, op, "record not found")
}

func (m *memoryRepo) addProduct(distributorID uuid.UUID, name, price string, stock int) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Product{
		ID:            uuid.New(),
		DistributorID: distributorID,
		Name:          name,
		Price:         mustDecimal(price),
		CaseSize:      1,
		UPC:           "012345678905",
		StockQuantity: stock,
		UpdatedAt:     time.Now(),
	}
	m.products[p.ID] = p
	return p
}

func (m *memoryRepo) CreateProduct(ctx context.Context, p *models.Product) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memoryRepo) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("memory.GetProductByID")
	}
	cp := *p
	return &cp, nil
}

func (m *memoryRepo) ListProductsByDistributor(ctx context.Context, distributorID uuid.UUID) ([]models.Product, error) {
	m.touch()
	if m.listDelay > 0 {
		select {
		case <-time.After(m.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		if p.DistributorID == distributorID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRepo) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryRepo) ReceiveStockTx(ctx context.Context, batch *models.Batch, mode store.StockMode) (*store.StockChange, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[batch.ProductID]
	if !ok {
		return nil, notFound("memory.ReceiveStockTx")
	}
	for _, b := range m.batches[p.ID] {
		if b.BatchNumber == batch.BatchNumber {
			return nil, apperror.New(apperror.KindConflict, "memory.ReceiveStockTx", "duplicate batch number")
		}
	}
	if mode == store.StockOverwrite && len(m.batches[p.ID]) > 0 {
		return nil, &apperror.Error{Kind: apperror.KindConflict, Op: "memory.ReceiveStockTx",
			Message: "initial stock already recorded", Err: store.ErrInitialStockRecorded}
	}

	before := p.StockQuantity
	if mode == store.StockOverwrite {
		p.StockQuantity = batch.Quantity
	} else {
		p.StockQuantity += batch.Quantity
	}
	p.StockVersion++
	p.UpdatedAt = time.Now()

	batch.ID = uuid.New()
	batch.DistributorID = p.DistributorID
	batch.RemainingQuantity = batch.Quantity
	batch.CreatedAt = p.UpdatedAt
	m.batches[p.ID] = append(m.batches[p.ID], *batch)

	return &store.StockChange{Product: *p, Before: before, After: p.StockQuantity}, nil
}

func (m *memoryRepo) ConsumeStockTx(ctx context.Context, productID uuid.UUID, quantity int) (*store.StockChange, []store.BatchDraw, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, nil, notFound("memory.ConsumeStockTx")
	}
	if p.StockQuantity < quantity {
		return nil, nil, &apperror.Error{Kind: apperror.KindConflict, Op: "memory.ConsumeStockTx",
			Message: "insufficient stock", Err: store.ErrInsufficientStock}
	}

	batches := m.batches[productID]
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].ReceivedDate.Before(batches[j].ReceivedDate) })
	var draws []store.BatchDraw
	left := quantity
	for i := range batches {
		if left == 0 {
			break
		}
		take := batches[i].RemainingQuantity
		if take > left {
			take = left
		}
		if take == 0 {
			continue
		}
		batches[i].RemainingQuantity -= take
		left -= take
		draws = append(draws, store.BatchDraw{BatchID: batches[i].ID, BatchNumber: batches[i].BatchNumber, Quantity: take})
	}

	before := p.StockQuantity
	p.StockQuantity -= quantity
	p.StockVersion++
	p.UpdatedAt = time.Now()
	return &store.StockChange{Product: *p, Before: before, After: p.StockQuantity}, draws, nil
}

func (m *memoryRepo) ListBatches(ctx context.Context, productID uuid.UUID) ([]models.Batch, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Batch, len(m.batches[productID]))
	copy(out, m.batches[productID])
	return out, nil
}

func (m *memoryRepo) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreateOrder != nil {
		return m.failCreateOrder
	}
	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber ||
			(order.IdempotencyKey != nil && o.IdempotencyKey != nil &&
				o.PlacedByUser == order.PlacedByUser && *o.IdempotencyKey == *order.IdempotencyKey) {
			return apperror.New(apperror.KindConflict, "memory.CreateOrderTx", "duplicate order")
		}
	}

	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	m.orders[order.ID] = &cp

	stored := make([]models.OrderItem, len(items))
	for i, item := range items {
		item.ID = uuid.New()
		item.OrderID = order.ID
		stored[i] = item
	}
	m.items[order.ID] = stored
	return nil
}

func (m *memoryRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, notFound("memory.GetOrderByID")
	}
	cp := *o
	return &cp, nil
}

func (m *memoryRepo) GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PlacedByUser == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) ListOrdersForParty(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.RetailerID == userID || o.DistributorID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[orderID], nil
}

func (m *memoryRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == account.Email {
			return apperror.New(apperror.KindConflict, "memory.CreateAccount", "duplicate email")
		}
	}
	account.ID = uuid.New()
	account.CreatedAt = time.Now()
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *memoryRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, notFound("memory.GetAccountByID")
	}
	cp := *a
	return &cp, nil
}

func (m *memoryRepo) ConfirmEmail(ctx context.Context, token string) (*models.Account, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ConfirmationToken != nil && *a.ConfirmationToken == token {
			now := time.Now()
			a.EmailConfirmedAt = &now
			a.ConfirmationToken = nil
			cp := *a
			return &cp, nil
		}
	}
	return nil, notFound("memory.ConfirmEmail")
}

func (m *memoryRepo) confirm(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.accounts[id].EmailConfirmedAt = &now
}

func (m *memoryRepo) OnboardingComplete(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	_, profile := m.profiles[userID]
	_, status := m.verifications[userID]
	_, business := m.businesses[userID]
	return profile && status && business, nil
}

func (m *memoryRepo) CompleteOnboardingTx(ctx context.Context, pc models.ProfileCompletion) error {
	m.touch()
	if m.txDelay > 0 {
		time.Sleep(m.txDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnboardingTx {
		return apperror.New(apperror.KindUnavailable, "memory.CompleteOnboardingTx", "backend unavailable")
	}
	atomic.AddInt64(&m.onboardingWrites, 1)
	m.profiles[pc.UserID] = pc
	if _, ok := m.verifications[pc.UserID]; !ok {
		m.verifications[pc.UserID] = models.VerificationPending
	}
	m.businesses[pc.UserID] = pc.Business
	return nil
}

func (m *memoryRepo) UpsertProfile(ctx context.Context, pc models.ProfileCompletion) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert {
		return apperror.New(apperror.KindUnavailable, "memory.UpsertProfile", "backend unavailable")
	}
	atomic.AddInt64(&m.onboardingWrites, 1)
	m.profiles[pc.UserID] = pc
	return nil
}

func (m *memoryRepo) UpdateVerificationStatus(ctx context.Context, userID uuid.UUID, status string) (*models.VerificationStatus, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		return nil, notFound("memory.UpdateVerificationStatus")
	}
	m.verifications[userID] = status
	return &models.VerificationStatus{UserID: userID, Status: status, UpdatedAt: time.Now()}, nil
}

func (m *memoryRepo) GetVerificationContact(ctx context.Context, userID uuid.UUID) (*models.VerificationContact, error) {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, notFound("memory.GetVerificationContact")
	}
	pc := m.profiles[userID]
	return &models.VerificationContact{
		UserID:       userID,
		Email:        a.Email,
		FullName:     pc.FullName,
		BusinessName: m.businesses[userID].BusinessName,
	}, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
	err    error
}

func (r *recordingPublisher) record(event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) PublishStockReceived(ctx context.Context, e *models.StockReceivedEvent) error {
	return r.record(e)
}

func (r *recordingPublisher) PublishStockLow(ctx context.Context, e *models.StockLowEvent) error {
	return r.record(e)
}

func (r *recordingPublisher) PublishOrderSubmitted(ctx context.Context, e *models.OrderSubmittedEvent) error {
	return r.record(e)
}

func (r *recordingPublisher) PublishAccountCreated(ctx context.Context, e *models.AccountCreatedEvent) error {
	return r.record(e)
}

func (r *recordingPublisher) PublishVerificationStatusChanged(ctx context.Context, e *models.VerificationStatusChangedEvent) error {
	return r.record(e)
}

func (r *recordingPublisher) count(match func(interface{}) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func isStockLow(e interface{}) bool { _, ok := e.(*models.StockLowEvent); return ok }
func isOrderSubmitted(e interface{}) bool { _, ok := e.(*models.OrderSubmittedEvent); return ok }
func isStatusChanged(e interface{}) bool { _, ok := e.(*models.VerificationStatusChangedEvent); return ok }
func isAccountCreated(e interface{}) bool { _, ok := e.(*models.AccountCreatedEvent); return ok }
func isStockReceived(e interface{}) bool { _, ok := e.(*models.StockReceivedEvent); return ok }

// countingIdem counts calls and never holds anything
type countingIdem struct {
	calls int64
}

func (c *countingIdem) ClaimIdempotencyKey(ctx context.Context, scope, key string, ttl time.Duration) (bool, string, error) {
	atomic.AddInt64(&c.calls, 1)
	return true, "", nil
}

func (c *countingIdem) CompleteIdempotencyKey(ctx context.Context, scope, key, result string, ttl time.Duration) error {
	atomic.AddInt64(&c.calls, 1)
	return nil
}

func (c *countingIdem) ReleaseIdempotencyKey(ctx context.Context, scope, key string) error {
	atomic.AddInt64(&c.calls, 1)
	return nil
}

// mailQueue records queued messages
type mailQueue struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (q *mailQueue) EnqueueEmail(ctx context.Context, msg notify.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

// sendMailer records sent messages
type sendMailer struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (s *sendMailer) Send(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
