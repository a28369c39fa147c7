package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/events"
	"github.com/ignatzorin/yodo-backend/internal/gateway"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/repository"
)

// memLedger хранилище в памяти. WithTx сериализует транзакции глобальной
// блокировкой и откатывает изменения при ошибке.
type memLedger struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]models.Order
	services     map[uuid.UUID]models.Service
	payments     map[string]models.Payment
	escrows      map[string]models.EscrowTransaction
	balances     map[uuid.UUID]decimal.Decimal
	transactions []models.Transaction
	events       map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:   map[uuid.UUID]models.Order{},
		services: map[uuid.UUID]models.Service{},
		payments: map[string]models.Payment{},
		escrows:  map[string]models.EscrowTransaction{},
		balances: map[uuid.UUID]decimal.Decimal{},
		events:   map[string]bool{},
	}
}

type memSnapshot struct {
	orders       map[uuid.UUID]models.Order
	payments     map[string]models.Payment
	escrows      map[string]models.EscrowTransaction
	balances     map[uuid.UUID]decimal.Decimal
	transactions []models.Transaction
	events       map[string]bool
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (l *memLedger) snapshot() memSnapshot {
	return memSnapshot{
		orders:       copyMap(l.orders),
		payments:     copyMap(l.payments),
		escrows:      copyMap(l.escrows),
		balances:     copyMap(l.balances),
		transactions: append([]models.Transaction(nil), l.transactions...),
		events:       copyMap(l.events),
	}
}

func (l *memLedger) restore(s memSnapshot) {
	l.orders = s.orders
	l.payments = s.payments
	l.escrows = s.escrows
	l.balances = s.balances
	l.transactions = s.transactions
	l.events = s.events
}

func (l *memLedger) WithTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshot()
	if err := fn(&memTx{l: l}); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

func (l *memLedger) addOrder(o models.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ID] = o
}

func (l *memLedger) order(id uuid.UUID) models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[id]
}

func (l *memLedger) payment(id string) models.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payments[id]
}

func (l *memLedger) escrow(paymentID string) models.EscrowTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrows[paymentID]
}

func (l *memLedger) balance(userID uuid.UUID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *memLedger) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[paymentID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (l *memLedger) GetEscrowByPaymentID(ctx context.Context, paymentID string) (*models.EscrowTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[paymentID]
	if !ok {
		return nil, repository.ErrEscrowNotFound
	}
	return &e, nil
}

func (l *memLedger) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Payment
	for _, p := range l.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *memLedger) CountPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	payments, _ := l.ListPaymentsByOrder(ctx, orderID)
	return len(payments), nil
}

func (l *memLedger) ListStalePayments(ctx context.Context, f repository.StaleFilter) ([]models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lastSeen := func(p models.Payment, base time.Time) time.Time {
		if p.ReconciledAt != nil && p.ReconciledAt.After(base) {
			return *p.ReconciledAt
		}
		return base
	}
	var out []models.Payment
	for _, p := range l.payments {
		idle := p.PendingOperation == valueobject.OperationNone
		switch {
		case !idle && p.OperationStartedAt != nil && p.OperationStartedAt.Before(f.OperationsBefore):
		case idle && p.Status == valueobject.PaymentStatusPending && lastSeen(p, p.UpdatedAt).Before(f.PendingBefore):
		case idle && p.Status == valueobject.PaymentStatusWaitingForCapture && lastSeen(p, p.UpdatedAt).Before(f.HoldsBefore):
		default:
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOp, bOp := a.PendingOperation != valueobject.OperationNone, b.PendingOperation != valueobject.OperationNone
		if aOp != bOp {
			return aOp
		}
		sortKey := func(p models.Payment) time.Time {
			if p.PendingOperation != valueobject.OperationNone {
				return lastSeen(p, *p.OperationStartedAt)
			}
			return lastSeen(p, p.UpdatedAt)
		}
		return sortKey(a).Before(sortKey(b))
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (l *memLedger) MarkReconciled(ctx context.Context, paymentID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[paymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	p.ReconciledAt = &at
	l.payments[paymentID] = p
	return nil
}

func (l *memLedger) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	return &models.UserBalance{UserID: userID, Available: l.balance(userID)}, nil
}

func (l *memLedger) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range l.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// OrderReader и OrderRepository поверх того же состояния.

func (l *memLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (l *memLedger) Create(ctx context.Context, order *models.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	l.orders[order.ID] = *order
	return nil
}

func (l *memLedger) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.services[id]
	if !ok {
		return nil, repository.ErrServiceNotFound
	}
	return &s, nil
}

func (l *memLedger) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Order
	for _, o := range l.orders {
		if filter.ClientID != nil && o.ClientID != *filter.ClientID {
			continue
		}
		if filter.SpecialistID != nil && o.SpecialistID != *filter.SpecialistID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type memTx struct {
	l *memLedger
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	o, ok := t.l.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = time.Now()
	t.l.orders[order.ID] = *order
	return nil
}

func (t *memTx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, ok := t.l.payments[paymentID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (t *memTx) HasActivePayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	for _, p := range t.l.payments {
		if p.OrderID == orderID && isActive(p.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.l.payments[payment.ID]; ok {
		return repository.ErrDuplicatePayment
	}
	if active, _ := t.HasActivePayment(ctx, payment.OrderID); active && isActive(payment.Status) {
		return repository.ErrActivePaymentExists
	}
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	t.l.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now()
	t.l.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) InsertEscrow(ctx context.Context, escrow *models.EscrowTransaction) error {
	escrow.ID = uuid.New()
	escrow.CreatedAt = time.Now()
	t.l.escrows[escrow.PaymentID] = *escrow
	return nil
}

func (t *memTx) GetEscrowForUpdate(ctx context.Context, paymentID string) (*models.EscrowTransaction, error) {
	e, ok := t.l.escrows[paymentID]
	if !ok {
		return nil, repository.ErrEscrowNotFound
	}
	return &e, nil
}

func (t *memTx) UpdateEscrow(ctx context.Context, escrow *models.EscrowTransaction) error {
	t.l.escrows[escrow.PaymentID] = *escrow
	return nil
}

func (t *memTx) CreditBalance(ctx context.Context, credit repository.BalanceCredit) error {
	t.l.balances[credit.UserID] = t.l.balances[credit.UserID].Add(credit.Amount)
	orderID := credit.OrderID
	paymentID := credit.PaymentID
	description := credit.Description
	t.l.transactions = append(t.l.transactions, models.Transaction{
		ID:          uuid.New(),
		UserID:      credit.UserID,
		OrderID:     &orderID,
		PaymentID:   &paymentID,
		Type:        credit.Type,
		Amount:      credit.Amount,
		Status:      models.TransactionStatusCompleted,
		Description: &description,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (t *memTx) MarkEventProcessed(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if t.l.events[event.EventID] {
		return false, nil
	}
	t.l.events[event.EventID] = true
	return true, nil
}

func isActive(s valueobject.PaymentStatus) bool {
	for _, a := range valueobject.ActivePaymentStatuses() {
		if s == a {
			return true
		}
	}
	return false
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.Payment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

func (m *mockGateway) Capture(ctx context.Context, paymentID string, amount valueobject.Money, idempotencyKey string) (*gateway.Payment, error) {
	args := m.Called(ctx, paymentID, amount, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, paymentID string, idempotencyKey string) (*gateway.Payment, error) {
	args := m.Called(ctx, paymentID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, paymentID string, amount valueobject.Money, reason, idempotencyKey string) (*gateway.Refund, error) {
	args := m.Called(ctx, paymentID, amount, reason, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *mockGateway) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

type sentNotice struct {
	UserID uuid.UUID
	Event  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{UserID: userID, Event: event})
}

func (n *recordingNotifier) events() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
