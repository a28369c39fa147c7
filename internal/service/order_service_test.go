package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
)

type orderFixture struct {
	ledger     *memLedger
	notifier   *recordingNotifier
	svc        *OrderService
	client     Actor
	specialist Actor
	service    models.Service
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		ledger:     newMemLedger(),
		notifier:   &recordingNotifier{},
		client:     Actor{UserID: uuid.New(), Role: models.RoleClient},
		specialist: Actor{UserID: uuid.New(), Role: models.RoleSpecialist},
	}
	f.service = models.Service{
		ID:           uuid.New(),
		SpecialistID: f.specialist.UserID,
		Title:        "Сборка шкафа",
		Price:        decimal.NewFromInt(1000),
		IsActive:     true,
	}
	f.ledger.services[f.service.ID] = f.service
	f.svc = NewOrderService(f.ledger, f.ledger, f.notifier, decimal.NewFromInt(15))
	return f
}

func (f *orderFixture) create(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), f.client, CreateOrderInput{ServiceID: f.service.ID})
	require.NoError(t, err)
	return order
}

func TestOrder_CreateSplitsPlatformFee(t *testing.T) {
	f := newOrderFixture(t)

	order := f.create(t)

	assert.Equal(t, f.client.UserID, order.ClientID)
	assert.Equal(t, f.specialist.UserID, order.SpecialistID)
	assert.Equal(t, "1000.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "150.00", order.PlatformFee.StringFixed(2))
	assert.Equal(t, "850.00", order.SpecialistPrice.StringFixed(2))
	assert.Equal(t, valueobject.OrderStatusPending, order.Status)
	assert.Equal(t, valueobject.OrderPaymentPending, order.PaymentStatus)
	assert.Equal(t, []sentNotice{{UserID: f.specialist.UserID, Event: models.EventOrderCreated}}, f.notifier.events())
}

func TestOrder_CreateValidation(t *testing.T) {
	f := newOrderFixture(t)
	inactive := models.Service{ID: uuid.New(), SpecialistID: f.specialist.UserID, Price: decimal.NewFromInt(10)}
	f.ledger.services[inactive.ID] = inactive
	past := time.Now().Add(-time.Hour)
	longAddress := strings.Repeat("д", 501)

	tests := []struct {
		name  string
		actor Actor
		input CreateOrderInput
		check func(error) bool
	}{
		{"unknown service", f.client, CreateOrderInput{ServiceID: uuid.New()}, apperror.IsNotFound},
		{"inactive service", f.client, CreateOrderInput{ServiceID: inactive.ID}, apperror.IsValidation},
		{"own service", f.specialist, CreateOrderInput{ServiceID: f.service.ID}, apperror.IsValidation},
		{"date in the past", f.client, CreateOrderInput{ServiceID: f.service.ID, ScheduledAt: &past}, apperror.IsValidation},
		{"address too long", f.client, CreateOrderInput{ServiceID: f.service.ID, Address: &longAddress}, apperror.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), tt.actor, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestOrder_AcceptAndStart(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.create(t)

	_, err := f.svc.AcceptOrder(ctx, f.client, order.ID)
	assert.True(t, apperror.IsForbidden(err))

	accepted, err := f.svc.AcceptOrder(ctx, f.specialist, order.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusAccepted, accepted.Status)
	assert.Contains(t, f.notifier.events(), sentNotice{UserID: f.client.UserID, Event: models.EventOrderAccepted})

	_, err = f.svc.AcceptOrder(ctx, f.specialist, order.ID)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	// Без удержанных средств работа не начинается.
	_, err = f.svc.StartOrder(ctx, f.specialist, order.ID)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	held := f.ledger.order(order.ID)
	held.PaymentStatus = valueobject.OrderPaymentHeld
	f.ledger.addOrder(held)

	started, err := f.svc.StartOrder(ctx, f.specialist, order.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusInProgress, started.Status)
}

func TestOrder_CancelBlockedByActivePayment(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.create(t)

	f.ledger.payments["pay-1"] = models.Payment{
		ID:      "pay-1",
		OrderID: order.ID,
		Status:  valueobject.PaymentStatusWaitingForCapture,
	}

	_, err := f.svc.CancelOrder(ctx, f.client, order.ID)
	assert.True(t, apperror.IsInvalidStateTransition(err))
	assert.Equal(t, valueobject.OrderStatusPending, f.ledger.order(order.ID).Status)

	p := f.ledger.payments["pay-1"]
	p.Status = valueobject.PaymentStatusCanceled
	f.ledger.payments["pay-1"] = p

	_, err = f.svc.CancelOrder(ctx, f.specialist, order.ID)
	assert.True(t, apperror.IsForbidden(err))

	cancelled, err := f.svc.CancelOrder(ctx, f.client, order.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusCancelled, cancelled.Status)
}

func TestOrder_GetAndList(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order := f.create(t)

	got, err := f.svc.GetOrder(ctx, f.specialist, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.svc.GetOrder(ctx, Actor{UserID: uuid.New(), Role: models.RoleClient}, order.ID)
	assert.True(t, apperror.IsForbidden(err))

	mine, err := f.svc.ListClientOrders(ctx, f.client, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	pending, err := f.svc.ListSpecialistOrders(ctx, f.specialist, "pending", 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	done, err := f.svc.ListSpecialistOrders(ctx, f.specialist, "completed", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, done)

	_, err = f.svc.ListClientOrders(ctx, f.client, "unknown", 10, 0)
	assert.True(t, apperror.IsValidation(err))
}
