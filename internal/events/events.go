package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы событий жизненного цикла платежа.
const (
	TypePaymentCreated   = "payment.created"
	TypePaymentHeld      = "payment.held"
	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentCaptured  = "payment.captured"
	TypePaymentRefunded  = "payment.refunded"
	TypePaymentCanceled  = "payment.canceled"
)

// PaymentEvent публикуется после коммита перехода состояния платежа.
type PaymentEvent struct {
	Type       string          `json:"type"`
	PaymentID  string          `json:"payment_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher отправляет события во внешнюю шину.
type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
	Close() error
}

// NoopPublisher используется, когда брокеры не настроены.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, PaymentEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
