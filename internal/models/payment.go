package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
)

// Типы транзакций
const (
	TransactionTypeEscrowRelease = "escrow_release"
)

// Статусы транзакций
const (
	TransactionStatusCompleted = "completed"
)

// Payment платёж в шлюзе. ID совпадает с идентификатором платежа в ЮKassa.
//
// PendingOperation выставляется на время вызова capture/refund в шлюзе:
// строка платежа не блокируется на время сетевого вызова, а конкурирующая
// операция видит маркер и получает отказ.
type Payment struct {
	ID                 string                       `db:"id" json:"id"`
	OrderID            uuid.UUID                    `db:"order_id" json:"order_id"`
	UserID             uuid.UUID                    `db:"user_id" json:"user_id"`
	Amount             decimal.Decimal              `db:"amount" json:"amount"`
	Currency           string                       `db:"currency" json:"currency"`
	PaymentMethod      valueobject.PaymentMethod    `db:"payment_method" json:"payment_method"`
	Description        *string                      `db:"description" json:"description,omitempty"`
	Status             valueobject.PaymentStatus    `db:"status" json:"status"`
	IdempotencyKey     string                       `db:"idempotency_key" json:"-"`
	ConfirmationURL    *string                      `db:"confirmation_url" json:"confirmation_url,omitempty"`
	GatewayResponse    types.JSONText               `db:"gateway_response" json:"-"`
	PendingOperation   valueobject.PaymentOperation `db:"pending_operation" json:"pending_operation,omitempty"`
	OperationKey       *string                      `db:"operation_key" json:"-"`
	OperationReason    *string                      `db:"operation_reason" json:"-"`
	OperationStartedAt *time.Time                   `db:"operation_started_at" json:"-"`
	PaidAt             *time.Time                   `db:"paid_at" json:"paid_at,omitempty"`
	CapturedAt         *time.Time                   `db:"captured_at" json:"captured_at,omitempty"`
	CanceledAt         *time.Time                   `db:"canceled_at" json:"canceled_at,omitempty"`
	RefundedAt         *time.Time                   `db:"refunded_at" json:"refunded_at,omitempty"`
	ReconciledAt       *time.Time                   `db:"reconciled_at" json:"-"`
	CreatedAt          time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time                    `db:"updated_at" json:"updated_at"`
}

// SetGatewayResponse сохраняет снимок ответа шлюза.
func (p *Payment) SetGatewayResponse(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	p.GatewayResponse = types.JSONText(raw)
}

// EscrowTransaction удержание средств по платежу, один к одному с Payment.
type EscrowTransaction struct {
	ID         uuid.UUID                `db:"id" json:"id"`
	PaymentID  string                   `db:"payment_id" json:"payment_id"`
	OrderID    uuid.UUID                `db:"order_id" json:"order_id"`
	Amount     decimal.Decimal          `db:"amount" json:"amount"`
	Commission decimal.Decimal          `db:"commission" json:"commission"`
	Status     valueobject.EscrowStatus `db:"status" json:"status"`
	HeldAt     *time.Time               `db:"held_at" json:"held_at,omitempty"`
	ReleasedAt *time.Time               `db:"released_at" json:"released_at,omitempty"`
	RefundedAt *time.Time               `db:"refunded_at" json:"refunded_at,omitempty"`
	CanceledAt *time.Time               `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt  time.Time                `db:"created_at" json:"created_at"`
}

// UserBalance баланс специалиста, пополняется при выплате из escrow.
type UserBalance struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Available decimal.Decimal `db:"available" json:"available"`
	Frozen    decimal.Decimal `db:"frozen" json:"frozen"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction запись в истории движения средств пользователя.
type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	OrderID     *uuid.UUID      `db:"order_id" json:"order_id,omitempty"`
	PaymentID   *string         `db:"payment_id" json:"payment_id,omitempty"`
	Type        string          `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Status      string          `db:"status" json:"status"`
	Description *string         `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// WebhookEvent обработанное событие шлюза, ключ дедупликации.
type WebhookEvent struct {
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	PaymentID  string    `db:"payment_id" json:"payment_id"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}
