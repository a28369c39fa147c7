package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreatePaymentRequest represents the request to pay for an order
type CreatePaymentRequest struct {
	OrderID       uuid.UUID       `json:"order_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" binding:"max=128"`
	ReturnURL     string          `json:"return_url" binding:"omitempty,url"`
	PaymentMethod string          `json:"payment_method" binding:"omitempty,oneof=bank_card yoo_money sbp"`
}

// RefundPaymentRequest represents the request to refund a payment
type RefundPaymentRequest struct {
	Reason string `json:"reason" binding:"max=250"`
}

// CreateOrderRequest represents the request to order a catalog service
type CreateOrderRequest struct {
	ServiceID   uuid.UUID  `json:"service_id" binding:"required"`
	Description *string    `json:"description" binding:"omitempty,max=2000"`
	Address     *string    `json:"address" binding:"omitempty,max=500"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}
