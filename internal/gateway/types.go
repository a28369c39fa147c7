package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
)

// Status статус платежа на стороне ЮKassa.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
)

// AuthorizeRequest двухстадийный платёж: средства только холдируются.
type AuthorizeRequest struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	Amount         valueobject.Money
	Description    string
	ReturnURL      string
	PaymentMethod  valueobject.PaymentMethod
	IdempotencyKey string
}

// Payment состояние платежа, которое вернул шлюз.
type Payment struct {
	ID              string
	Status          Status
	Paid            bool
	Amount          valueobject.Money
	RefundedAmount  decimal.Decimal
	ConfirmationURL string
	Metadata        map[string]string
	Raw             json.RawMessage
}

// IsFullyRefunded сумма возвратов покрывает платёж.
func (p *Payment) IsFullyRefunded() bool {
	return p.RefundedAmount.IsPositive() && p.RefundedAmount.GreaterThanOrEqual(p.Amount.Amount)
}

// Refund результат возврата.
type Refund struct {
	ID        string
	PaymentID string
	Status    string // pending|succeeded|canceled
	Amount    valueobject.Money
	Raw       json.RawMessage
}

// Wire-форматы API ЮKassa.

type amountDTO struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func toAmountDTO(m valueobject.Money) amountDTO {
	return amountDTO{Value: m.Value(), Currency: m.Currency}
}

func (a *amountDTO) money() valueobject.Money {
	if a == nil {
		return valueobject.Money{}
	}
	v, err := decimal.NewFromString(a.Value)
	if err != nil {
		return valueobject.Money{Currency: a.Currency}
	}
	return valueobject.Money{Amount: v, Currency: a.Currency}
}

type confirmationDTO struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentMethodDataDTO struct {
	Type string `json:"type"`
}

type createPaymentDTO struct {
	Amount            amountDTO             `json:"amount"`
	Capture           bool                  `json:"capture"`
	Confirmation      confirmationDTO       `json:"confirmation"`
	Description       string                `json:"description,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
	PaymentMethodData *paymentMethodDataDTO `json:"payment_method_data,omitempty"`
}

type captureDTO struct {
	Amount amountDTO `json:"amount"`
}

type createRefundDTO struct {
	PaymentID   string    `json:"payment_id"`
	Amount      amountDTO `json:"amount"`
	Description string    `json:"description,omitempty"`
}

type paymentDTO struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	Paid           bool              `json:"paid"`
	Amount         *amountDTO        `json:"amount"`
	RefundedAmount *amountDTO        `json:"refunded_amount"`
	Confirmation   *confirmationDTO  `json:"confirmation"`
	Metadata       map[string]string `json:"metadata"`
}

func (d *paymentDTO) toPayment(raw json.RawMessage) *Payment {
	p := &Payment{
		ID:             d.ID,
		Status:         d.Status,
		Paid:           d.Paid,
		Amount:         d.Amount.money(),
		RefundedAmount: d.RefundedAmount.money().Amount,
		Metadata:       d.Metadata,
		Raw:            raw,
	}
	if d.Confirmation != nil {
		p.ConfirmationURL = d.Confirmation.ConfirmationURL
	}
	return p
}

type refundDTO struct {
	ID        string     `json:"id"`
	PaymentID string     `json:"payment_id"`
	Status    string     `json:"status"`
	Amount    *amountDTO `json:"amount"`
}

type errorDTO struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}
