package valueobject

import "github.com/ignatzorin/yodo-backend/internal/pkg/apperror"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusDisputed   OrderStatus = "disputed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusAccepted, OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusAccepted:   {OrderStatusPaid, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusDisputed:   {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	return contains(orderTransitions[s], newStatus)
}

// IsPayable заказ можно оплатить только до начала работ.
func (s OrderStatus) IsPayable() bool {
	return s == OrderStatusPending || s == OrderStatusAccepted
}

func NewOrderStatus(status string) (OrderStatus, error) {
	s := OrderStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

// OrderPaymentStatus сводный статус оплаты, который хранится в заказе.
type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "pending"
	OrderPaymentHeld     OrderPaymentStatus = "held"
	OrderPaymentReleased OrderPaymentStatus = "released"
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
	OrderPaymentCanceled OrderPaymentStatus = "canceled"
)

// PaymentStatus статус платежа в шлюзе и в нашей БД.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusWaitingForCapture, PaymentStatusSucceeded, PaymentStatusCanceled},
	PaymentStatusWaitingForCapture: {PaymentStatusCaptured, PaymentStatusSucceeded, PaymentStatusCanceled, PaymentStatusRefunded},
	PaymentStatusSucceeded:         {PaymentStatusRefunded},
	PaymentStatusCaptured:          {},
	PaymentStatusCanceled:          {},
	PaymentStatusRefunded:          {},
}

func (s PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

func (s PaymentStatus) CanTransitionTo(newStatus PaymentStatus) bool {
	return contains(paymentTransitions[s], newStatus)
}

// IsTerminal после терминального статуса платёж больше не меняется.
func (s PaymentStatus) IsTerminal() bool {
	return s.IsValid() && len(paymentTransitions[s]) == 0
}

// IsRefundable возврат возможен для удержанных или подтверждённых шлюзом средств.
func (s PaymentStatus) IsRefundable() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusWaitingForCapture
}

// ActivePaymentStatuses нетерминальные статусы, не больше одного такого платежа на заказ.
func ActivePaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusPending, PaymentStatusWaitingForCapture, PaymentStatusSucceeded}
}

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusCanceled EscrowStatus = "canceled"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

func (s EscrowStatus) CanTransitionTo(newStatus EscrowStatus) bool {
	return s == EscrowStatusHeld && newStatus != EscrowStatusHeld
}

// PaymentOperation операция, которая сейчас выполняется в шлюзе по платежу.
type PaymentOperation string

const (
	OperationNone    PaymentOperation = ""
	OperationCapture PaymentOperation = "capture"
	OperationRefund  PaymentOperation = "refund"
)

// PaymentMethod способ оплаты, который передаётся в шлюз.
type PaymentMethod string

const (
	PaymentMethodBankCard PaymentMethod = "bank_card"
	PaymentMethodYooMoney PaymentMethod = "yoo_money"
	PaymentMethodSBP      PaymentMethod = "sbp"
)

func NewPaymentMethod(method string) (PaymentMethod, error) {
	switch m := PaymentMethod(method); m {
	case PaymentMethodBankCard, PaymentMethodYooMoney, PaymentMethodSBP:
		return m, nil
	case "":
		return PaymentMethodBankCard, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "неподдерживаемый способ оплаты")
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
