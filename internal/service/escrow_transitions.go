package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/events"
	"github.com/ignatzorin/yodo-backend/internal/gateway"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/repository"
)

// gatewayState состояние платежа в шлюзе, из webhook или из GET /payments/{id}.
type gatewayState struct {
	Status gateway.Status
	// Refunded средства возвращены полностью (refund.succeeded или refunded_amount).
	Refunded bool
	Raw      json.RawMessage
}

// transition результат закоммиченного перехода: что опубликовать и кого уведомить.
type transition struct {
	payment *models.Payment
	order   *models.Order
	event   string
	notify  []notice
}

type notice struct {
	userID uuid.UUID
	event  string
}

// applyGatewayState применяет состояние шлюза к платежу в отдельной транзакции.
func (s *EscrowService) applyGatewayState(ctx context.Context, paymentID string, state gatewayState) (*models.Payment, error) {
	var result *transition
	err := s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		result, err = s.applyGatewayStateTx(ctx, tx, p, state)
		return err
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.afterCommit(ctx, result)
	return result.payment, nil
}

// applyGatewayStateTx сводит локальный платёж с состоянием шлюза. Платёж уже
// заблокирован вызывающим. Терминальные статусы не меняются, повторное
// применение того же состояния ничего не делает.
func (s *EscrowService) applyGatewayStateTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, state gatewayState) (*transition, error) {
	noop := &transition{payment: p}
	if p.Status.IsTerminal() {
		return noop, nil
	}

	switch {
	case state.Refunded:
		if !p.Status.CanTransitionTo(valueobject.PaymentStatusRefunded) {
			return noop, nil
		}
		return s.finalizeRefundTx(ctx, tx, p, state.Raw)

	case state.Status == gateway.StatusCanceled:
		if p.PendingOperation == valueobject.OperationRefund && p.Status.CanTransitionTo(valueobject.PaymentStatusRefunded) {
			return s.finalizeRefundTx(ctx, tx, p, state.Raw)
		}
		return s.cancelTx(ctx, tx, p, state.Raw)

	case state.Status == gateway.StatusSucceeded:
		if p.PendingOperation == valueobject.OperationCapture {
			return s.finalizeCaptureTx(ctx, tx, p, state.Raw)
		}
		if p.Status == valueobject.PaymentStatusSucceeded {
			return noop, nil
		}
		return s.confirmHeldTx(ctx, tx, p, state.Raw)

	case state.Status == gateway.StatusWaitingForCapture:
		if p.Status != valueobject.PaymentStatusPending {
			return noop, nil
		}
		return s.markWaitingTx(ctx, tx, p, state.Raw)
	}
	return noop, nil
}

// markWaitingTx средства захолдированы на карте клиента.
func (s *EscrowService) markWaitingTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, raw json.RawMessage) (*transition, error) {
	order, err := tx.GetOrderForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	p.Status = valueobject.PaymentStatusWaitingForCapture
	p.SetGatewayResponse(raw)
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	order.PaymentStatus = valueobject.OrderPaymentHeld
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	return &transition{
		payment: p,
		order:   order,
		event:   events.TypePaymentHeld,
		notify:  []notice{{userID: order.SpecialistID, event: models.EventPaymentReceived}},
	}, nil
}

// confirmHeldTx шлюз подтвердил платёж: Payment SUCCEEDED, Order PAID.
func (s *EscrowService) confirmHeldTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, raw json.RawMessage) (*transition, error) {
	if !p.Status.CanTransitionTo(valueobject.PaymentStatusSucceeded) {
		return nil, invalidTransition(p.Status, valueobject.PaymentStatusSucceeded)
	}
	order, err := tx.GetOrderForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	wasPending := p.Status == valueobject.PaymentStatusPending
	now := s.now()
	p.Status = valueobject.PaymentStatusSucceeded
	if p.PaidAt == nil {
		p.PaidAt = &now
	}
	p.SetGatewayResponse(raw)
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	advanceOrder(order, valueobject.OrderStatusPaid)
	order.PaymentStatus = valueobject.OrderPaymentHeld
	if order.PaidAt == nil {
		order.PaidAt = &now
	}
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	t := &transition{payment: p, order: order, event: events.TypePaymentSucceeded}
	// Специалиста уже уведомили, если платёж проходил через холд.
	if wasPending {
		t.notify = []notice{{userID: order.SpecialistID, event: models.EventPaymentReceived}}
	}
	return t, nil
}

// finalizeCaptureTx Payment CAPTURED, Escrow RELEASED, Order COMPLETED и
// начисление специалисту, всё в одной транзакции.
func (s *EscrowService) finalizeCaptureTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, raw json.RawMessage) (*transition, error) {
	if !p.Status.CanTransitionTo(valueobject.PaymentStatusCaptured) {
		return nil, invalidTransition(p.Status, valueobject.PaymentStatusCaptured)
	}
	escrow, err := tx.GetEscrowForUpdate(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !escrow.Status.CanTransitionTo(valueobject.EscrowStatusReleased) {
		return nil, apperror.New(apperror.ErrCodeInvalidStateTransition, "escrow уже закрыт")
	}
	order, err := tx.GetOrderForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.Status = valueobject.PaymentStatusCaptured
	p.CapturedAt = &now
	if p.PaidAt == nil {
		p.PaidAt = &now
	}
	clearOperation(p)
	p.SetGatewayResponse(raw)
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	escrow.Status = valueobject.EscrowStatusReleased
	escrow.ReleasedAt = &now
	if err := tx.UpdateEscrow(ctx, escrow); err != nil {
		return nil, err
	}

	advanceOrder(order, valueobject.OrderStatusCompleted)
	order.PaymentStatus = valueobject.OrderPaymentReleased
	order.CompletedAt = &now
	if order.PaidAt == nil {
		order.PaidAt = &now
	}
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	payout := valueobject.Payout(escrow.Amount, escrow.Commission)
	if err := tx.CreditBalance(ctx, repository.BalanceCredit{
		UserID:      order.SpecialistID,
		OrderID:     order.ID,
		PaymentID:   p.ID,
		Amount:      payout,
		Type:        models.TransactionTypeEscrowRelease,
		Description: fmt.Sprintf("Выплата по заказу %s", order.ID),
	}); err != nil {
		return nil, err
	}

	return &transition{
		payment: p,
		order:   order,
		event:   events.TypePaymentCaptured,
		notify: []notice{
			{userID: order.SpecialistID, event: models.EventPaymentCaptured},
			{userID: order.ClientID, event: models.EventPaymentCaptured},
		},
	}, nil
}

// finalizeRefundTx Payment REFUNDED, Escrow REFUNDED, Order CANCELLED.
func (s *EscrowService) finalizeRefundTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, raw json.RawMessage) (*transition, error) {
	if !p.Status.CanTransitionTo(valueobject.PaymentStatusRefunded) {
		return nil, invalidTransition(p.Status, valueobject.PaymentStatusRefunded)
	}
	escrow, err := tx.GetEscrowForUpdate(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	order, err := tx.GetOrderForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.Status = valueobject.PaymentStatusRefunded
	p.RefundedAt = &now
	clearOperation(p)
	p.SetGatewayResponse(raw)
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	if escrow.Status.CanTransitionTo(valueobject.EscrowStatusRefunded) {
		escrow.Status = valueobject.EscrowStatusRefunded
		escrow.RefundedAt = &now
		if err := tx.UpdateEscrow(ctx, escrow); err != nil {
			return nil, err
		}
	}

	advanceOrder(order, valueobject.OrderStatusCancelled)
	order.PaymentStatus = valueobject.OrderPaymentRefunded
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	return &transition{
		payment: p,
		order:   order,
		event:   events.TypePaymentRefunded,
		notify: []notice{
			{userID: order.ClientID, event: models.EventPaymentRefunded},
			{userID: order.SpecialistID, event: models.EventPaymentRefunded},
		},
	}, nil
}

// cancelTx шлюз отменил платёж (клиент не оплатил или холд истёк).
// Заказ остаётся в прежнем статусе и может быть оплачен заново.
func (s *EscrowService) cancelTx(ctx context.Context, tx repository.LedgerTx, p *models.Payment, raw json.RawMessage) (*transition, error) {
	if !p.Status.CanTransitionTo(valueobject.PaymentStatusCanceled) {
		return nil, invalidTransition(p.Status, valueobject.PaymentStatusCanceled)
	}
	escrow, err := tx.GetEscrowForUpdate(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	order, err := tx.GetOrderForUpdate(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p.Status = valueobject.PaymentStatusCanceled
	p.CanceledAt = &now
	clearOperation(p)
	p.SetGatewayResponse(raw)
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	if escrow.Status.CanTransitionTo(valueobject.EscrowStatusCanceled) {
		escrow.Status = valueobject.EscrowStatusCanceled
		escrow.CanceledAt = &now
		if err := tx.UpdateEscrow(ctx, escrow); err != nil {
			return nil, err
		}
	}

	order.PaymentStatus = valueobject.OrderPaymentCanceled
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	return &transition{
		payment: p,
		order:   order,
		event:   events.TypePaymentCanceled,
		notify:  []notice{{userID: order.ClientID, event: models.EventPaymentCanceled}},
	}, nil
}

// afterCommit публикует событие и ставит уведомления. Вызывается только после
// успешного коммита; ошибки логируются и не возвращаются.
func (s *EscrowService) afterCommit(ctx context.Context, t *transition) {
	if t == nil || t.event == "" {
		return
	}
	s.publish(ctx, t.event, t.payment)

	if s.notifier == nil {
		return
	}
	for _, n := range t.notify {
		s.notifier.Notify(ctx, n.userID, n.event, map[string]any{
			"payment_id": t.payment.ID,
			"order_id":   t.payment.OrderID.String(),
			"amount":     t.payment.Amount.StringFixed(2),
			"currency":   t.payment.Currency,
			"status":     string(t.payment.Status),
		})
	}
}

func (s *EscrowService) publish(ctx context.Context, eventType string, p *models.Payment) {
	err := s.events.Publish(ctx, events.PaymentEvent{
		Type:       eventType,
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Status:     string(p.Status),
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"payment_id": p.ID,
			"event":      eventType,
			"error":      err,
		}).Warn("payment event publish failed")
	}
}

// advanceOrder переводит заказ, если переход допустим. Деньги двигаются
// независимо от статуса заказа, поэтому недопустимый переход не ошибка.
func advanceOrder(order *models.Order, to valueobject.OrderStatus) {
	if order.Status.CanTransitionTo(to) {
		order.Status = to
	}
}

func invalidTransition(from, to valueobject.PaymentStatus) error {
	return apperror.New(apperror.ErrCodeInvalidStateTransition,
		fmt.Sprintf("переход платежа %s -> %s недопустим", from, to))
}
