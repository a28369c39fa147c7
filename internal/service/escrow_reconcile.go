package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/repository"
)

const reconcileBatchSize = 100

// GatewayEvent проверенное событие шлюза.
type GatewayEvent struct {
	EventID   string
	Kind      string
	PaymentID string
	State     gatewayState
}

// ApplyEvent применяет событие ровно один раз: id события записывается
// в той же транзакции, что и переход. Возвращает false для повтора.
func (s *EscrowService) ApplyEvent(ctx context.Context, ev GatewayEvent) (bool, error) {
	var (
		result  *transition
		applied bool
	)
	err := s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, ev.PaymentID)
		if err != nil {
			return err
		}
		fresh, err := tx.MarkEventProcessed(ctx, &models.WebhookEvent{
			EventID:   ev.EventID,
			EventType: ev.Kind,
			PaymentID: ev.PaymentID,
		})
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
		applied = true
		result, err = s.applyGatewayStateTx(ctx, tx, p, ev.State)
		return err
	})
	if err != nil {
		return false, mapLedgerError(err)
	}

	if applied {
		s.afterCommit(ctx, result)
	}
	return applied, nil
}

// Reconcile сверяет платёж со шлюзом. Зависшая операция capture/refund
// повторяется с сохранённым ключом идемпотентности, поэтому шлюз не выполнит
// её дважды.
func (s *EscrowService) Reconcile(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := s.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if p.Status.IsTerminal() && p.PendingOperation == valueobject.OperationNone {
		return p, nil
	}

	gctx, cancel := s.gatewayContext(ctx)
	gw, err := s.gateway.GetPayment(gctx, paymentID)
	cancel()
	if err != nil {
		return nil, mapGatewayError(err)
	}

	p, err = s.applyGatewayState(ctx, paymentID, gatewayState{
		Status:   gw.Status,
		Refunded: gw.IsFullyRefunded(),
		Raw:      gw.Raw,
	})
	if err != nil {
		return nil, err
	}

	switch p.PendingOperation {
	case valueobject.OperationCapture:
		if p.Status == valueobject.PaymentStatusWaitingForCapture {
			return s.executeCapture(ctx, p)
		}
	case valueobject.OperationRefund:
		if p.Status.IsRefundable() {
			return s.executeRefund(ctx, p)
		}
	}

	if p.PendingOperation != valueobject.OperationNone {
		// Операция больше неприменима к платежу, снимаем маркер.
		if err := s.releaseClaim(ctx, p.ID, p.PendingOperation); err != nil {
			return nil, mapLedgerError(err)
		}
		refreshed, err := s.ledger.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, mapLedgerError(err)
		}
		return refreshed, nil
	}
	return p, nil
}

// ReconcileStale сверяет платежи, по которым давно нет webhook, и
// операции, зависшие дольше grace.
func (s *EscrowService) ReconcileStale(ctx context.Context, grace time.Duration) (int, error) {
	now := s.now()
	stale, err := s.ledger.ListStalePayments(ctx, repository.StaleFilter{
		OperationsBefore: now.Add(-grace),
		PendingBefore:    now.Add(-grace),
		HoldsBefore:      now.Add(-s.cfg.HoldRecheckInterval),
		Limit:            reconcileBatchSize,
	})
	if err != nil {
		return 0, mapLedgerError(err)
	}

	failed := 0
	for i := range stale {
		if ctx.Err() != nil {
			return i - failed, ctx.Err()
		}
		_, err := s.Reconcile(ctx, stale[i].ID)
		// Отмечаем и неудачные попытки, иначе они занимают всю пачку.
		if markErr := s.ledger.MarkReconciled(ctx, stale[i].ID, s.now()); markErr != nil {
			s.log.WithError(markErr).WithField("payment_id", stale[i].ID).Warn("mark reconciled failed")
		}
		if err != nil {
			failed++
			s.log.WithFields(logrus.Fields{
				"payment_id": stale[i].ID,
				"operation":  stale[i].PendingOperation,
				"error":      err,
			}).Warn("reconcile payment failed")
		}
	}

	reconciled := len(stale) - failed
	if len(stale) > 0 {
		s.log.WithFields(logrus.Fields{
			"total":  len(stale),
			"failed": failed,
		}).Info("stale payments reconciled")
	}
	if failed > 0 {
		return reconciled, fmt.Errorf("reconcile: %d of %d payments failed", failed, len(stale))
	}
	return reconciled, nil
}
