package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/repository"
	"github.com/ignatzorin/yodo-backend/internal/validation"
)

// OrderRepository описывает взаимодействие сервиса с хранилищем заказов.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
}

// TxRunner выполняет функцию в транзакции хранилища.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
}

// CreateOrderInput данные для создания заказа.
type CreateOrderInput struct {
	ServiceID   uuid.UUID
	Description *string
	Address     *string
	ScheduledAt *time.Time
}

// OrderService жизненный цикл заказа до и после оплаты.
type OrderService struct {
	repo       OrderRepository
	tx         TxRunner
	notifier   Notifier
	feePercent decimal.Decimal
	log        *logrus.Entry
}

func NewOrderService(repo OrderRepository, tx TxRunner, notifier Notifier, feePercent decimal.Decimal) *OrderService {
	return &OrderService{
		repo:       repo,
		tx:         tx,
		notifier:   notifier,
		feePercent: feePercent,
		log:        logger.Component("orders"),
	}
}

// CreateOrder создаёт заказ по услуге каталога. Цена берётся из услуги и
// делится на комиссию платформы и долю специалиста.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*models.Order, error) {
	svc, err := s.repo.GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if !svc.IsActive {
		return nil, apperror.New(apperror.ErrCodeValidation, "услуга недоступна для заказа")
	}
	if svc.SpecialistID == actor.UserID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя заказать собственную услугу")
	}
	if in.ScheduledAt != nil && in.ScheduledAt.Before(time.Now()) {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата выполнения не может быть в прошлом")
	}
	description, err := validation.OptionalText("описание заказа", in.Description, validation.MaxOrderDescriptionLength)
	if err != nil {
		return nil, err
	}
	address, err := validation.OptionalText("адрес", in.Address, validation.MaxOrderAddressLength)
	if err != nil {
		return nil, err
	}

	split, err := valueobject.SplitFee(svc.Price, s.feePercent)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ClientID:        actor.UserID,
		SpecialistID:    svc.SpecialistID,
		ServiceID:       svc.ID,
		Description:     description,
		Address:         address,
		TotalPrice:      split.Total,
		SpecialistPrice: split.Specialist,
		PlatformFee:     split.Fee,
		Status:          valueobject.OrderStatusPending,
		PaymentStatus:   valueobject.OrderPaymentPending,
		ScheduledAt:     in.ScheduledAt,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, mapLedgerError(err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"service_id":  svc.ID,
		"total_price": order.TotalPrice.StringFixed(2),
	}).Info("order created")
	s.notify(ctx, order.SpecialistID, models.EventOrderCreated, order)

	return order, nil
}

// GetOrder возвращает заказ участнику или администратору.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if !actor.IsAdmin() && !order.IsParticipant(actor.UserID) {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListClientOrders заказы, где пользователь клиент.
func (s *OrderService) ListClientOrders(ctx context.Context, actor Actor, status string, limit, offset int) ([]models.Order, error) {
	filter := models.OrderFilter{ClientID: &actor.UserID}
	return s.list(ctx, filter, status, limit, offset)
}

// ListSpecialistOrders заказы, где пользователь исполнитель.
func (s *OrderService) ListSpecialistOrders(ctx context.Context, actor Actor, status string, limit, offset int) ([]models.Order, error) {
	filter := models.OrderFilter{SpecialistID: &actor.UserID}
	return s.list(ctx, filter, status, limit, offset)
}

func (s *OrderService) list(ctx context.Context, filter models.OrderFilter, status string, limit, offset int) ([]models.Order, error) {
	if status != "" {
		st, err := valueobject.NewOrderStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &st
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return orders, nil
}

// AcceptOrder специалист принимает заказ.
func (s *OrderService) AcceptOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.mutate(ctx, id, func(tx repository.LedgerTx, o *models.Order) error {
		if o.SpecialistID != actor.UserID {
			return apperror.New(apperror.ErrCodeForbidden, "принять заказ может только исполнитель")
		}
		return transitionOrder(o, valueobject.OrderStatusPending, valueobject.OrderStatusAccepted)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, order.ClientID, models.EventOrderAccepted, order)
	return order, nil
}

// StartOrder специалист начинает работу. Средства клиента должны быть
// захолдированы или подтверждены.
func (s *OrderService) StartOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, func(tx repository.LedgerTx, o *models.Order) error {
		if o.SpecialistID != actor.UserID {
			return apperror.New(apperror.ErrCodeForbidden, "начать работу может только исполнитель")
		}
		if o.PaymentStatus != valueobject.OrderPaymentHeld {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "заказ ещё не оплачен")
		}
		if !o.Status.CanTransitionTo(valueobject.OrderStatusInProgress) {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "работу по заказу нельзя начать в текущем статусе")
		}
		o.Status = valueobject.OrderStatusInProgress
		return nil
	})
}

// CancelOrder клиент отменяет неоплаченный заказ. Если есть активный платёж,
// отмена идёт через возврат платежа.
func (s *OrderService) CancelOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	return s.mutate(ctx, id, func(tx repository.LedgerTx, o *models.Order) error {
		if o.ClientID != actor.UserID && !actor.IsAdmin() {
			return apperror.New(apperror.ErrCodeForbidden, "отменить заказ может только клиент")
		}
		if !o.Status.IsPayable() {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "заказ нельзя отменить в текущем статусе")
		}
		active, err := tx.HasActivePayment(ctx, o.ID)
		if err != nil {
			return err
		}
		if active {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "по заказу есть активный платёж, оформите возврат")
		}
		o.Status = valueobject.OrderStatusCancelled
		return nil
	})
}

// mutate блокирует заказ, применяет fn и сохраняет результат.
func (s *OrderService) mutate(ctx context.Context, id uuid.UUID, fn func(tx repository.LedgerTx, o *models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx repository.LedgerTx) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return order, nil
}

func (s *OrderService) notify(ctx context.Context, userID uuid.UUID, event string, order *models.Order) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, event, map[string]any{
		"order_id":    order.ID.String(),
		"status":      string(order.Status),
		"total_price": order.TotalPrice.StringFixed(2),
	})
}

func transitionOrder(o *models.Order, from, to valueobject.OrderStatus) error {
	if o.Status != from || !o.Status.CanTransitionTo(to) {
		return apperror.New(apperror.ErrCodeInvalidStateTransition, "недопустимый переход статуса заказа")
	}
	o.Status = to
	return nil
}
