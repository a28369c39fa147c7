package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/events"
	"github.com/ignatzorin/yodo-backend/internal/gateway"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/repository"
	"github.com/ignatzorin/yodo-backend/internal/validation"
)

// idempotencyNamespace пространство имён для детерминированных ключей идемпотентности.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("yodo-backend/payments"))

// PaymentGateway операции платёжного шлюза.
type PaymentGateway interface {
	Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.Payment, error)
	Capture(ctx context.Context, paymentID string, amount valueobject.Money, idempotencyKey string) (*gateway.Payment, error)
	Cancel(ctx context.Context, paymentID string, idempotencyKey string) (*gateway.Payment, error)
	Refund(ctx context.Context, paymentID string, amount valueobject.Money, reason, idempotencyKey string) (*gateway.Refund, error)
	GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

// LedgerStore хранилище платежей, escrow и балансов.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	GetEscrowByPaymentID(ctx context.Context, paymentID string) (*models.EscrowTransaction, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	CountPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	ListStalePayments(ctx context.Context, f repository.StaleFilter) ([]models.Payment, error)
	MarkReconciled(ctx context.Context, paymentID string, at time.Time) error
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
}

// OrderReader чтение заказов без блокировки.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Notifier ставит уведомление пользователю в очередь. Ошибки доставки
// не влияют на платёжные операции.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]any)
}

// Actor пользователь, от имени которого выполняется операция.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// EscrowConfig параметры платёжного сценария.
type EscrowConfig struct {
	CommissionPercent decimal.Decimal
	Currency          string
	FrontendURL       string
	// GatewayTimeout ограничивает вызов шлюза, который выполняется вне
	// контекста запроса: отмена клиентом не должна обрывать операцию с деньгами.
	GatewayTimeout time.Duration
	// HoldRecheckInterval как часто сверять удержания, по которым нет webhook.
	HoldRecheckInterval time.Duration
}

// InitiatePaymentInput запрос на создание платежа по заказу.
type InitiatePaymentInput struct {
	OrderID        uuid.UUID
	Amount         decimal.Decimal
	Description    string
	ReturnURL      string
	PaymentMethod  string
	IdempotencyKey string
}

// PaymentDetails платёж вместе с его escrow.
type PaymentDetails struct {
	*models.Payment
	Escrow *models.EscrowTransaction `json:"escrow,omitempty"`
}

// EscrowService управляет жизненным циклом платежа:
// создание и холдирование, списание в пользу специалиста, возврат и отмена.
type EscrowService struct {
	ledger   LedgerStore
	orders   OrderReader
	gateway  PaymentGateway
	notifier Notifier
	events   events.Publisher
	cfg      EscrowConfig
	log      *logrus.Entry
	now      func() time.Time

	// frontendHost единственный допустимый домен return_url.
	frontendHost string
}

func NewEscrowService(
	ledger LedgerStore,
	orders OrderReader,
	gw PaymentGateway,
	notifier Notifier,
	publisher events.Publisher,
	cfg EscrowConfig,
) *EscrowService {
	if cfg.Currency == "" {
		cfg.Currency = valueobject.DefaultCurrency
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.HoldRecheckInterval <= 0 {
		cfg.HoldRecheckInterval = time.Hour
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	var frontendHost string
	if u, err := url.Parse(cfg.FrontendURL); err == nil {
		frontendHost = u.Hostname()
	}
	return &EscrowService{
		ledger:       ledger,
		orders:       orders,
		gateway:      gw,
		notifier:     notifier,
		events:       publisher,
		cfg:          cfg,
		log:          logger.Component("escrow"),
		now:          time.Now,
		frontendHost: frontendHost,
	}
}

// Initiate создаёт платёж по заказу и холдирует средства клиента.
// Шлюз вызывается до транзакции; Payment и EscrowTransaction создаются
// одной транзакцией только после успешного ответа шлюза.
func (s *EscrowService) Initiate(ctx context.Context, actor Actor, in InitiatePaymentInput) (*models.Payment, error) {
	order, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if order.ClientID != actor.UserID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "оплатить заказ может только его клиент")
	}
	if !order.Status.IsPayable() {
		return nil, apperror.New(apperror.ErrCodeInvalidStateTransition, "заказ нельзя оплатить в текущем статусе")
	}

	amount, err := valueobject.NewMoney(in.Amount, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	if !amount.Amount.Equal(order.TotalPrice) {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма платежа не совпадает со стоимостью заказа")
	}
	method, err := valueobject.NewPaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}

	description, err := validation.Text("описание платежа", in.Description, validation.MaxPaymentDescriptionLength)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = fmt.Sprintf("Оплата заказа %s", order.ID)
	}

	// Возврат только на свой фронтенд, иначе ссылка оплаты станет открытым редиректом.
	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = fmt.Sprintf("%s/orders/%s/payment-success", s.cfg.FrontendURL, order.ID)
	} else if err := validation.ReturnURL(returnURL, s.frontendHost); err != nil {
		return nil, err
	}

	// Проверка до вызова шлюза, чтобы не создавать в нём лишний платёж.
	// Окончательная проверка повторяется под блокировкой заказа.
	if err := s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		active, err := tx.HasActivePayment(ctx, order.ID)
		if err != nil {
			return err
		}
		if active {
			return errActivePayment
		}
		return nil
	}); err != nil {
		if errors.Is(err, errActivePayment) && in.IdempotencyKey != "" {
			// Повтор запроса с ключом клиента возвращает созданный платёж.
			if existing := s.findByIdempotencyKey(ctx, order.ID, in.IdempotencyKey); existing != nil {
				return existing, nil
			}
		}
		return nil, mapLedgerError(err)
	}

	key := in.IdempotencyKey
	if key == "" {
		attempt, err := s.ledger.CountPaymentsByOrder(ctx, order.ID)
		if err != nil {
			return nil, mapLedgerError(err)
		}
		key = initiateKey(order.ID, attempt)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	gw, err := s.gateway.Authorize(gctx, gateway.AuthorizeRequest{
		OrderID:        order.ID,
		UserID:         actor.UserID,
		Amount:         amount,
		Description:    description,
		ReturnURL:      returnURL,
		PaymentMethod:  method,
		IdempotencyKey: key,
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"order_id": order.ID, "error": err}).Warn("authorize failed")
		return nil, mapGatewayError(err)
	}

	now := s.now()
	payment := &models.Payment{
		ID:             gw.ID,
		OrderID:        order.ID,
		UserID:         actor.UserID,
		Amount:         amount.Amount,
		Currency:       amount.Currency,
		PaymentMethod:  method,
		Description:    &description,
		Status:         valueobject.PaymentStatusPending,
		IdempotencyKey: key,
	}
	if gw.ConfirmationURL != "" {
		payment.ConfirmationURL = &gw.ConfirmationURL
	}
	payment.SetGatewayResponse(gw.Raw)

	err = s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := tx.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if !locked.Status.IsPayable() {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "заказ нельзя оплатить в текущем статусе")
		}
		active, err := tx.HasActivePayment(ctx, order.ID)
		if err != nil {
			return err
		}
		if active {
			return errActivePayment
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return tx.InsertEscrow(ctx, &models.EscrowTransaction{
			PaymentID:  payment.ID,
			OrderID:    order.ID,
			Amount:     payment.Amount,
			Commission: valueobject.EscrowCommission(payment.Amount, s.cfg.CommissionPercent),
			Status:     valueobject.EscrowStatusHeld,
			HeldAt:     &now,
		})
	})
	switch {
	case errors.Is(err, repository.ErrDuplicatePayment):
		// Повтор запроса с тем же ключом: шлюз вернул уже сохранённый платёж.
		existing, err := s.ledger.GetPayment(ctx, payment.ID)
		if err != nil {
			return nil, mapLedgerError(err)
		}
		return existing, nil
	case err != nil:
		s.log.WithFields(logrus.Fields{
			"order_id":   order.ID,
			"payment_id": payment.ID,
			"error":      err,
		}).Error("payment authorized in gateway but not recorded")
		return nil, mapLedgerError(err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"amount":     amount.String(),
	}).Info("payment initiated")
	s.publish(ctx, events.TypePaymentCreated, payment)

	return payment, nil
}

// Capture списывает захолдированные средства и выплачивает их специалисту.
func (s *EscrowService) Capture(ctx context.Context, actor Actor, paymentID string) (*models.Payment, error) {
	payment, err := s.claim(ctx, paymentID, valueobject.OperationCapture, "", func(p *models.Payment, o *models.Order) error {
		if o.ClientID != actor.UserID {
			return apperror.New(apperror.ErrCodeForbidden, "подтвердить выполнение может только клиент заказа")
		}
		if p.Status != valueobject.PaymentStatusWaitingForCapture {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "платёж нельзя списать в текущем статусе")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.executeCapture(ctx, payment)
}

// Refund возвращает средства клиенту. Незахолдированный платёж отменяется
// в шлюзе, подтверждённый возвращается через /refunds.
func (s *EscrowService) Refund(ctx context.Context, actor Actor, paymentID, reason string) (*models.Payment, error) {
	reason, err := validation.Text("причина возврата", reason, validation.MaxRefundReasonLength)
	if err != nil {
		return nil, err
	}

	payment, err := s.claim(ctx, paymentID, valueobject.OperationRefund, reason, func(p *models.Payment, o *models.Order) error {
		if o.ClientID != actor.UserID && !actor.IsAdmin() {
			return apperror.New(apperror.ErrCodeForbidden, "вернуть средства может клиент заказа или администратор")
		}
		if !p.Status.IsRefundable() {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "платёж нельзя вернуть в текущем статусе")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.executeRefund(ctx, payment)
}

func (s *EscrowService) findByIdempotencyKey(ctx context.Context, orderID uuid.UUID, key string) *models.Payment {
	payments, err := s.ledger.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil
	}
	for i := range payments {
		if payments[i].IdempotencyKey == key {
			return &payments[i]
		}
	}
	return nil
}

// GetPayment возвращает платёж участнику заказа или администратору.
func (s *EscrowService) GetPayment(ctx context.Context, actor Actor, paymentID string) (*PaymentDetails, error) {
	payment, err := s.ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	order, err := s.orders.GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if !actor.IsAdmin() && !order.IsParticipant(actor.UserID) {
		return nil, apperror.ErrForbidden
	}

	escrow, err := s.ledger.GetEscrowByPaymentID(ctx, paymentID)
	if err != nil && !errors.Is(err, repository.ErrEscrowNotFound) {
		return nil, mapLedgerError(err)
	}
	return &PaymentDetails{Payment: payment, Escrow: escrow}, nil
}

// ListOrderPayments все попытки оплаты заказа.
func (s *EscrowService) ListOrderPayments(ctx context.Context, actor Actor, orderID uuid.UUID) ([]models.Payment, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if !actor.IsAdmin() && !order.IsParticipant(actor.UserID) {
		return nil, apperror.ErrForbidden
	}
	payments, err := s.ledger.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return payments, nil
}

// GetBalance возвращает баланс пользователя.
func (s *EscrowService) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return balance, nil
}

// ListTransactions возвращает историю транзакций.
func (s *EscrowService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	transactions, err := s.ledger.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return transactions, nil
}

// claim помечает платёж операцией op под блокировкой строки. Повторный вызов
// той же операции переиспользует сохранённый ключ идемпотентности, другая
// операция в процессе даёт InvalidStateTransition.
func (s *EscrowService) claim(
	ctx context.Context,
	paymentID string,
	op valueobject.PaymentOperation,
	reason string,
	check func(*models.Payment, *models.Order) error,
) (*models.Payment, error) {
	var claimed *models.Payment
	err := s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		o, err := tx.GetOrderForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if p.PendingOperation != valueobject.OperationNone && p.PendingOperation != op {
			return apperror.New(apperror.ErrCodeInvalidStateTransition,
				fmt.Sprintf("по платежу уже выполняется операция %s", p.PendingOperation))
		}
		if err := check(p, o); err != nil {
			return err
		}

		if p.PendingOperation == op {
			claimed = p
			return nil
		}

		now := s.now()
		key := operationKey(p.ID, op)
		p.PendingOperation = op
		p.OperationKey = &key
		p.OperationStartedAt = &now
		if reason != "" {
			p.OperationReason = &reason
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		claimed = p
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return claimed, nil
}

// releaseClaim снимает маркер операции после окончательного отказа шлюза.
func (s *EscrowService) releaseClaim(ctx context.Context, paymentID string, op valueobject.PaymentOperation) error {
	return s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.PendingOperation != op {
			return nil
		}
		clearOperation(p)
		return tx.UpdatePayment(ctx, p)
	})
}

func (s *EscrowService) executeCapture(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	gw, err := s.gateway.Capture(gctx, p.ID, paymentMoney(p), deref(p.OperationKey))
	if err != nil {
		return nil, s.handleOperationError(ctx, p, valueobject.OperationCapture, err)
	}

	switch gw.Status {
	case gateway.StatusSucceeded:
	case gateway.StatusCanceled:
		// Холд истёк раньше, чем пришло подтверждение.
		return s.applyGatewayState(ctx, p.ID, gatewayState{Status: gw.Status, Raw: gw.Raw})
	default:
		s.log.WithFields(logrus.Fields{"payment_id": p.ID, "status": gw.Status}).
			Warn("capture accepted but not completed, waiting for webhook")
		return p, nil
	}

	var result *transition
	err = s.ledger.WithTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := tx.GetPaymentForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if locked.Status == valueobject.PaymentStatusCaptured {
			result = &transition{payment: locked}
			return nil
		}
		result, err = s.finalizeCaptureTx(ctx, tx, locked, gw.Raw)
		return err
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.afterCommit(ctx, result)
	return result.payment, nil
}

func (s *EscrowService) executeRefund(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	var state gatewayState
	if p.Status == valueobject.PaymentStatusWaitingForCapture {
		gw, err := s.gateway.Cancel(gctx, p.ID, deref(p.OperationKey))
		if err != nil {
			return nil, s.handleOperationError(ctx, p, valueobject.OperationRefund, err)
		}
		state = gatewayState{Status: gw.Status, Refunded: gw.IsFullyRefunded(), Raw: gw.Raw}
	} else {
		refund, err := s.gateway.Refund(gctx, p.ID, paymentMoney(p), deref(p.OperationReason), deref(p.OperationKey))
		if err != nil {
			return nil, s.handleOperationError(ctx, p, valueobject.OperationRefund, err)
		}
		switch refund.Status {
		case "succeeded":
			state = gatewayState{Status: gateway.StatusSucceeded, Refunded: true, Raw: refund.Raw}
		case "canceled":
			if err := s.releaseClaim(ctx, p.ID, valueobject.OperationRefund); err != nil {
				return nil, mapLedgerError(err)
			}
			return nil, apperror.New(apperror.ErrCodeGatewayRejected, "платёжный шлюз отклонил возврат")
		default:
			// pending: возврат завершит refund.succeeded или сверка.
			return p, nil
		}
	}

	if state.Status != gateway.StatusCanceled && !state.Refunded {
		return p, nil
	}
	return s.applyGatewayState(ctx, p.ID, state)
}

// handleOperationError снимает маркер при окончательном отказе. При
// недоступности или неизвестном результате маркер остаётся: повтор с тем же
// ключом или сверка доведут операцию.
func (s *EscrowService) handleOperationError(ctx context.Context, p *models.Payment, op valueobject.PaymentOperation, err error) error {
	fields := logrus.Fields{"payment_id": p.ID, "operation": op, "error": err}
	if errors.Is(err, gateway.ErrRejected) {
		if relErr := s.releaseClaim(ctx, p.ID, op); relErr != nil {
			fields["release_error"] = relErr
			s.log.WithFields(fields).Error("gateway rejected operation, claim release failed")
		} else {
			s.log.WithFields(fields).Warn("gateway rejected operation")
		}
		return mapGatewayError(err)
	}
	s.log.WithFields(fields).Warn("gateway operation not confirmed, left for reconciliation")
	return mapGatewayError(err)
}

func (s *EscrowService) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
}

// errActivePayment у заказа уже есть нетерминальный платёж.
var errActivePayment = apperror.New(apperror.ErrCodeInvalidStateTransition, "по заказу уже есть активный платёж")

// mapLedgerError переводит ошибки хранилища в ошибки приложения.
func mapLedgerError(err error) error {
	var appErr *apperror.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrPaymentNotFound):
		return apperror.ErrPaymentNotFound
	case errors.Is(err, repository.ErrOrderNotFound):
		return apperror.ErrOrderNotFound
	case errors.Is(err, repository.ErrServiceNotFound):
		return apperror.ErrServiceNotFound
	case errors.Is(err, repository.ErrActivePaymentExists):
		return errActivePayment
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperror.Wrap(err, apperror.ErrCodeInternal, "операция прервана")
	}
	return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "ошибка базы данных")
}

// mapGatewayError переводит типизированные ошибки шлюза в ошибки приложения.
func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrRejected):
		return apperror.Wrap(err, apperror.ErrCodeGatewayRejected, "платёжный шлюз отклонил операцию")
	case errors.Is(err, gateway.ErrIndeterminate):
		return apperror.Wrap(err, apperror.ErrCodeIndeterminate, "результат операции в платёжном шлюзе неизвестен, статус будет уточнён")
	}
	return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, повторите позже")
}

func initiateKey(orderID uuid.UUID, attempt int) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("%s:%d", orderID, attempt))).String()
}

func operationKey(paymentID string, op valueobject.PaymentOperation) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(paymentID+":"+string(op))).String()
}

func paymentMoney(p *models.Payment) valueobject.Money {
	return valueobject.Money{Amount: p.Amount, Currency: p.Currency}
}

func clearOperation(p *models.Payment) {
	p.PendingOperation = valueobject.OperationNone
	p.OperationKey = nil
	p.OperationReason = nil
	p.OperationStartedAt = nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
