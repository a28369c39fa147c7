package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/repository/common"
)

var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrEscrowNotFound      = errors.New("escrow not found")
	ErrDuplicatePayment    = errors.New("payment already exists")
	ErrActivePaymentExists = errors.New("order already has an active payment")
)

const (
	paymentsPKey           = "payments_pkey"
	paymentsActivePerOrder = "payments_one_active_per_order"
)

const paymentColumns = `id, order_id, user_id, amount, currency, payment_method, description, status,
	idempotency_key, confirmation_url, gateway_response, pending_operation, operation_key,
	operation_reason, operation_started_at, paid_at, captured_at, canceled_at, refunded_at,
	reconciled_at, created_at, updated_at`

// LedgerTx операции, доступные внутри одной транзакции БД.
// Все переходы состояний платежа выполняются через неё.
type LedgerTx interface {
	GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.Payment, error)
	HasActivePayment(ctx context.Context, orderID uuid.UUID) (bool, error)
	InsertPayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment) error

	InsertEscrow(ctx context.Context, escrow *models.EscrowTransaction) error
	GetEscrowForUpdate(ctx context.Context, paymentID string) (*models.EscrowTransaction, error)
	UpdateEscrow(ctx context.Context, escrow *models.EscrowTransaction) error

	CreditBalance(ctx context.Context, credit BalanceCredit) error
	// MarkEventProcessed возвращает false, если событие уже было обработано.
	MarkEventProcessed(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

// BalanceCredit начисление на баланс с записью в историю транзакций.
type BalanceCredit struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	PaymentID   string
	Amount      decimal.Decimal
	Type        string
	Description string
}

// LedgerRepository хранилище платежей и escrow.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx выполняет fn в одной транзакции: либо применяются все изменения, либо ни одно.
func (r *LedgerRepository) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// GetPayment возвращает платёж без блокировки.
func (r *LedgerRepository) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return common.GetByID[models.Payment](ctx, r.db, "payments", paymentID, ErrPaymentNotFound)
}

// GetEscrowByPaymentID возвращает escrow платежа.
func (r *LedgerRepository) GetEscrowByPaymentID(ctx context.Context, paymentID string) (*models.EscrowTransaction, error) {
	return common.GetByField[models.EscrowTransaction](ctx, r.db, "escrow_transactions", "payment_id", paymentID, ErrEscrowNotFound)
}

// ListPaymentsByOrder возвращает все попытки оплаты заказа, новые первыми.
func (r *LedgerRepository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &payments, query, orderID); err != nil {
		return nil, fmt.Errorf("ledger repository: list payments by order %w", err)
	}
	return payments, nil
}

// CountPaymentsByOrder количество попыток оплаты заказа.
func (r *LedgerRepository) CountPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payments WHERE order_id = $1`, orderID); err != nil {
		return 0, fmt.Errorf("ledger repository: count payments %w", err)
	}
	return count, nil
}

// StaleFilter пороги отбора платежей для сверки.
type StaleFilter struct {
	// OperationsBefore capture/refund, начатые раньше, считаются зависшими.
	OperationsBefore time.Time
	// PendingBefore pending без изменений и сверки с этого момента.
	PendingBefore time.Time
	// HoldsBefore удержания живут днями, их сверяем реже.
	HoldsBefore time.Time
	Limit       int
}

// ListStalePayments платежи, требующие сверки со шлюзом. Зависшие операции
// идут первыми, остальные по времени последнего изменения или сверки.
func (r *LedgerRepository) ListStalePayments(ctx context.Context, f StaleFilter) ([]models.Payment, error) {
	var payments []models.Payment
	query := `
		SELECT ` + paymentColumns + ` FROM payments
		WHERE (pending_operation <> '' AND operation_started_at < $1)
		   OR (pending_operation = '' AND status = 'pending' AND GREATEST(updated_at, reconciled_at) < $2)
		   OR (pending_operation = '' AND status = 'waiting_for_capture' AND GREATEST(updated_at, reconciled_at) < $3)
		ORDER BY pending_operation = '',
			CASE WHEN pending_operation <> '' THEN GREATEST(operation_started_at, reconciled_at)
			     ELSE GREATEST(updated_at, reconciled_at) END
		LIMIT $4
	`
	err := r.db.SelectContext(ctx, &payments, query, f.OperationsBefore, f.PendingBefore, f.HoldsBefore, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list stale payments %w", err)
	}
	return payments, nil
}

// MarkReconciled отмечает попытку сверки, чтобы платёж ушёл в конец очереди.
// updated_at не трогаем: он отражает изменения самого платежа.
func (r *LedgerRepository) MarkReconciled(ctx context.Context, paymentID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE payments SET reconciled_at = $2 WHERE id = $1`, paymentID, at); err != nil {
		return fmt.Errorf("ledger repository: mark reconciled %w", err)
	}
	return nil
}

// GetBalance возвращает баланс пользователя, создаёт если не существует.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var balance models.UserBalance
	query := `
		INSERT INTO user_balances (user_id, available, frozen)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = user_balances.updated_at
		RETURNING user_id, available, frozen, updated_at
	`
	if err := r.db.GetContext(ctx, &balance, query, userID); err != nil {
		return nil, fmt.Errorf("ledger repository: get balance %w", err)
	}
	return &balance, nil
}

// ListTransactions возвращает историю транзакций пользователя.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, order_id, payment_id, type, amount, status, description, created_at, completed_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list transactions %w", err)
	}
	return transactions, nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

func (t *ledgerTx) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("ledger repository: lock order %w", err)
	}
	return &order, nil
}

func (t *ledgerTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.GetContext(ctx, &order.UpdatedAt, `
		UPDATE orders
		SET status = $2, payment_status = $3, paid_at = $4, completed_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, order.ID, order.Status, order.PaymentStatus, order.PaidAt, order.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("ledger repository: update order %w", err)
	}
	return nil
}

func (t *ledgerTx) GetPaymentForUpdate(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := t.tx.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("ledger repository: lock payment %w", err)
	}
	return &payment, nil
}

func (t *ledgerTx) HasActivePayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = ANY($2))
	`, orderID, pq.Array(activeStatuses()))
	if err != nil {
		return false, fmt.Errorf("ledger repository: check active payment %w", err)
	}
	return exists, nil
}

func (t *ledgerTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, user_id, amount, currency, payment_method, description, status,
			idempotency_key, confirmation_url, gateway_response)
		VALUES (:id, :order_id, :user_id, :amount, :currency, :payment_method, :description, :status,
			:idempotency_key, :confirmation_url, :gateway_response)
		RETURNING created_at, updated_at
	`
	stmt, err := t.tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("ledger repository: prepare insert payment %w", err)
	}
	defer stmt.Close()

	if err := stmt.QueryRowxContext(ctx, payment).Scan(&payment.CreatedAt, &payment.UpdatedAt); err != nil {
		switch {
		case common.IsUniqueViolation(err, paymentsPKey):
			return ErrDuplicatePayment
		case common.IsUniqueViolation(err, paymentsActivePerOrder):
			return ErrActivePaymentExists
		}
		return fmt.Errorf("ledger repository: insert payment %w", err)
	}
	return nil
}

func (t *ledgerTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments SET
			status = :status,
			confirmation_url = :confirmation_url,
			gateway_response = :gateway_response,
			pending_operation = :pending_operation,
			operation_key = :operation_key,
			operation_reason = :operation_reason,
			operation_started_at = :operation_started_at,
			paid_at = :paid_at,
			captured_at = :captured_at,
			canceled_at = :canceled_at,
			refunded_at = :refunded_at,
			updated_at = NOW()
		WHERE id = :id
	`
	res, err := t.tx.NamedExecContext(ctx, query, payment)
	if err != nil {
		if common.IsUniqueViolation(err, paymentsActivePerOrder) {
			return ErrActivePaymentExists
		}
		return fmt.Errorf("ledger repository: update payment %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPaymentNotFound
	}
	payment.UpdatedAt = time.Now()
	return nil
}

func (t *ledgerTx) InsertEscrow(ctx context.Context, escrow *models.EscrowTransaction) error {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO escrow_transactions (payment_id, order_id, amount, commission, status, held_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, escrow.PaymentID, escrow.OrderID, escrow.Amount, escrow.Commission, escrow.Status, escrow.HeldAt).
		Scan(&escrow.ID, &escrow.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger repository: insert escrow %w", err)
	}
	return nil
}

func (t *ledgerTx) GetEscrowForUpdate(ctx context.Context, paymentID string) (*models.EscrowTransaction, error) {
	var escrow models.EscrowTransaction
	err := t.tx.GetContext(ctx, &escrow, `SELECT * FROM escrow_transactions WHERE payment_id = $1 FOR UPDATE`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("ledger repository: lock escrow %w", err)
	}
	return &escrow, nil
}

func (t *ledgerTx) UpdateEscrow(ctx context.Context, escrow *models.EscrowTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE escrow_transactions
		SET status = $2, released_at = $3, refunded_at = $4, canceled_at = $5
		WHERE id = $1
	`, escrow.ID, escrow.Status, escrow.ReleasedAt, escrow.RefundedAt, escrow.CanceledAt)
	if err != nil {
		return fmt.Errorf("ledger repository: update escrow %w", err)
	}
	return nil
}

// CreditBalance атомарно увеличивает баланс: чтение и запись в одном выражении,
// параллельные начисления не теряются.
func (t *ledgerTx) CreditBalance(ctx context.Context, credit BalanceCredit) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, available, frozen)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET available = user_balances.available + $2, updated_at = NOW()
	`, credit.UserID, credit.Amount)
	if err != nil {
		return fmt.Errorf("ledger repository: credit balance %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transactions (user_id, order_id, payment_id, type, amount, status, description, completed_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, NOW())
	`, credit.UserID, credit.OrderID, credit.PaymentID, credit.Type, credit.Amount, credit.Description)
	if err != nil {
		return fmt.Errorf("ledger repository: credit transaction %w", err)
	}
	return nil
}

func (t *ledgerTx) MarkEventProcessed(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, event.PaymentID)
	if err != nil {
		return false, fmt.Errorf("ledger repository: mark event %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger repository: mark event rows affected %w", err)
	}
	return n == 1, nil
}

func activeStatuses() []string {
	statuses := valueobject.ActivePaymentStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
