package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/repository/common"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrServiceNotFound = errors.New("service not found")

	ErrNotificationNotFound = errors.New("notification not found")
)

// OrderRepository отвечает за работу с заказами и каталогом услуг.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create сохраняет новый заказ.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (client_id, specialist_id, service_id, description, address,
			total_price, specialist_price, platform_fee, status, payment_status, scheduled_at)
		VALUES (:client_id, :specialist_id, :service_id, :description, :address,
			:total_price, :specialist_price, :platform_fee, :status, :payment_status, :scheduled_at)
		RETURNING id, created_at, updated_at
	`
	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("order repository: prepare create %w", err)
	}
	defer stmt.Close()

	if err := stmt.QueryRowxContext(ctx, order).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("order repository: create %w", err)
	}
	return nil
}

// GetByID возвращает заказ по идентификатору.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, r.db, "orders", id, ErrOrderNotFound)
}

// GetService возвращает услугу каталога.
func (r *OrderRepository) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	var service models.Service
	err := r.db.GetContext(ctx, &service, `
		SELECT id, specialist_id, title, price, is_active FROM services WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("order repository: get service %w", err)
	}
	return &service, nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *OrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(expr string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if filter.ClientID != nil {
		addCondition("client_id = $%d", *filter.ClientID)
	}
	if filter.SpecialistID != nil {
		addCondition("specialist_id = $%d", *filter.SpecialistID)
	}
	if filter.Status != nil {
		addCondition("status = $%d", *filter.Status)
	}

	query := "SELECT * FROM orders"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	orders := []models.Order{}
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("order repository: list %w", err)
	}
	return orders, nil
}
