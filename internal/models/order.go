package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
)

// Роли пользователей.
const (
	RoleClient     = "client"
	RoleSpecialist = "specialist"
	RoleAdmin      = "admin"
)

// Order заказ клиента на услугу специалиста.
// SpecialistID хранит user id специалиста.
type Order struct {
	ID              uuid.UUID                      `db:"id" json:"id"`
	ClientID        uuid.UUID                      `db:"client_id" json:"client_id"`
	SpecialistID    uuid.UUID                      `db:"specialist_id" json:"specialist_id"`
	ServiceID       uuid.UUID                      `db:"service_id" json:"service_id"`
	Description     *string                        `db:"description" json:"description,omitempty"`
	Address         *string                        `db:"address" json:"address,omitempty"`
	TotalPrice      decimal.Decimal                `db:"total_price" json:"total_price"`
	SpecialistPrice decimal.Decimal                `db:"specialist_price" json:"specialist_price"`
	PlatformFee     decimal.Decimal                `db:"platform_fee" json:"platform_fee"`
	Status          valueobject.OrderStatus        `db:"status" json:"status"`
	PaymentStatus   valueobject.OrderPaymentStatus `db:"payment_status" json:"payment_status"`
	ScheduledAt     *time.Time                     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	PaidAt          *time.Time                     `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt     *time.Time                     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                      `db:"updated_at" json:"updated_at"`
}

// IsParticipant клиент или исполнитель заказа.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	return o.ClientID == userID || o.SpecialistID == userID
}

// Service услуга специалиста из каталога, источник цены заказа.
type Service struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	SpecialistID uuid.UUID       `db:"specialist_id" json:"specialist_id"`
	Title        string          `db:"title" json:"title"`
	Price        decimal.Decimal `db:"price" json:"price"`
	IsActive     bool            `db:"is_active" json:"is_active"`
}

// OrderFilter параметры выборки заказов.
type OrderFilter struct {
	ClientID     *uuid.UUID
	SpecialistID *uuid.UUID
	Status       *valueobject.OrderStatus
	Limit        int
	Offset       int
}
