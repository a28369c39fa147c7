package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification описывает событие, отправленное пользователю.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// События уведомлений о платежах.
const (
	EventPaymentReceived = "payment.received"
	EventPaymentCaptured = "payment.captured"
	EventPaymentRefunded = "payment.refunded"
	EventPaymentCanceled = "payment.canceled"
	EventOrderAccepted   = "order.accepted"
	EventOrderCreated    = "order.created"
)

// NotificationTask задача в очереди уведомлений.
type NotificationTask struct {
	ID       uuid.UUID      `json:"id"`
	UserID   uuid.UUID      `json:"user_id"`
	Event    string         `json:"event"`
	Data     map[string]any `json:"data"`
	Attempts int            `json:"attempts"`
	// Saved запись в истории уже создана, повтор только отправляет push.
	Saved bool `json:"saved,omitempty"`
}
