package dto

import (
	"github.com/ignatzorin/yodo-backend/internal/models"
)

// ErrorResponse represents an error returned to the client
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CreatePaymentResponse is returned after a payment is initiated.
// The client is redirected to ConfirmationURL to enter card details.
type CreatePaymentResponse struct {
	PaymentID       string `json:"payment_id"`
	Status          string `json:"status"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// NewCreatePaymentResponse builds the response from a stored payment
func NewCreatePaymentResponse(p *models.Payment) CreatePaymentResponse {
	resp := CreatePaymentResponse{
		PaymentID: p.ID,
		Status:    string(p.Status),
	}
	if p.ConfirmationURL != nil {
		resp.ConfirmationURL = *p.ConfirmationURL
	}
	return resp
}

// ListResponse wraps a page of items
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NotificationListResponse represents user notifications with unread counter
type NotificationListResponse struct {
	Items  []models.Notification `json:"items"`
	Unread int                   `json:"unread"`
}
