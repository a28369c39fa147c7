package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/service"
)

func TestPaymentHandler_CreatePayment(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	payments := &mockPaymentService{}
	handler := NewPaymentHandler(payments, nil)

	r := newTestRouter(userID, models.RoleClient)
	r.POST("/payments/create", handler.CreatePayment)

	confirmation := "https://yoomoney.ru/checkout/payments/v2/contract?orderId=pay-1"
	payments.On("Initiate", mock.Anything, service.Actor{UserID: userID, Role: models.RoleClient}, mock.MatchedBy(func(in service.InitiatePaymentInput) bool {
		return in.OrderID == orderID && in.Amount.Equal(decimal.NewFromInt(1000)) && in.IdempotencyKey == "key-1"
	})).Return(&models.Payment{
		ID:              "pay-1",
		Status:          valueobject.PaymentStatusPending,
		ConfirmationURL: &confirmation,
	}, nil).Once()

	w := doRequest(r, http.MethodPost, "/payments/create",
		map[string]any{"order_id": orderID, "amount": "1000.00"},
		map[string]string{"Idempotency-Key": "key-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(w)
	assert.Equal(t, "pay-1", body["payment_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, confirmation, body["confirmation_url"])
	payments.AssertExpectations(t)
}

func TestPaymentHandler_CreatePayment_Unauthorized(t *testing.T) {
	handler := NewPaymentHandler(&mockPaymentService{}, nil)
	r := newTestRouter(uuid.Nil, "")
	r.POST("/payments/create", handler.CreatePayment)

	w := doRequest(r, http.MethodPost, "/payments/create", map[string]any{"order_id": uuid.New()}, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(w)["code"])
}

func TestPaymentHandler_CreatePayment_InvalidBody(t *testing.T) {
	handler := NewPaymentHandler(&mockPaymentService{}, nil)
	r := newTestRouter(uuid.New(), models.RoleClient)
	r.POST("/payments/create", handler.CreatePayment)

	w := doRequest(r, http.MethodPost, "/payments/create",
		map[string]any{"order_id": uuid.New(), "payment_method": "cash"}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(w)["code"])
}

func TestPaymentHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", apperror.New(apperror.ErrCodeInvalidStateTransition, "платёж уже в обработке"), http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"gateway unavailable", apperror.New(apperror.ErrCodeGatewayUnavailable, "шлюз недоступен"), http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
		{"gateway rejected", apperror.New(apperror.ErrCodeGatewayRejected, "шлюз отклонил операцию"), http.StatusBadGateway, "GATEWAY_REJECTED"},
		{"indeterminate", apperror.New(apperror.ErrCodeIndeterminate, "результат неизвестен"), http.StatusGatewayTimeout, "INDETERMINATE"},
		{"not found", apperror.ErrPaymentNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"plain error", fmt.Errorf("ledger repository: boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPaymentService{}
			handler := NewPaymentHandler(payments, nil)
			r := newTestRouter(uuid.New(), models.RoleClient)
			r.POST("/payments/:id/capture", handler.CapturePayment)

			payments.On("Capture", mock.Anything, mock.Anything, "pay-1").Return(nil, tt.err).Once()

			w := doRequest(r, http.MethodPost, "/payments/pay-1/capture", nil, nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeBody(w)["code"])
		})
	}
}

func TestPaymentHandler_RefundWithoutBody(t *testing.T) {
	payments := &mockPaymentService{}
	handler := NewPaymentHandler(payments, nil)
	r := newTestRouter(uuid.New(), models.RoleClient)
	r.POST("/payments/:id/refund", handler.RefundPayment)

	payments.On("Refund", mock.Anything, mock.Anything, "pay-1", "").
		Return(&models.Payment{ID: "pay-1", Status: valueobject.PaymentStatusCanceled}, nil).Once()

	w := doRequest(r, http.MethodPost, "/payments/pay-1/refund", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_ListOrderPayments_InvalidOrderID(t *testing.T) {
	handler := NewPaymentHandler(&mockPaymentService{}, nil)
	r := newTestRouter(uuid.New(), models.RoleClient)
	r.GET("/orders/:id/payments", handler.ListOrderPayments)

	w := doRequest(r, http.MethodGet, "/orders/invalid-uuid/payments", nil, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_ListTransactions_Pagination(t *testing.T) {
	userID := uuid.New()
	payments := &mockPaymentService{}
	handler := NewPaymentHandler(payments, nil)
	r := newTestRouter(userID, models.RoleSpecialist)
	r.GET("/payments/transactions", handler.ListTransactions)

	payments.On("ListTransactions", mock.Anything, userID, 100, 5).Return([]models.Transaction{{ID: uuid.New()}}, nil).Once()

	w := doRequest(r, http.MethodGet, "/payments/transactions?limit=500&offset=5", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(w)
	assert.EqualValues(t, 100, body["limit"])
	assert.Len(t, body["items"], 1)
}

func TestPaymentHandler_Webhook(t *testing.T) {
	payload := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`)

	t.Run("accepted", func(t *testing.T) {
		webhooks := &mockWebhookIngestor{}
		handler := NewPaymentHandler(nil, webhooks)
		r := newTestRouter(uuid.Nil, "")
		r.POST("/payments/webhook", handler.Webhook)

		webhooks.On("Verify", mock.Anything, payload, "sig").Return(nil).Once()
		webhooks.On("Ingest", mock.Anything, payload).Return(nil).Once()

		w := doRequest(r, http.MethodPost, "/payments/webhook", payload, map[string]string{"X-Webhook-Signature": "sig"})

		assert.Equal(t, http.StatusOK, w.Code)
		webhooks.AssertExpectations(t)
	})

	t.Run("bad signature", func(t *testing.T) {
		webhooks := &mockWebhookIngestor{}
		handler := NewPaymentHandler(nil, webhooks)
		r := newTestRouter(uuid.Nil, "")
		r.POST("/payments/webhook", handler.Webhook)

		webhooks.On("Verify", mock.Anything, payload, "").Return(apperror.ErrBadSignature).Once()

		w := doRequest(r, http.MethodPost, "/payments/webhook", payload, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		webhooks.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("unknown payment asks for redelivery", func(t *testing.T) {
		webhooks := &mockWebhookIngestor{}
		handler := NewPaymentHandler(nil, webhooks)
		r := newTestRouter(uuid.Nil, "")
		r.POST("/payments/webhook", handler.Webhook)

		webhooks.On("Verify", mock.Anything, payload, "").Return(nil).Once()
		webhooks.On("Ingest", mock.Anything, payload).Return(apperror.ErrPaymentNotFound).Once()

		w := doRequest(r, http.MethodPost, "/payments/webhook", payload, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
