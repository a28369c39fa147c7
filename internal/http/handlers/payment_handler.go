package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/yodo-backend/internal/dto"
	"github.com/ignatzorin/yodo-backend/internal/http/handlers/common"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/service"
)

// maxWebhookBody ограничение тела уведомления шлюза.
const maxWebhookBody = 1 << 20

// PaymentService операции escrow, доступные через HTTP.
type PaymentService interface {
	Initiate(ctx context.Context, actor service.Actor, in service.InitiatePaymentInput) (*models.Payment, error)
	Capture(ctx context.Context, actor service.Actor, paymentID string) (*models.Payment, error)
	Refund(ctx context.Context, actor service.Actor, paymentID, reason string) (*models.Payment, error)
	GetPayment(ctx context.Context, actor service.Actor, paymentID string) (*service.PaymentDetails, error)
	ListOrderPayments(ctx context.Context, actor service.Actor, orderID uuid.UUID) ([]models.Payment, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	Reconcile(ctx context.Context, paymentID string) (*models.Payment, error)
}

// WebhookIngestor проверка и применение уведомлений шлюза.
type WebhookIngestor interface {
	Verify(remoteIP string, body []byte, signature string) error
	Ingest(ctx context.Context, body []byte) error
}

// PaymentHandler обрабатывает запросы платежей.
type PaymentHandler struct {
	payments PaymentService
	webhooks WebhookIngestor
}

// NewPaymentHandler создаёт новый PaymentHandler.
func NewPaymentHandler(payments PaymentService, webhooks WebhookIngestor) *PaymentHandler {
	return &PaymentHandler{payments: payments, webhooks: webhooks}
}

// CreatePayment POST /payments/create. Заголовок Idempotency-Key делает повтор
// запроса безопасным.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreatePaymentRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.payments.Initiate(c.Request.Context(), actor, service.InitiatePaymentInput{
		OrderID:        req.OrderID,
		Amount:         req.Amount,
		Description:    req.Description,
		ReturnURL:      req.ReturnURL,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewCreatePaymentResponse(payment))
}

// GetPayment GET /payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	details, err := h.payments.GetPayment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// CapturePayment POST /payments/:id/capture. Клиент подтверждает выполнение
// заказа, средства уходят специалисту.
func (h *PaymentHandler) CapturePayment(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	payment, err := h.payments.Capture(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// RefundPayment POST /payments/:id/refund.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	// Тело необязательно: причина возврата может быть не указана.
	var req dto.RefundPaymentRequest
	if err := common.BindAndValidate(c, &req); err != nil && !errors.Is(err, io.EOF) {
		common.Fail(c, err)
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// ReconcilePayment POST /admin/payments/:id/reconcile.
func (h *PaymentHandler) ReconcilePayment(c *gin.Context) {
	payment, err := h.payments.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// ListOrderPayments GET /orders/:id/payments.
func (h *PaymentHandler) ListOrderPayments(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	payments, err := h.payments.ListOrderPayments(c.Request.Context(), actor, orderID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// GetBalance GET /payments/balance.
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	balance, err := h.payments.GetBalance(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ListTransactions GET /payments/transactions.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.payments.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse[models.Transaction]{Items: transactions, Limit: limit, Offset: offset})
}

// Webhook POST /payments/webhook. 200 подтверждает приём, любой другой
// ответ шлюз повторит позже.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать тело запроса"))
		return
	}

	if err := h.webhooks.Verify(c.ClientIP(), body, c.GetHeader("X-Webhook-Signature")); err != nil {
		common.Fail(c, err)
		return
	}
	if err := h.webhooks.Ingest(c.Request.Context(), body); err != nil {
		common.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
