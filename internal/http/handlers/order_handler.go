package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/yodo-backend/internal/dto"
	"github.com/ignatzorin/yodo-backend/internal/http/handlers/common"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/service"
)

// OrderService операции заказа, доступные через HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, actor service.Actor, in service.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error)
	ListClientOrders(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Order, error)
	ListSpecialistOrders(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Order, error)
	AcceptOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error)
	StartOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error)
	CancelOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error)
}

type OrderHandler struct {
	orders OrderService
}

// NewOrderHandler создаёт новый хэндлер.
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// CreateOrder обрабатывает POST /orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	var req dto.CreateOrderRequest
	if err := common.BindAndValidate(c, &req); err != nil {
		common.Fail(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), actor, service.CreateOrderInput{
		ServiceID:   req.ServiceID,
		Description: req.Description,
		Address:     req.Address,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetOrder обрабатывает GET /orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	h.withOrder(c, h.orders.GetOrder, http.StatusOK)
}

// ListMyOrders обрабатывает GET /orders/my: заказы клиента.
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	h.list(c, h.orders.ListClientOrders)
}

// ListAssignedOrders обрабатывает GET /orders/specialist: заказы специалиста.
func (h *OrderHandler) ListAssignedOrders(c *gin.Context) {
	h.list(c, h.orders.ListSpecialistOrders)
}

// AcceptOrder обрабатывает POST /orders/:id/accept.
func (h *OrderHandler) AcceptOrder(c *gin.Context) {
	h.withOrder(c, h.orders.AcceptOrder, http.StatusOK)
}

// StartOrder обрабатывает POST /orders/:id/start.
func (h *OrderHandler) StartOrder(c *gin.Context) {
	h.withOrder(c, h.orders.StartOrder, http.StatusOK)
}

// CancelOrder обрабатывает POST /orders/:id/cancel.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	h.withOrder(c, h.orders.CancelOrder, http.StatusOK)
}

type orderAction func(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error)

func (h *OrderHandler) withOrder(c *gin.Context, action orderAction, status int) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, err)
		return
	}

	order, err := action(c.Request.Context(), actor, id)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(status, order)
}

type orderLister func(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Order, error)

func (h *OrderHandler) list(c *gin.Context, lister orderLister) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.Fail(c, err)
		return
	}

	limit, offset := common.GetPagination(c)
	orders, err := lister(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, dto.ListResponse[models.Order]{Items: orders, Limit: limit, Offset: offset})
}
