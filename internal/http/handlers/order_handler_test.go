package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
	"github.com/ignatzorin/yodo-backend/internal/service"
)

func TestOrderHandler_CreateOrder(t *testing.T) {
	userID := uuid.New()
	serviceID := uuid.New()
	orders := &mockOrderService{}
	r := newTestRouter(userID, models.RoleClient)
	r.POST("/orders", NewOrderHandler(orders).CreateOrder)

	orders.On("CreateOrder", mock.Anything, service.Actor{UserID: userID, Role: models.RoleClient},
		mock.MatchedBy(func(in service.CreateOrderInput) bool { return in.ServiceID == serviceID })).
		Return(&models.Order{ID: uuid.New(), ServiceID: serviceID, Status: valueobject.OrderStatusPending}, nil).Once()

	w := doRequest(r, http.MethodPost, "/orders", map[string]any{"service_id": serviceID}, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", decodeBody(w)["status"])
	orders.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_MissingService(t *testing.T) {
	r := newTestRouter(uuid.New(), models.RoleClient)
	r.POST("/orders", NewOrderHandler(&mockOrderService{}).CreateOrder)

	w := doRequest(r, http.MethodPost, "/orders", map[string]any{}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandler_Transitions(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()

	tests := []struct {
		name   string
		method string
		action string
		err    error
		status int
	}{
		{"accept", "AcceptOrder", "accept", nil, http.StatusOK},
		{"start without hold", "StartOrder", "start", apperror.New(apperror.ErrCodeInvalidStateTransition, "средства не удержаны"), http.StatusConflict},
		{"cancel by stranger", "CancelOrder", "cancel", apperror.ErrForbidden, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &mockOrderService{}
			handler := NewOrderHandler(orders)
			r := newTestRouter(userID, models.RoleSpecialist)
			r.POST("/orders/:id/accept", handler.AcceptOrder)
			r.POST("/orders/:id/start", handler.StartOrder)
			r.POST("/orders/:id/cancel", handler.CancelOrder)

			var order *models.Order
			if tt.err == nil {
				order = &models.Order{ID: orderID}
			}
			orders.On(tt.method, mock.Anything, mock.Anything, orderID).Return(order, tt.err).Once()

			w := doRequest(r, http.MethodPost, "/orders/"+orderID.String()+"/"+tt.action, nil, nil)

			assert.Equal(t, tt.status, w.Code)
			orders.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_ListMyOrders(t *testing.T) {
	userID := uuid.New()
	orders := &mockOrderService{}
	r := newTestRouter(userID, models.RoleClient)
	r.GET("/orders/my", NewOrderHandler(orders).ListMyOrders)

	orders.On("ListClientOrders", mock.Anything, mock.Anything, "pending", 20, 0).Return(nil, nil).Once()

	w := doRequest(r, http.MethodGet, "/orders/my?status=pending", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeBody(w)["items"])
}
