package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/yodo-backend/internal/http/middleware"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/service"
)

// newTestRouter собирает gin с обработчиком ошибок. Если userID не Nil,
// запрос считается авторизованным.
func newTestRouter(userID uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	if userID != uuid.Nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserIDKey, userID)
			c.Set(middleware.ContextRoleKey, role)
			c.Next()
		})
	}
	return r
}

func doRequest(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case []byte:
		buf.Write(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}

	req := httptest.NewRequest(method, path, &buf)
	if buf.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) Initiate(ctx context.Context, actor service.Actor, in service.InitiatePaymentInput) (*models.Payment, error) {
	args := m.Called(ctx, actor, in)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockPaymentService) Capture(ctx context.Context, actor service.Actor, paymentID string) (*models.Payment, error) {
	args := m.Called(ctx, actor, paymentID)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockPaymentService) Refund(ctx context.Context, actor service.Actor, paymentID, reason string) (*models.Payment, error) {
	args := m.Called(ctx, actor, paymentID, reason)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockPaymentService) GetPayment(ctx context.Context, actor service.Actor, paymentID string) (*service.PaymentDetails, error) {
	args := m.Called(ctx, actor, paymentID)
	p, _ := args.Get(0).(*service.PaymentDetails)
	return p, args.Error(1)
}

func (m *mockPaymentService) ListOrderPayments(ctx context.Context, actor service.Actor, orderID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, actor, orderID)
	p, _ := args.Get(0).([]models.Payment)
	return p, args.Error(1)
}

func (m *mockPaymentService) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*models.UserBalance)
	return b, args.Error(1)
}

func (m *mockPaymentService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	t, _ := args.Get(0).([]models.Transaction)
	return t, args.Error(1)
}

func (m *mockPaymentService) Reconcile(ctx context.Context, paymentID string) (*models.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

type mockWebhookIngestor struct {
	mock.Mock
}

func (m *mockWebhookIngestor) Verify(remoteIP string, body []byte, signature string) error {
	return m.Called(remoteIP, body, signature).Error(0)
}

func (m *mockWebhookIngestor) Ingest(ctx context.Context, body []byte) error {
	return m.Called(ctx, body).Error(0)
}

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) CreateOrder(ctx context.Context, actor service.Actor, in service.CreateOrderInput) (*models.Order, error) {
	args := m.Called(ctx, actor, in)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error) {
	return m.order(m.Called(ctx, actor, id))
}

func (m *mockOrderService) ListClientOrders(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Order, error) {
	args := m.Called(ctx, actor, status, limit, offset)
	o, _ := args.Get(0).([]models.Order)
	return o, args.Error(1)
}

func (m *mockOrderService) ListSpecialistOrders(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]models.Order, error) {
	args := m.Called(ctx, actor, status, limit, offset)
	o, _ := args.Get(0).([]models.Order)
	return o, args.Error(1)
}

func (m *mockOrderService) AcceptOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error) {
	return m.order(m.Called(ctx, actor, id))
}

func (m *mockOrderService) StartOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error) {
	return m.order(m.Called(ctx, actor, id))
}

func (m *mockOrderService) CancelOrder(ctx context.Context, actor service.Actor, id uuid.UUID) (*models.Order, error) {
	return m.order(m.Called(ctx, actor, id))
}

func (m *mockOrderService) order(args mock.Arguments) (*models.Order, error) {
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}
