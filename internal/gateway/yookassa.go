package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/domain/valueobject"
	"github.com/ignatzorin/yodo-backend/internal/logger"
)

const maxResponseBytes = 1 << 20

// Client клиент API ЮKassa. Все изменяющие вызовы идут с заголовком
// Idempotence-Key, который задаёт вызывающий код.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиента. timeout ограничивает один HTTP вызов.
func NewClient(baseURL, shopID, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Authorize создаёт платёж с capture=false: деньги холдируются до Capture или Cancel.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Payment, error) {
	body := createPaymentDTO{
		Amount:  toAmountDTO(req.Amount),
		Capture: false,
		Confirmation: confirmationDTO{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Description: req.Description,
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"user_id":  req.UserID.String(),
		},
	}
	// Карта выбирается на странице оплаты, остальные способы передаём явно.
	if req.PaymentMethod != "" && req.PaymentMethod != valueobject.PaymentMethodBankCard {
		body.PaymentMethodData = &paymentMethodDataDTO{Type: string(req.PaymentMethod)}
	}

	var dto paymentDTO
	raw, err := c.do(ctx, "authorize", http.MethodPost, "/payments", req.IdempotencyKey, body, &dto)
	if err != nil {
		return nil, err
	}
	return dto.toPayment(raw), nil
}

// Capture списывает захолдированные средства.
func (c *Client) Capture(ctx context.Context, paymentID string, amount valueobject.Money, idempotencyKey string) (*Payment, error) {
	var dto paymentDTO
	path := fmt.Sprintf("/payments/%s/capture", paymentID)
	raw, err := c.do(ctx, "capture", http.MethodPost, path, idempotencyKey, captureDTO{Amount: toAmountDTO(amount)}, &dto)
	if err != nil {
		return nil, err
	}
	return dto.toPayment(raw), nil
}

// Cancel снимает холд с платежа в статусе waiting_for_capture.
func (c *Client) Cancel(ctx context.Context, paymentID string, idempotencyKey string) (*Payment, error) {
	var dto paymentDTO
	path := fmt.Sprintf("/payments/%s/cancel", paymentID)
	raw, err := c.do(ctx, "cancel", http.MethodPost, path, idempotencyKey, struct{}{}, &dto)
	if err != nil {
		return nil, err
	}
	return dto.toPayment(raw), nil
}

// Refund возвращает списанный платёж.
func (c *Client) Refund(ctx context.Context, paymentID string, amount valueobject.Money, reason, idempotencyKey string) (*Refund, error) {
	body := createRefundDTO{
		PaymentID:   paymentID,
		Amount:      toAmountDTO(amount),
		Description: reason,
	}

	var dto refundDTO
	raw, err := c.do(ctx, "refund", http.MethodPost, "/refunds", idempotencyKey, body, &dto)
	if err != nil {
		return nil, err
	}
	return &Refund{
		ID:        dto.ID,
		PaymentID: dto.PaymentID,
		Status:    dto.Status,
		Amount:    dto.Amount.money(),
		Raw:       raw,
	}, nil
}

// GetPayment читает актуальное состояние платежа.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var dto paymentDTO
	raw, err := c.do(ctx, "get payment", http.MethodGet, "/payments/"+paymentID, "", nil, &dto)
	if err != nil {
		return nil, err
	}
	return dto.toPayment(raw), nil
}

// do выполняет запрос и декодирует ответ в out. Возвращает сырое тело ответа.
func (c *Client) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) (json.RawMessage, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("yookassa %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("yookassa %s: build request: %w", op, err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotence-Key", idempotencyKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		gwErr := classifyTransportError(op, err)
		logger.Log.WithFields(logrus.Fields{
			"op":       op,
			"path":     path,
			"duration": time.Since(started).String(),
			"error":    err.Error(),
		}).Warn("yookassa: запрос не выполнен")
		return nil, gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// Ответ мог быть уже применён шлюзом.
		return nil, &Error{Kind: ErrIndeterminate, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	logger.Log.WithFields(logrus.Fields{
		"op":       op,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	}).Debug("yookassa: ответ получен")

	if resp.StatusCode != http.StatusOK {
		var errBody errorDTO
		_ = json.Unmarshal(raw, &errBody)
		return nil, classifyStatus(op, resp.StatusCode, errBody)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &Error{Kind: ErrIndeterminate, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return json.RawMessage(raw), nil
}
