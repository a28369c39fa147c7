package gateway

import (
	"encoding/json"
	"errors"
	"strings"
)

// События, которые ЮKassa присылает на webhook.
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentCanceled          = "payment.canceled"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
	EventRefundSucceeded          = "refund.succeeded"
)

// ErrMalformedNotification тело webhook не удалось разобрать.
var ErrMalformedNotification = errors.New("malformed gateway notification")

// Notification входящее уведомление {type, event, object}.
type Notification struct {
	Type    string
	Event   string
	EventID string
	// PaymentID платёж, к которому относится событие (для refund.* берётся payment_id).
	PaymentID string
	Payment   *Payment
	Refund    *Refund
	Raw       json.RawMessage
}

type notificationDTO struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

// ParseNotification разбирает тело webhook.
//
// У ЮKassa в теле нет идентификатора события, поэтому ключ дедупликации
// строится из события и объекта: одно и то же событие по одному платежу
// всегда даёт одинаковый ключ.
func ParseNotification(body []byte) (*Notification, error) {
	var dto notificationDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, errors.Join(ErrMalformedNotification, err)
	}
	if dto.Event == "" || len(dto.Object) == 0 {
		return nil, ErrMalformedNotification
	}

	n := &Notification{
		Type:  dto.Type,
		Event: dto.Event,
		Raw:   json.RawMessage(body),
	}

	var objectID string
	if strings.HasPrefix(dto.Event, "refund.") {
		var r refundDTO
		if err := json.Unmarshal(dto.Object, &r); err != nil {
			return nil, errors.Join(ErrMalformedNotification, err)
		}
		n.Refund = &Refund{ID: r.ID, PaymentID: r.PaymentID, Status: r.Status, Amount: r.Amount.money(), Raw: dto.Object}
		n.PaymentID = r.PaymentID
		objectID = r.ID
	} else {
		var p paymentDTO
		if err := json.Unmarshal(dto.Object, &p); err != nil {
			return nil, errors.Join(ErrMalformedNotification, err)
		}
		n.Payment = p.toPayment(dto.Object)
		n.PaymentID = p.ID
		objectID = p.ID
	}
	if n.PaymentID == "" {
		return nil, ErrMalformedNotification
	}

	n.EventID = dto.ID
	if n.EventID == "" {
		n.EventID = dto.Event + ":" + objectID
	}
	return n, nil
}
