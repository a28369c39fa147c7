package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Классы ошибок шлюза. Проверяются через errors.Is.
var (
	// ErrUnavailable сеть или 5xx, запрос можно повторить с тем же ключом.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected 4xx, повтор бессмысленен.
	ErrRejected = errors.New("gateway rejected request")
	// ErrIndeterminate таймаут или 202: неизвестно, выполнил ли шлюз операцию.
	ErrIndeterminate = errors.New("gateway outcome indeterminate")
)

// Error подробности ответа шлюза.
type Error struct {
	Kind        error
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("yookassa %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" %s: %s", e.Code, e.Description)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// classifyTransportError раскладывает ошибку http.Client по классам.
func classifyTransportError(op string, err error) error {
	kind := ErrUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = ErrIndeterminate
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrIndeterminate
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyStatus ошибка по HTTP статусу ответа, nil для 200.
func classifyStatus(op string, status int, body errorDTO) error {
	switch {
	case status == 200:
		return nil
	case status == 202:
		return &Error{Kind: ErrIndeterminate, Op: op, StatusCode: status}
	case status >= 500:
		return &Error{Kind: ErrUnavailable, Op: op, StatusCode: status, Code: body.Code, Description: body.Description}
	case status == 429:
		return &Error{Kind: ErrUnavailable, Op: op, StatusCode: status, Code: body.Code, Description: body.Description}
	case status >= 400:
		return &Error{Kind: ErrRejected, Op: op, StatusCode: status, Code: body.Code, Description: body.Description}
	default:
		return &Error{Kind: ErrUnavailable, Op: op, StatusCode: status}
	}
}
