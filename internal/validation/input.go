package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
)

// Ограничения пользовательских полей заказа и платежа.
const (
	MaxOrderDescriptionLength   = 2000
	MaxOrderAddressLength       = 500
	MaxPaymentDescriptionLength = 128 // ограничение ЮKassa
	MaxRefundReasonLength       = 250
	MaxReturnURLLength          = 2048
)

// ValidateLength проверяет длину строки в символах.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return invalid("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return invalid("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// Text обрезает пробелы, убирает управляющие символы и проверяет длину.
func Text(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, value))

	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// OptionalText как Text, но пустое значение превращается в nil.
func OptionalText(fieldName string, value *string, max int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	clean, err := Text(fieldName, *value, max)
	if err != nil {
		return nil, err
	}
	if clean == "" {
		return nil, nil
	}
	return &clean, nil
}

// ReturnURL проверяет адрес возврата после оплаты: только абсолютный
// http(s). Если задан allowedHost, адрес должен вести на него.
func ReturnURL(raw, allowedHost string) error {
	if len(raw) > MaxReturnURLLength {
		return invalid("return_url слишком длинный")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return invalid("некорректный return_url")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return invalid("return_url должен начинаться с http:// или https://")
	}
	if parsed.Host == "" {
		return invalid("return_url должен содержать домен")
	}
	if allowedHost != "" && !strings.EqualFold(parsed.Hostname(), allowedHost) {
		return invalid("return_url должен вести на %s", allowedHost)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf(format, args...))
}
