package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/gateway"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
)

// WebhookService проверяет и применяет уведомления шлюза.
type WebhookService struct {
	escrow  *EscrowService
	gateway PaymentGateway
	cfg     config.WebhookConfig
	nets    []*net.IPNet
	log     *logrus.Entry
}

func NewWebhookService(escrow *EscrowService, gw PaymentGateway, cfg config.WebhookConfig) (*WebhookService, error) {
	nets, err := parseAllowedIPs(cfg.AllowedIPs)
	if err != nil {
		return nil, err
	}
	return &WebhookService{
		escrow:  escrow,
		gateway: gw,
		cfg:     cfg,
		nets:    nets,
		log:     logger.Component("webhook"),
	}, nil
}

// Verify проверяет источник запроса до разбора тела. Включённые проверки
// (allowlist адресов и HMAC подпись) должны пройти все.
func (s *WebhookService) Verify(remoteIP string, body []byte, signature string) error {
	if len(s.nets) > 0 {
		ip := net.ParseIP(strings.TrimSpace(remoteIP))
		if ip == nil || !s.ipAllowed(ip) {
			s.log.WithField("remote_ip", remoteIP).Warn("webhook from disallowed address")
			return apperror.ErrBadSignature
		}
	}
	if s.cfg.Secret != "" {
		if !validSignature(s.cfg.Secret, body, signature) {
			s.log.WithField("remote_ip", remoteIP).Warn("webhook signature mismatch")
			return apperror.ErrBadSignature
		}
	}
	return nil
}

// Ingest разбирает уведомление и применяет его к платежу. Неизвестные события
// подтверждаются без изменений, чтобы шлюз не повторял их.
func (s *WebhookService) Ingest(ctx context.Context, body []byte) error {
	n, err := gateway.ParseNotification(body)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "некорректное уведомление")
	}

	fields := logrus.Fields{
		"event":      n.Event,
		"event_id":   n.EventID,
		"payment_id": n.PaymentID,
	}

	var state gatewayState
	switch n.Event {
	case gateway.EventPaymentWaitingForCapture, gateway.EventPaymentSucceeded, gateway.EventPaymentCanceled:
		if n.Payment == nil {
			return apperror.New(apperror.ErrCodeValidation, "некорректное уведомление")
		}
		state = gatewayState{
			Status:   n.Payment.Status,
			Refunded: n.Payment.IsFullyRefunded(),
			Raw:      n.Payment.Raw,
		}
	case gateway.EventRefundSucceeded:
		state = gatewayState{Refunded: true, Raw: n.Raw}
		if n.Refund != nil {
			state.Raw = n.Refund.Raw
		}
	default:
		s.log.WithFields(fields).Info("webhook event ignored")
		return nil
	}

	if s.cfg.VerifyWithGateway {
		// Тело не считаем источником истины, берём состояние из шлюза.
		gctx, cancel := s.escrow.gatewayContext(ctx)
		p, err := s.gateway.GetPayment(gctx, n.PaymentID)
		cancel()
		if err != nil {
			if errors.Is(err, gateway.ErrRejected) {
				return apperror.New(apperror.ErrCodeNotFound, "платёж не найден в шлюзе")
			}
			return mapGatewayError(err)
		}
		state = gatewayState{
			Status:   p.Status,
			Refunded: p.IsFullyRefunded(),
			Raw:      p.Raw,
		}
	}

	applied, err := s.escrow.ApplyEvent(ctx, GatewayEvent{
		EventID:   n.EventID,
		Kind:      n.Event,
		PaymentID: n.PaymentID,
		State:     state,
	})
	if err != nil {
		s.log.WithFields(fields).WithError(err).Warn("webhook apply failed")
		return err
	}
	fields["applied"] = applied
	s.log.WithFields(fields).Info("webhook processed")
	return nil
}

func (s *WebhookService) ipAllowed(ip net.IP) bool {
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseAllowedIPs(list []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("webhook: invalid allowed ip %q", raw)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("webhook: invalid allowed cidr %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// SignBody hex HMAC-SHA256 тела, в таком виде подпись приходит в заголовке.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignBody(secret, body))
	return hmac.Equal(got, want)
}
