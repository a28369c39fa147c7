package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/test?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "15", cfg.PlatformFeePercent.String())
	assert.Equal(t, "5", cfg.EscrowCommissionPercent.String())
	assert.Equal(t, "RUB", cfg.Currency)
	assert.Equal(t, "https://api.yookassa.ru/v3", cfg.Gateway.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "yodo:notifications", cfg.Redis.QueueKey)
	assert.Empty(t, cfg.Kafka.GetBrokers())
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, time.Hour, cfg.ReconcileHoldInterval)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "balancer.local")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTED_PROXIES")
}

func TestLoad_NestedConfigs(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("YOOKASSA_SHOP_ID", "shop-1")
	t.Setenv("YOOKASSA_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_ALLOWED_IPS", "185.71.76.0/27,77.75.156.11")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PLATFORM_FEE_PERCENT", "12.5")
	t.Setenv("FRONTEND_URL", "https://yodo.app/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "shop-1", cfg.Gateway.ShopID)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"185.71.76.0/27", "77.75.156.11"}, cfg.Webhook.AllowedIPs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.GetBrokers())
	assert.Equal(t, "12.5", cfg.PlatformFeePercent.String())
	assert.Equal(t, "https://yodo.app", cfg.FrontendURL)
}

func TestLoad_ProductionRequiresGatewayCredentials(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://yodo.app")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YOOKASSA_SHOP_ID")

	t.Setenv("YOOKASSA_SHOP_ID", "shop")
	t.Setenv("YOOKASSA_SECRET_KEY", "secret")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")

	t.Setenv("WEBHOOK_SECRET", "whsec")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_ProductionShortSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.Error(t, err)
}
