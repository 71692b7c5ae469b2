package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("SENDGRID_API_KEY", "")

	c, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, c.Env)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
	assert.Equal(t, time.Hour, c.Auth.SessionTTL)
	assert.Equal(t, 5, c.Auth.LoginRateLimit)
	assert.Equal(t, 15*time.Minute, c.Auth.LoginRateWindow)
	assert.Equal(t, 3, c.Auth.ResendRateLimit)
	assert.Equal(t, time.Hour, c.Auth.ResendRateWindow)
	assert.Equal(t, 10, c.Auth.BcryptCost)
	assert.Equal(t, 48*time.Hour, c.Auth.VerifyTokenTTL)
	assert.Equal(t, 5*time.Second, c.Auth.UpgradeTimeout)
	assert.Equal(t, 10*time.Second, c.Mail.Timeout)
	assert.Equal(t, "https://api.sendgrid.com", c.Mail.SendGridHost)
	assert.False(t, c.Auth.TrustProxy)
	assert.False(t, c.Auth.SecureCookies)
	assert.Equal(t, "info", c.Log.Level)
}

func TestFromViper_Environment(t *testing.T) {
	t.Setenv("APP_ENV", EnvTesting)
	t.Setenv("ADDR", ":9090")
	t.Setenv("BASE_URL", "https://hospital.example")
	t.Setenv("LOGIN_RATE_LIMIT", "10")
	t.Setenv("LOGIN_RATE_WINDOW", "1m")
	t.Setenv("VERIFY_TOKEN_TTL", "24h")
	t.Setenv("RESEND_RATE_LIMIT", "2")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("MAIL_FROM_ADDRESS", "noreply@hospital.example")

	c, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, EnvTesting, c.Env)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, "https://hospital.example", c.BaseURL)
	assert.Equal(t, 10, c.Auth.LoginRateLimit)
	assert.Equal(t, time.Minute, c.Auth.LoginRateWindow)
	assert.Equal(t, 24*time.Hour, c.Auth.VerifyTokenTTL)
	assert.Equal(t, 2, c.Auth.ResendRateLimit)
	assert.True(t, c.Auth.TrustProxy)
	assert.Equal(t, "noreply@hospital.example", c.Mail.FromAddress)
}

func TestFromViper_Production(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("SENDGRID_API_KEY", "")

	_, err := FromViper(viper.New())
	assert.EqualError(t, err, "sendgrid_api_key is required in production")

	t.Setenv("SENDGRID_API_KEY", "SG.key")
	c, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.True(t, c.IsProduction())
	assert.True(t, c.Auth.SecureCookies)
}

func TestFromViper_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero rate limit", "LOGIN_RATE_LIMIT", "0"},
		{"negative session ttl", "SESSION_TTL", "-1h"},
		{"zero resend limit", "RESEND_RATE_LIMIT", "0"},
		{"zero resend window", "RESEND_RATE_WINDOW", "0s"},
		{"bcrypt cost too low", "BCRYPT_COST", "3"},
		{"bcrypt cost too high", "BCRYPT_COST", "32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", EnvTesting)
			t.Setenv(tt.key, tt.value)

			_, err := FromViper(viper.New())
			assert.Error(t, err)
		})
	}
}
