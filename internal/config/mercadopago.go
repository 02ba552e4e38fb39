package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	ModeTest = "test"
	ModeProd = "prod"

	DefaultMercadoPagoBaseURL = "https://api.mercadopago.com"

	testTokenPrefix = "TEST-"
	liveTokenPrefix = "APP_USR"
)

// MercadoPagoConfig selects the credentials used against the payment processor API.
type MercadoPagoConfig struct {
	Mode            string
	TestAccessToken string
	LiveAccessToken string
	BaseURL         string
	Timeout         time.Duration
}

// ConfigurationError marks settings the service must refuse to start with.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NormalizeMode maps MP_MODE values onto test or prod. Anything that is not
// explicitly production runs against test credentials.
func NormalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeProd, "production", "live":
		return ModeProd
	default:
		return ModeTest
	}
}

// AccessToken returns the token matching the configured mode.
func (c MercadoPagoConfig) AccessToken() string {
	if c.Mode == ModeProd {
		return strings.TrimSpace(c.LiveAccessToken)
	}
	return strings.TrimSpace(c.TestAccessToken)
}

func (c MercadoPagoConfig) IsProduction() bool {
	return c.Mode == ModeProd
}

// Validate rejects tokens that belong to the other environment.
func (c MercadoPagoConfig) Validate() error {
	token := c.AccessToken()
	switch c.Mode {
	case ModeTest:
		if token == "" {
			return &ConfigurationError{Field: "MP_ACCESS_TOKEN_TEST", Reason: "access token is required in test mode"}
		}
		if strings.HasPrefix(token, liveTokenPrefix) {
			return &ConfigurationError{Field: "MP_ACCESS_TOKEN_TEST", Reason: "MP_MODE=test but the access token is a live APP_USR token"}
		}
	case ModeProd:
		if token == "" {
			return &ConfigurationError{Field: "MP_ACCESS_TOKEN", Reason: "access token is required in prod mode"}
		}
		if strings.HasPrefix(token, testTokenPrefix) {
			return &ConfigurationError{Field: "MP_ACCESS_TOKEN", Reason: "MP_MODE=prod but the access token is a TEST- token"}
		}
	default:
		return &ConfigurationError{Field: "MP_MODE", Reason: fmt.Sprintf("unsupported mode %q", c.Mode)}
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ConfigurationError{Field: "MP_API_BASE_URL", Reason: "base url is required"}
	}
	if c.Timeout <= 0 {
		return &ConfigurationError{Field: "MP_TIMEOUT_SECONDS", Reason: "timeout must be positive"}
	}
	return nil
}
