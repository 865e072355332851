package config

import (
	"errors"
	"time"

	"github.com/example/ads-platform/internal/platform/config"
)

// AdsyncConfig carries the service-specific settings; shared HTTP and log
// settings come from the platform config.
type AdsyncConfig struct {
	JWTSecret      []byte
	AdminTokenHash string
	AdDecisionURL  string
	SigningSecret  string
	CreativeTTL    time.Duration
	PollInterval   time.Duration
	RateLimitRPS   int
	RateLimitBurst int
}

func LoadAdsync() (AdsyncConfig, error) {
	secret := config.Env("JWT_SECRET", "")
	if secret == "" {
		return AdsyncConfig{}, errors.New("JWT_SECRET is required")
	}
	decisionURL := config.Env("AD_DECISION_URL", "")
	if decisionURL == "" {
		return AdsyncConfig{}, errors.New("AD_DECISION_URL is required")
	}
	signingSecret := config.Env("CREATIVE_SIGNING_SECRET", "")
	if signingSecret == "" {
		return AdsyncConfig{}, errors.New("CREATIVE_SIGNING_SECRET is required")
	}
	return AdsyncConfig{
		JWTSecret:      []byte(secret),
		AdminTokenHash: config.Env("ADMIN_TOKEN_HASH", ""),
		AdDecisionURL:  decisionURL,
		SigningSecret:  signingSecret,
		CreativeTTL:    config.EnvDuration("CREATIVE_URL_TTL", time.Hour),
		PollInterval:   config.EnvDuration("SESSION_POLL_INTERVAL", 500*time.Millisecond),
		RateLimitRPS:   config.EnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: config.EnvInt("RATE_LIMIT_BURST", 40),
	}, nil
}
