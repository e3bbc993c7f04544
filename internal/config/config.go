// Package config assembles the subset of environment configuration
// relevant to a resolved region: app identity, storage credentials for
// the selected engine, and payment credentials for the allowed
// methods. Credentials outside the region's policy are never loaded.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// EnvironmentConfig is the flat, region-scoped configuration bundle.
// It is built fresh on every Load call and never persisted.
type EnvironmentConfig struct {
	AppName     string
	AppURL      string
	Environment string

	// Storage credentials for the selected engine only.
	DatabaseURL string
	DocStoreURL string

	// Payment credentials for the allowed methods only.
	AlipayAppID      string
	AlipayPrivateKey string
	AlipayPublicKey  string

	WechatAppID  string
	WechatMchID  string
	WechatAPIKey string

	StripeSecretKey     string
	StripeWebhookSecret string

	PaypalClientID     string
	PaypalClientSecret string
}

// IsDevelopment reports whether the process runs in development mode.
func (c *EnvironmentConfig) IsDevelopment() bool {
	return c.Environment != "production"
}

// Loader builds EnvironmentConfig values for one region profile.
type Loader struct {
	profile policy.RegionProfile
	lookup  func(string) string
}

// NewLoader creates a loader for the given profile, reading from the
// process environment.
func NewLoader(profile policy.RegionProfile) *Loader {
	return &Loader{profile: profile, lookup: os.Getenv}
}

// NewLoaderWithLookup creates a loader with an injected variable
// lookup. Intended for tests.
func NewLoaderWithLookup(profile policy.RegionProfile, lookup func(string) string) *Loader {
	return &Loader{profile: profile, lookup: lookup}
}

// Load assembles and validates the region-scoped configuration. The
// returned error enumerates every missing required value, not just the
// first.
func (l *Loader) Load() (*EnvironmentConfig, error) {
	cfg := &EnvironmentConfig{
		AppName:     l.lookup("APP_NAME"),
		Environment: l.env("APP_ENV", "development"),
	}

	appURL, err := l.resolveAppURL(cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	cfg.AppURL = appURL

	switch l.profile.StorageEngine {
	case policy.EngineRelational:
		cfg.DatabaseURL = l.lookup("DATABASE_URL")
	case policy.EngineDocumentStore:
		cfg.DocStoreURL = l.lookup("DOCSTORE_URL")
	}

	for _, method := range l.profile.PaymentMethods {
		switch method {
		case policy.MethodAlipay:
			cfg.AlipayAppID = l.lookup("ALIPAY_APP_ID")
			cfg.AlipayPrivateKey = l.lookup("ALIPAY_PRIVATE_KEY")
			cfg.AlipayPublicKey = l.lookup("ALIPAY_PUBLIC_KEY")
		case policy.MethodWechat:
			cfg.WechatAppID = l.lookup("WECHAT_APP_ID")
			cfg.WechatMchID = l.lookup("WECHAT_MCH_ID")
			cfg.WechatAPIKey = l.lookup("WECHAT_API_KEY")
		case policy.MethodStripe:
			cfg.StripeSecretKey = l.lookup("STRIPE_SECRET_KEY")
			cfg.StripeWebhookSecret = l.lookup("STRIPE_WEBHOOK_SECRET")
		case policy.MethodPaypal:
			cfg.PaypalClientID = l.lookup("PAYPAL_CLIENT_ID")
			cfg.PaypalClientSecret = l.lookup("PAYPAL_CLIENT_SECRET")
		}
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveAppURL walks the deployment URL fallback chain: explicit
// APP_URL, then platform-provided hosts, then a localhost default in
// development only.
func (l *Loader) resolveAppURL(development bool) (string, error) {
	if url := l.lookup("APP_URL"); url != "" {
		return url, nil
	}
	if url := l.lookup("RENDER_EXTERNAL_URL"); url != "" {
		return url, nil
	}
	if host := l.lookup("RAILWAY_PUBLIC_DOMAIN"); host != "" {
		return "https://" + host, nil
	}
	if development {
		return "http://localhost:" + l.env("PORT", "8080"), nil
	}
	return "", fmt.Errorf("deployment URL is not configured: set APP_URL (or deploy on a platform providing RENDER_EXTERNAL_URL / RAILWAY_PUBLIC_DOMAIN)")
}

// Validate checks the region-specific required-field list and reports
// every missing field.
func (l *Loader) Validate(cfg *EnvironmentConfig) error {
	missing := map[string]bool{}

	if cfg.AppName == "" {
		missing["APP_NAME"] = true
	}
	if cfg.AppURL == "" {
		missing["APP_URL"] = true
	}

	switch l.profile.StorageEngine {
	case policy.EngineRelational:
		if cfg.DatabaseURL == "" {
			missing["DATABASE_URL"] = true
		}
	case policy.EngineDocumentStore:
		if cfg.DocStoreURL == "" {
			missing["DOCSTORE_URL"] = true
		}
	}

	for _, method := range l.profile.PaymentMethods {
		for _, pair := range requiredPaymentVars[method] {
			if l.lookup(pair) == "" {
				missing[pair] = true
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	fields := make([]string, 0, len(missing))
	for field := range missing {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Errorf("missing required configuration for region %s: %s",
		l.profile.Region, strings.Join(fields, ", "))
}

var requiredPaymentVars = map[policy.Method][]string{
	policy.MethodAlipay: {"ALIPAY_APP_ID", "ALIPAY_PRIVATE_KEY", "ALIPAY_PUBLIC_KEY"},
	policy.MethodWechat: {"WECHAT_APP_ID", "WECHAT_MCH_ID", "WECHAT_API_KEY"},
	policy.MethodStripe: {"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET"},
	policy.MethodPaypal: {"PAYPAL_CLIENT_ID", "PAYPAL_CLIENT_SECRET"},
}

func (l *Loader) env(key, defaultValue string) string {
	if value := l.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnv returns the named process environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt returns the named variable parsed as an int or a default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvDuration returns the named variable parsed as a duration or a
// default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
