package idapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables during config loading;
// double underscores separate nesting levels, so IDAPI_RETRY__MAX_RETRIES
// becomes retry.max_retries.
const envPrefix = "IDAPI_"

// Config is the file/env representation of the client configuration. It
// maps one to one onto functional options; programmatic construction with
// New(options...) needs none of this.
type Config struct {
	BaseURL     string        `koanf:"base_url" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	CallTimeout time.Duration `koanf:"call_timeout" validate:"gte=0"`

	Retry struct {
		MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
		Delay          time.Duration `koanf:"delay" validate:"gt=0"`
		MaxDelay       time.Duration `koanf:"max_delay" validate:"gte=0"`
		Backoff        float64       `koanf:"backoff" validate:"gt=0"`
		Jitter         float64       `koanf:"jitter" validate:"gte=0,lte=1"`
		Strategy       string        `koanf:"strategy" validate:"oneof=exponential decorrelated"`
		StatusCodes    []int         `koanf:"status_codes"`
		TransportKinds []string      `koanf:"transport_kinds"`
	} `koanf:"retry"`

	Log struct {
		Level        string `koanf:"level"`
		Pretty       bool   `koanf:"pretty"`
		RequestBody  bool   `koanf:"request_body"`
		ResponseBody bool   `koanf:"response_body"`
	} `koanf:"log"`

	Auth struct {
		Type         string `koanf:"type" validate:"oneof=none jwt oauth2"`
		JWTToken     string `koanf:"jwt_token"`
		ClientID     string `koanf:"client_id"`
		ClientSecret string `koanf:"client_secret"`
		TokenURL     string `koanf:"token_url"`
		AccessToken  string `koanf:"access_token"`
		RefreshToken string `koanf:"refresh_token"`
	} `koanf:"auth"`
}

// LoadConfig loads configuration with the usual precedence: defaults, then
// the YAML file at path (optional, skipped when path is empty), then
// IDAPI_-prefixed environment variables on top.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(configDefaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(envprovider.Provider(envPrefix, ".", func(s string) string {
		// IDAPI_RETRY_MAX_RETRIES -> retry.max_retries is not expressible
		// with plain underscore mapping, so double underscores separate
		// nesting levels: IDAPI_RETRY__MAX_RETRIES.
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load config environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.validateAuth(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func configDefaults() map[string]any {
	return map[string]any{
		"timeout":            "30s",
		"call_timeout":       "0s",
		"retry.max_retries":  0,
		"retry.delay":        "1s",
		"retry.max_delay":    "0s",
		"retry.backoff":      1.0,
		"retry.jitter":       0.0,
		"retry.strategy":     "exponential",
		"retry.status_codes": DefaultRetryStatusCodes,
		"log.level":          "info",
		"auth.type":          "none",
	}
}

func (cfg *Config) validateAuth() error {
	switch cfg.Auth.Type {
	case "jwt":
		if cfg.Auth.JWTToken == "" {
			return fmt.Errorf("invalid config: auth.jwt_token is required for auth.type=jwt")
		}
	case "oauth2":
		if cfg.Auth.ClientID == "" || cfg.Auth.TokenURL == "" {
			return fmt.Errorf("invalid config: auth.client_id and auth.token_url are required for auth.type=oauth2")
		}
	}
	return nil
}

// Options converts the loaded configuration into client options.
func (cfg *Config) Options() []Option {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.Retry.MaxRetries),
		WithRetryDelay(cfg.Retry.Delay),
		WithRetryBackoff(cfg.Retry.Backoff),
		WithRetryJitter(cfg.Retry.Jitter),
		WithLogger(NewZeroLogger(cfg.Log.Level, cfg.Log.Pretty)),
		WithLogRequestBody(cfg.Log.RequestBody),
		WithLogResponseBody(cfg.Log.ResponseBody),
	}
	if cfg.CallTimeout > 0 {
		opts = append(opts, WithCallTimeout(cfg.CallTimeout))
	}
	if cfg.Retry.MaxDelay > 0 {
		opts = append(opts, WithMaxRetryDelay(cfg.Retry.MaxDelay))
	}
	if cfg.Retry.Strategy == "decorrelated" {
		opts = append(opts, WithBackoffStrategy(BackoffDecorrelated))
	}
	if len(cfg.Retry.StatusCodes) > 0 {
		opts = append(opts, WithRetryStatusCodes(cfg.Retry.StatusCodes...))
	}
	if len(cfg.Retry.TransportKinds) > 0 {
		kinds := make([]TransportErrorKind, len(cfg.Retry.TransportKinds))
		for i, k := range cfg.Retry.TransportKinds {
			kinds[i] = TransportErrorKind(k)
		}
		opts = append(opts, WithRetryTransportKinds(kinds...))
	}

	switch cfg.Auth.Type {
	case "jwt":
		opts = append(opts, WithJWT(cfg.Auth.JWTToken))
	case "oauth2":
		opts = append(opts, WithOAuth2(OAuth2Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			AccessToken:  cfg.Auth.AccessToken,
			RefreshToken: cfg.Auth.RefreshToken,
		}))
	}

	return opts
}

// NewFromConfig builds a Client from a loaded configuration.
func NewFromConfig(cfg *Config, extra ...Option) *Client {
	return New(append(cfg.Options(), extra...)...)
}
