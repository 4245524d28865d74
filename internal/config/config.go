package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sync strategies and push transports accepted by SYNC_STRATEGY / PUSH_TRANSPORT.
const (
	StrategyPolling = "polling"
	StrategyPushed  = "pushed"

	TransportWS    = "ws"
	TransportRedis = "redis"
)

type AppConfig struct {
	AuthorityBaseURL string
	AuthorityWSURL   string

	ClientID string

	SyncStrategy  string
	PushTransport string
	RedisURL      string

	PollInterval        time.Duration
	RequestTimeout      time.Duration
	WSReconnectAttempts int

	MessagesDir  string
	BoardPNGPath string
}

// Load reads the client configuration from the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		SyncStrategy:        StrategyPolling,
		PushTransport:       TransportWS,
		PollInterval:        time.Second,
		RequestTimeout:      10 * time.Second,
		WSReconnectAttempts: 5,
	}

	cfg.AuthorityBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("AUTHORITY_BASE_URL")), "/")
	cfg.AuthorityWSURL = strings.TrimSpace(os.Getenv("AUTHORITY_WS_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.BoardPNGPath = strings.TrimSpace(os.Getenv("BOARD_PNG_PATH"))

	cfg.ClientID = strings.TrimSpace(os.Getenv("CLIENT_ID"))
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_STRATEGY"))); v != "" {
		cfg.SyncStrategy = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("PUSH_TRANSPORT"))); v != "" {
		cfg.PushTransport = v
	}
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_RECONNECT_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WSReconnectAttempts = n
		}
	}

	if cfg.AuthorityBaseURL == "" {
		return nil, errors.New("AUTHORITY_BASE_URL is required")
	}
	switch cfg.SyncStrategy {
	case StrategyPolling:
	case StrategyPushed:
		switch cfg.PushTransport {
		case TransportWS:
			if cfg.AuthorityWSURL == "" {
				return nil, errors.New("AUTHORITY_WS_URL is required for the ws push transport")
			}
		case TransportRedis:
			if cfg.RedisURL == "" {
				return nil, errors.New("REDIS_URL is required for the redis push transport")
			}
		default:
			return nil, fmt.Errorf("unknown PUSH_TRANSPORT %q", cfg.PushTransport)
		}
	default:
		return nil, fmt.Errorf("unknown SYNC_STRATEGY %q", cfg.SyncStrategy)
	}

	return cfg, nil
}

// Headers returns the identity headers sent on every authority request.
func (c *AppConfig) Headers() map[string]string {
	h := map[string]string{}
	if c != nil && c.ClientID != "" {
		h["X-Client-Id"] = c.ClientID
	}
	return h
}

type AuthorityConfig struct {
	ListenAddr  string
	RedisURL    string
	DatabaseURL string
	SessionTTL  time.Duration
}

// LoadAuthority reads the reference authority configuration.
func LoadAuthority() (*AuthorityConfig, error) {
	cfg := &AuthorityConfig{
		ListenAddr: ":8080",
		SessionTTL: 24 * time.Hour,
	}
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
