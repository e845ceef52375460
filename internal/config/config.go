package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	defaultRoomTTL        = 86400 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 5 * time.Second
)

type Config struct {
	ServerAddr     string
	RedisAddr      string
	RedisEnabled   bool
	RoomTTL        time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	Environment    string
	AllowedOrigins []string
	SigningKey     []byte
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func NewConfig(serverAddr, redisAddr string, redisEnabled bool, ttlSeconds int, environment, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if redisEnabled && redisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty when redis is enabled")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	ttl := defaultRoomTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}

	if environment == "" {
		environment = "production"
	}

	return &Config{
		ServerAddr:     serverAddr,
		RedisAddr:      redisAddr,
		RedisEnabled:   redisEnabled,
		RoomTTL:        ttl,
		ConnectTimeout: defaultConnectTimeout,
		CommandTimeout: defaultCommandTimeout,
		Environment:    environment,
		AllowedOrigins: allowedOrigins,
		SigningKey:     signingKey,
	}, nil
}
