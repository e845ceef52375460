package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name         string
		serverAddr   string
		redisAddr    string
		redisEnabled bool
		ttlSeconds   int
		environment  string
		secret       string
		wantErr      bool
	}{
		{
			name:         "valid config",
			serverAddr:   "localhost:8000",
			redisAddr:    "localhost:6379",
			redisEnabled: true,
			ttlSeconds:   3600,
			environment:  "development",
			secret:       "c2VjcmV0",
		},
		{
			name:       "empty server address",
			serverAddr: "",
			secret:     "c2VjcmV0",
			wantErr:    true,
		},
		{
			name:         "redis enabled without address",
			serverAddr:   "localhost:8000",
			redisAddr:    "",
			redisEnabled: true,
			secret:       "c2VjcmV0",
			wantErr:      true,
		},
		{
			name:         "redis disabled without address",
			serverAddr:   "localhost:8000",
			redisAddr:    "",
			redisEnabled: false,
			secret:       "c2VjcmV0",
		},
		{
			name:       "empty signing secret",
			serverAddr: "localhost:8000",
			secret:     "",
			wantErr:    true,
		},
		{
			name:       "invalid base64 signing secret",
			serverAddr: "localhost:8000",
			secret:     "not-base64!!!",
			wantErr:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.serverAddr, tc.redisAddr, tc.redisEnabled, tc.ttlSeconds, tc.environment, tc.secret, nil)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}

			assert.NoError(t, err)
			assert.NotNil(t, cfg)
			assert.NotEmpty(t, cfg.SigningKey)
		})
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("localhost:8000", "localhost:6379", true, 0, "", "c2VjcmV0", nil)
	assert.NoError(t, err)
	assert.Equal(t, 86400*time.Second, cfg.RoomTTL, "expected default TTL of one day")
	assert.Equal(t, "production", cfg.Environment, "expected default environment to be production")
	assert.False(t, cfg.IsDevelopment())

	cfg, err = NewConfig("localhost:8000", "localhost:6379", true, 60, "development", "c2VjcmV0", nil)
	assert.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.RoomTTL)
	assert.True(t, cfg.IsDevelopment())
}
