package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")

	cfg := &Config{}
	require.NoError(t, env.Parse(cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.SessionSweepInterval)
	assert.Equal(t, uint(2), cfg.ReadAttempts)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "default-src 'self'", cfg.ContentSecurityPolicy)
	assert.Equal(t, 365*24*time.Hour, cfg.HSTSMaxAge)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "oracle" }, wantErr: true},
		{name: "missing secret", mutate: func(c *Config) { c.IdentitySecret = "" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.SessionTTL = 0 }, wantErr: true},
		{name: "zero sweep interval", mutate: func(c *Config) { c.SessionSweepInterval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				DBDriver:             "postgres",
				IdentitySecret:       "s",
				SessionTTL:           time.Hour,
				SessionSweepInterval: time.Minute,
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
