package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("bikebuddy-test")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "bikebuddy-test", cfg.Telemetry.ServiceName)
	assert.Equal(t, 2000, cfg.Sync.MaxRecords)
	assert.Equal(t, 300*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, 200.0, cfg.Sync.Tolerance)
	assert.Equal(t, 3*time.Second, cfg.Overpass.Interval)
	assert.Equal(t, 7, cfg.Seed.Slices)
	assert.Equal(t, 5*time.Second, cfg.Seed.Backoff)
	assert.Equal(t, "postgres://bikebuddy:@localhost:5432/bikebuddy?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BIKEBUDDY_SERVER_PORT", "9090")
	t.Setenv("BIKEBUDDY_SYNC_DEBOUNCE", "1s")
	t.Setenv("BIKEBUDDY_DATABASE_HOST", "db.internal")

	cfg, err := Load("bikebuddy-test")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Sync.Debounce)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"server.port", "database.host", "nats.url", "valkey.addr",
		"sync.max_records", "sync.tolerance", "overpass.endpoint", "seed.slices",
	} {
		assert.Contains(t, msg, want)
	}
}
