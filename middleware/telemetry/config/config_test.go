package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "telemetry", cfg.Redis.Prefix)
	assert.Equal(t, time.Minute, cfg.Flush.Interval)
	assert.Equal(t, 45*time.Second, cfg.Flush.Timeout)
	assert.Equal(t, 50*time.Second, cfg.Flush.LockTTL)
	assert.Equal(t, 72*time.Hour, cfg.Buffer.BatchTTL)
	assert.Equal(t, int64(5000), cfg.Thresholds.MaxDailyRequests)
	assert.Equal(t, 256, cfg.Dispatcher.MaxInFlight)
	assert.True(t, cfg.Flush.IsEnabled())
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "/*", cfg.Routes[0].Pattern)
	assert.True(t, cfg.Routes[0].IsAuditable())
}

func TestLimits_Policies(t *testing.T) {
	cfg := Default()
	policies := cfg.Limits.Policies()

	auth := policies[domain.ClassAuth]
	assert.Equal(t, 5, auth.Limit)
	assert.Equal(t, time.Minute, auth.Window)
	assert.Equal(t, []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 30 * time.Minute, time.Hour}, auth.Ladder)
	assert.Equal(t, time.Minute, auth.Decay)

	read := policies[domain.ClassRead]
	assert.Equal(t, 50, read.Limit)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 15 * time.Minute}, read.Ladder)

	ip, ok := policies[domain.IPClass(DefaultIPGroup)]
	require.True(t, ok)
	assert.Equal(t, 100, ip.Limit)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
redis:
  addrs: ["redis-a:6379"]
  prefix: tm
limits:
  write:
    window: 30s
    limit: 3
    ladder: [1m, 2m]
  ip:
    login:
      limit: 10
routes:
  - pattern: /api/auth/*
    rate_limit_class: AUTH
    ip_group: login
    auditable: false
  - pattern: /api/*
    module: orders
thresholds:
  max_data_volume_mb: 12.5
flush:
  interval: 2m
`)
	t.Setenv("REDIS_ADDR", "r1:6379, r2:6379")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FLUSH_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "tm", cfg.Redis.Prefix)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 90*time.Second, cfg.Flush.Interval)
	assert.Equal(t, 12.5, cfg.Thresholds.MaxDataVolumeMB)

	write := cfg.Limits.Policies()[domain.ClassWrite]
	assert.Equal(t, 3, write.Limit)
	assert.Equal(t, 30*time.Second, write.Window)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, write.Ladder)

	login := cfg.Limits.Policies()[domain.IPClass("login")]
	assert.Equal(t, 10, login.Limit)
	assert.Equal(t, time.Minute, login.Window)

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "auth", cfg.Routes[0].RateLimitClass)
	assert.False(t, cfg.Routes[0].IsAuditable())
	assert.Equal(t, "orders", cfg.Routes[1].Module)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "redis:\n  adress: localhost:6379\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Limits.Read.Limit = -1
	cfg.Routes = append(cfg.Routes, RouteConfig{Pattern: "/x", IPGroup: "nope", Operation: "DELETE"})
	cfg.Flush.LockTTL = cfg.Flush.Timeout

	err := cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, len(multierr.Errors(err)), 4)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestValidate_DatabaseOnlyWhenFlushEnabled(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "oracle"
	require.Error(t, cfg.Validate())

	off := false
	cfg.Flush.Enabled = &off
	require.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Database: "audit", Username: "svc", Password: "p@ss"}
	pg.SetDefaults()
	assert.Equal(t, "postgres://svc:p%40ss@db:5432/audit?sslmode=disable", pg.DSN())
	assert.Equal(t, "postgres", pg.DriverName())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Database: "audit", Username: "svc", Password: "pw"}
	my.SetDefaults()
	assert.Equal(t, "svc:pw@tcp(db:3306)/audit?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite"}
	lite.SetDefaults()
	assert.Equal(t, "telemetry.db", lite.DSN())
	assert.Equal(t, "sqlite3", lite.DriverName())
	require.NoError(t, lite.Validate())

	missingHost := DatabaseConfig{Driver: "mysql", Database: "audit"}
	var verr *domain.ValidationError
	require.True(t, errors.As(missingHost.Validate(), &verr))
	assert.Equal(t, "database.host", verr.Field)
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TELEMETRY_TEST_A=from-file\nTELEMETRY_TEST_B=from-file\n"), 0o600))
	t.Setenv("TELEMETRY_TEST_A", "from-env")
	t.Setenv("TELEMETRY_TEST_B", "")
	os.Unsetenv("TELEMETRY_TEST_B")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("TELEMETRY_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("TELEMETRY_TEST_B"))
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "gateway.example.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Routes, 3)
	assert.True(t, cfg.Limits.HasIPGroup("login"))
	assert.Equal(t, RateLimitNone, cfg.Routes[1].RateLimitClass)
}
