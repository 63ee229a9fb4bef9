package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load lê o YAML em path (opcional), aplica as variáveis de ambiente por
// cima, completa os defaults e valida.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(raw, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Listen = getenvDefault("LISTEN_ADDR", s.Listen)
	s.AdminListen = getenvDefault("ADMIN_LISTEN_ADDR", s.AdminListen)
	s.UpstreamURL = getenvDefault("UPSTREAM_URL", s.UpstreamURL)
	s.TrustXFF = getenvBoolDefault("TRUST_XFF", s.TrustXFF)

	r := &cfg.Redis
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		r.Addrs = splitList(v)
	}
	r.Password = getenvDefault("REDIS_PASSWORD", r.Password)
	r.DB = getenvIntDefault("REDIS_DB", r.DB)
	r.Prefix = getenvDefault("REDIS_PREFIX", r.Prefix)

	d := &cfg.Database
	d.Driver = getenvDefault("DATABASE_DRIVER", d.Driver)
	d.Database = getenvDefault("DATABASE_NAME", d.Database)
	d.Host = getenvDefault("DATABASE_HOST", d.Host)
	d.Port = getenvIntDefault("DATABASE_PORT", d.Port)
	d.Username = getenvDefault("DATABASE_USER", d.Username)
	d.Password = getenvDefault("DATABASE_PASSWORD", d.Password)

	cfg.Logger.Level = getenvDefault("LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Format = getenvDefault("LOG_FORMAT", cfg.Logger.Format)

	cfg.Flush.Interval = getenvDurationDefault("FLUSH_INTERVAL", cfg.Flush.Interval)
	if v, ok := os.LookupEnv("FLUSH_ENABLED"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Flush.Enabled = &b
		}
	}
	cfg.Thresholds.MaxDataVolumeMB = getenvFloatDefault("MAX_DATA_VOLUME_MB", cfg.Thresholds.MaxDataVolumeMB)
	cfg.Dispatcher.MaxInFlight = getenvIntDefault("DISPATCHER_MAX_IN_FLIGHT", cfg.Dispatcher.MaxInFlight)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Valores que não parseiam caem no default em vez de derrubar a subida.

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
