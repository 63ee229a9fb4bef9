package config

import (
	"strings"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/multierr"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	Database       DatabaseConfig       `yaml:"database"`
	Logger         LoggerConfig         `yaml:"logger"`
	Limits         LimitsConfig         `yaml:"limits"`
	Buffer         BufferConfig         `yaml:"buffer"`
	Flush          FlushConfig          `yaml:"flush"`
	Retention      RetentionConfig      `yaml:"retention"`
	Thresholds     ThresholdsConfig     `yaml:"thresholds"`
	Dispatcher     DispatcherConfig     `yaml:"dispatcher"`
	Timeouts       TimeoutsConfig       `yaml:"timeouts"`
	AdmissionStats AdmissionStatsConfig `yaml:"admission_stats"`
	Routes         []RouteConfig        `yaml:"routes"`
}

type ServerConfig struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	UpstreamURL string `yaml:"upstream_url"`
	TrustXFF    bool   `yaml:"trust_xff"`
	// Cabeçalhos de identidade preenchidos pela camada de autenticação à frente.
	SubjectHeader      string `yaml:"subject_header"`
	SubjectClassHeader string `yaml:"subject_class_header"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	PoolSize int      `yaml:"pool_size"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// WarnEvery limita avisos repetidos (ex.: Redis fora) a um por intervalo
	// e por operação.
	WarnEvery time.Duration `yaml:"warn_every"`
}

type BufferConfig struct {
	BatchTTL time.Duration `yaml:"batch_ttl"`
}

type FlushConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
	MaxBatches int           `yaml:"max_batches"`
}

func (f FlushConfig) IsEnabled() bool { return f.Enabled == nil || *f.Enabled }

type RetentionConfig struct {
	DayLeaderboard  time.Duration `yaml:"day_leaderboard"`
	HourLeaderboard time.Duration `yaml:"hour_leaderboard"`
	Stats           time.Duration `yaml:"stats"`
	Alerts          time.Duration `yaml:"alerts"`
	AlertCap        int           `yaml:"alert_cap"`
}

type ThresholdsConfig struct {
	MaxDailyRequests   int64   `yaml:"max_daily_requests"`
	MaxUniqueResources int64   `yaml:"max_unique_resources"`
	MaxDataVolumeMB    float64 `yaml:"max_data_volume_mb"`
	MaxWritesPerDay    int64   `yaml:"max_writes_per_day"`
	TopN               int     `yaml:"top_n"`
}

type DispatcherConfig struct {
	MaxInFlight    int           `yaml:"max_in_flight"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type TimeoutsConfig struct {
	// Store limita cada chamada ao Redis no caminho da requisição.
	Store time.Duration `yaml:"store"`
	// Telemetry limita cada tarefa de telemetria em background.
	Telemetry time.Duration `yaml:"telemetry"`
}

type AdmissionStatsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	TrackKeys bool          `yaml:"track_keys"`
}

// Default devolve a configuração padrão completa.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults preenche apenas o que está vazio.
func (c *Config) SetDefaults() {
	s := &c.Server
	if s.Listen == "" {
		s.Listen = ":8080"
	}
	if s.AdminListen == "" {
		s.AdminListen = ":9090"
	}
	if s.SubjectHeader == "" {
		s.SubjectHeader = "X-Subject-ID"
	}
	if s.SubjectClassHeader == "" {
		s.SubjectClassHeader = "X-Subject-Class"
	}

	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = []string{"localhost:6379"}
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "telemetry"
	}

	c.Database.SetDefaults()

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.WarnEvery == 0 {
		c.Logger.WarnEvery = 10 * time.Second
	}

	c.Limits.SetDefaults()

	if c.Buffer.BatchTTL == 0 {
		c.Buffer.BatchTTL = 72 * time.Hour
	}

	f := &c.Flush
	if f.Interval == 0 {
		f.Interval = time.Minute
	}
	if f.Timeout == 0 {
		f.Timeout = 45 * time.Second
	}
	if f.LockTTL == 0 {
		f.LockTTL = f.Timeout + 5*time.Second
	}
	if f.MaxBatches == 0 {
		f.MaxBatches = 16
	}

	r := &c.Retention
	if r.DayLeaderboard == 0 {
		r.DayLeaderboard = 7 * 24 * time.Hour
	}
	if r.HourLeaderboard == 0 {
		r.HourLeaderboard = 48 * time.Hour
	}
	if r.Stats == 0 {
		r.Stats = 7 * 24 * time.Hour
	}
	if r.Alerts == 0 {
		r.Alerts = 30 * 24 * time.Hour
	}
	if r.AlertCap == 0 {
		r.AlertCap = 100
	}

	t := &c.Thresholds
	if t.MaxDailyRequests == 0 {
		t.MaxDailyRequests = 5000
	}
	if t.MaxUniqueResources == 0 {
		t.MaxUniqueResources = 1000
	}
	if t.MaxDataVolumeMB == 0 {
		t.MaxDataVolumeMB = 500
	}
	if t.MaxWritesPerDay == 0 {
		t.MaxWritesPerDay = 1000
	}
	if t.TopN == 0 {
		t.TopN = 10
	}

	if c.Dispatcher.MaxInFlight == 0 {
		c.Dispatcher.MaxInFlight = 256
	}
	if c.Timeouts.Store == 0 {
		c.Timeouts.Store = 100 * time.Millisecond
	}
	if c.Timeouts.Telemetry == 0 {
		c.Timeouts.Telemetry = 2 * time.Second
	}
	if c.AdmissionStats.TTL == 0 {
		c.AdmissionStats.TTL = 24 * time.Hour
	}

	if len(c.Routes) == 0 {
		c.Routes = []RouteConfig{{Pattern: "/*", IPGroup: DefaultIPGroup}}
	}
	for i := range c.Routes {
		c.Routes[i].SetDefaults()
	}
}

// Validate devolve todos os problemas encontrados de uma vez.
func (c *Config) Validate() error {
	var err error
	if strings.TrimSpace(c.Server.Listen) == "" {
		err = multierr.Append(err, domain.NewValidationError("server.listen", "is required"))
	}
	for _, a := range c.Redis.Addrs {
		if strings.TrimSpace(a) == "" {
			err = multierr.Append(err, domain.NewValidationError("redis.addrs", "must not contain empty entries"))
			break
		}
	}
	if c.Redis.DB < 0 {
		err = multierr.Append(err, domain.NewValidationError("redis.db", "must be >= 0"))
	}
	if c.Flush.IsEnabled() {
		if dbErr := c.Database.Validate(); dbErr != nil {
			err = multierr.Append(err, dbErr)
		}
	}
	err = multierr.Append(err, c.Limits.Validate())

	if c.Buffer.BatchTTL < 0 {
		err = multierr.Append(err, domain.NewValidationError("buffer.batch_ttl", "must be > 0"))
	}
	if c.Flush.Interval <= 0 {
		err = multierr.Append(err, domain.NewValidationError("flush.interval", "must be > 0"))
	}
	if c.Flush.Timeout <= 0 {
		err = multierr.Append(err, domain.NewValidationError("flush.timeout", "must be > 0"))
	}
	if c.Flush.LockTTL <= c.Flush.Timeout {
		err = multierr.Append(err, domain.NewValidationError("flush.lock_ttl", "must be longer than flush.timeout"))
	}
	if c.Buffer.BatchTTL > 0 && c.Buffer.BatchTTL <= c.Flush.Interval {
		err = multierr.Append(err, domain.NewValidationError("buffer.batch_ttl", "must be longer than flush.interval"))
	}
	if c.Thresholds.MaxDailyRequests < 0 || c.Thresholds.MaxUniqueResources < 0 ||
		c.Thresholds.MaxDataVolumeMB < 0 || c.Thresholds.MaxWritesPerDay < 0 || c.Thresholds.TopN < 0 {
		err = multierr.Append(err, domain.NewValidationError("thresholds", "must be >= 0"))
	}
	if c.Dispatcher.MaxInFlight < 0 {
		err = multierr.Append(err, domain.NewValidationError("dispatcher.max_in_flight", "must be >= 0"))
	}
	for i := range c.Routes {
		err = multierr.Append(err, c.Routes[i].Validate(c.Limits))
	}
	return err
}
