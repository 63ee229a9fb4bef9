// Package stack monta os componentes a partir da configuração. É o único
// lugar que conhece todas as camadas ao mesmo tempo.
package stack

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"telemetry-gateway/middleware/telemetry"
	"telemetry-gateway/middleware/telemetry/application"
	"telemetry-gateway/middleware/telemetry/config"
	"telemetry-gateway/middleware/telemetry/domain"
	"telemetry-gateway/middleware/telemetry/infra"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options permite injetar conexões prontas (testes, embutir em outro binário).
// Conexões injetadas não são fechadas por Close.
type Options struct {
	Logger   *zap.Logger
	Redis    redis.UniversalClient
	DB       *sql.DB
	Registry *prometheus.Registry
	Now      func() time.Time
}

type Stack struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *infra.Metrics
	Redis    redis.UniversalClient
	DB       *sql.DB

	Throttle   *infra.ThrottleStore
	Dispatcher *application.Dispatcher
	Admission  *application.AdmissionService
	Aggregator *application.MetricsAggregator
	Recorder   *application.Recorder
	// Flush é nil com flush.enabled=false.
	Flush      *application.FlushCoordinator
	Identities *infra.SQLIdentityResolver

	now       func() time.Time
	ownsRedis bool
	ownsDB    bool
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: opts.Logger, Registry: opts.Registry, now: opts.Now}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.build(ctx, opts); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Stack) build(ctx context.Context, opts Options) (err error) {
	cfg := s.Config
	if s.Registry == nil {
		s.Registry = prometheus.NewRegistry()
		s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if s.Metrics, err = infra.NewMetrics(s.Registry); err != nil {
		return err
	}

	s.Redis = opts.Redis
	if s.Redis == nil {
		s.Redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		s.ownsRedis = true
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		perr := s.Redis.Ping(pingCtx).Err()
		cancel()
		if perr != nil {
			// sobe mesmo assim: admissão em fail-open até o Redis voltar
			s.Logger.Warn("redis not reachable at startup", zap.Strings("addrs", cfg.Redis.Addrs), zap.Error(perr))
		}
	}
	keys := infra.NewKeyspace(cfg.Redis.Prefix)

	warnRPS := 1.0
	if cfg.Logger.WarnEvery > 0 {
		warnRPS = 1 / cfg.Logger.WarnEvery.Seconds()
	}
	s.Throttle = infra.NewThrottleStore(warnRPS, 1)

	storeGuard := application.Guard{
		Timeout:  cfg.Timeouts.Store,
		Logger:   s.Logger,
		Observer: s.Metrics,
		Throttle: s.Throttle,
	}
	taskGuard := storeGuard
	taskGuard.Timeout = cfg.Timeouts.Telemetry

	var pool domain.SlotPool
	if cfg.Dispatcher.MaxInFlight > 0 {
		pool = infra.NewChanPool(cfg.Dispatcher.MaxInFlight)
	}
	s.Dispatcher = application.NewDispatcher(application.DispatcherOptions{
		Pool:           pool,
		AcquireTimeout: cfg.Dispatcher.AcquireTimeout,
		TaskTimeout:    cfg.Timeouts.Telemetry,
		Logger:         s.Logger,
	})

	var stats domain.StatsStore
	if cfg.AdmissionStats.Enabled {
		stats = infra.NewRedisStatsStore(s.Redis, keys,
			infra.WithStatsTTL(cfg.AdmissionStats.TTL),
			infra.WithStatsTrackKeys(cfg.AdmissionStats.TrackKeys),
		)
	}
	s.Admission = &application.AdmissionService{
		Limiter:    infra.NewSlidingWindow(s.Redis, keys),
		Policies:   cfg.Limits.Policies(),
		Guard:      storeGuard,
		Stats:      stats,
		Dispatcher: s.Dispatcher,
	}

	s.Aggregator = &application.MetricsAggregator{
		Store: infra.NewActivityStore(s.Redis, keys, infra.ActivityRetention{
			DayLeaderboard:  cfg.Retention.DayLeaderboard,
			HourLeaderboard: cfg.Retention.HourLeaderboard,
			Stats:           cfg.Retention.Stats,
			Alerts:          cfg.Retention.Alerts,
			AlertCap:        cfg.Retention.AlertCap,
		}),
		Thresholds: application.Thresholds{
			MaxDailyRequests:   cfg.Thresholds.MaxDailyRequests,
			MaxUniqueResources: cfg.Thresholds.MaxUniqueResources,
			MaxDataVolumeMB:    cfg.Thresholds.MaxDataVolumeMB,
			MaxWritesPerDay:    cfg.Thresholds.MaxWritesPerDay,
			TopN:               cfg.Thresholds.TopN,
		},
		Logger:   s.Logger,
		Observer: s.Metrics,
	}

	buffer := infra.NewRedisBuffer(s.Redis, keys,
		infra.WithBufferTTL(cfg.Buffer.BatchTTL),
		infra.WithBufferLogger(s.Logger),
		infra.WithBufferObserver(s.Metrics),
		infra.WithBufferClock(s.now),
	)
	s.Recorder = &application.Recorder{
		Buffer:     buffer,
		Metrics:    s.Aggregator,
		Dispatcher: s.Dispatcher,
		Guard:      taskGuard,
	}

	if !cfg.Flush.IsEnabled() {
		return nil
	}
	if err := s.openLog(ctx, opts.DB); err != nil {
		return err
	}
	dialect, err := infra.DialectForDriver(cfg.Database.DriverName())
	if err != nil {
		return err
	}
	sqlLog := infra.NewSQLLog(s.DB, dialect)
	s.Identities = infra.NewSQLIdentityResolver(s.DB, dialect)
	if cfg.Database.ShouldMigrate() {
		if err := sqlLog.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := s.Identities.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	s.Flush = application.NewFlushCoordinator(application.FlushOptions{
		Buffer: buffer,
		Log:    sqlLog,
		Resolver: application.NewResolverRegistry().
			Register(domain.SubjectUser, application.NumericResolver{}).
			Register(domain.SubjectAPIKey, s.Identities).
			Register(domain.SubjectService, s.Identities),
		Lock:               infra.NewRedisCycleLock(s.Redis, keys, cfg.Flush.LockTTL),
		Interval:           cfg.Flush.Interval,
		Timeout:            cfg.Flush.Timeout,
		MaxBatchesPerCycle: cfg.Flush.MaxBatches,
		Logger:             s.Logger,
		Observer:           s.Metrics,
		Now:                s.now,
	})
	return nil
}

func (s *Stack) openLog(ctx context.Context, db *sql.DB) error {
	if db != nil {
		s.DB = db
		return nil
	}
	d := s.Config.Database
	db, err := infra.OpenDatabase(ctx, infra.DBSettings{
		Driver:   d.DriverName(),
		DSN:      d.DSN(),
		MaxConns: d.MaxConns,
		MaxIdle:  d.MaxIdle,
	}, s.Logger)
	if err != nil {
		return err
	}
	s.DB = db
	s.ownsDB = true
	return nil
}

// Start liga as rotinas de manutenção ligadas ao ciclo de vida de ctx.
func (s *Stack) Start(ctx context.Context) {
	s.Throttle.StartJanitor(ctx)
}

// Capability converte a rota configurada para o descritor do middleware.
func Capability(rc config.RouteConfig) telemetry.RouteCapability {
	return telemetry.RouteCapability{
		Auditable:      rc.IsAuditable(),
		RateLimitClass: domain.LimitClass(rc.RateLimitClass),
		IPGroup:        rc.IPGroup,
		Module:         rc.Module,
		Operation:      domain.OperationClass(rc.Operation),
	}
}

// Middleware devolve o middleware de admissão e telemetria configurado.
func (s *Stack) Middleware() func(http.Handler) http.Handler {
	srv := s.Config.Server
	return telemetry.Middleware(telemetry.Options{
		Admitter:            s.Admission,
		Recorder:            s.Recorder,
		TrustXForwardedFor:  srv.TrustXFF,
		Identity:            telemetry.HeaderIdentity(srv.SubjectHeader, srv.SubjectClassHeader),
		AddRateLimitHeaders: true,
		Logger:              s.Logger,
		Now:                 s.now,
	})
}

// Handler registra upstream em cada rota configurada, com a capacidade da
// rota. Caminhos fora das rotas respondem 404 sem chegar ao upstream.
func (s *Stack) Handler(upstream http.Handler) http.Handler {
	mw := s.Middleware()
	r := chi.NewRouter()
	for _, rc := range s.Config.Routes {
		route := r.With(telemetry.WithCapability(Capability(rc)), mw)
		if len(rc.Methods) == 0 {
			route.Handle(rc.Pattern, upstream)
			continue
		}
		for _, m := range rc.Methods {
			route.Method(m, rc.Pattern, upstream)
		}
	}
	return r
}

// AdminHandler expõe leaderboard, stats, alertas e /metrics.
func (s *Stack) AdminHandler() http.Handler {
	return telemetry.AdminHandler(telemetry.AdminOptions{
		Reader:  s.Aggregator,
		Metrics: promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}),
		Logger:  s.Logger,
		Now:     s.now,
	})
}

// Close espera as tarefas em andamento e fecha o que o Stack abriu.
func (s *Stack) Close(ctx context.Context) error {
	var err error
	if s.Dispatcher != nil {
		err = multierr.Append(err, s.Dispatcher.Close(ctx))
	}
	if s.ownsRedis && s.Redis != nil {
		if cerr := s.Redis.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis: %w", cerr))
		}
	}
	if s.ownsDB && s.DB != nil {
		if cerr := s.DB.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close database: %w", cerr))
		}
	}
	return err
}
