package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemetry-gateway/middleware/telemetry/config"
	"telemetry-gateway/middleware/telemetry/infra"
	"telemetry-gateway/middleware/telemetry/stack"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Run the gateway, the admin listener and the flush loop."`
	Flush FlushCmd `cmd:"" help:"Run a single flush cycle and exit."`
	Check CheckCmd `cmd:"" name:"check-config" help:"Load and validate the configuration."`

	Config  string   `short:"c" help:"Path to the YAML config file." type:"path" env:"GATEWAY_CONFIG"`
	EnvFile []string `name:"env-file" help:".env files loaded before reading the environment." default:".env"`
}

func (c *CLI) load() (*config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(c.EnvFile...); err != nil {
		return nil, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	logger, err := infra.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.UpstreamURL == "" {
		return errors.New("server.upstream_url (UPSTREAM_URL) is required")
	}
	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := stack.New(ctx, cfg, stack.Options{Logger: logger})
	if err != nil {
		return err
	}
	st.Start(ctx)

	gateway := newServer(cfg.Server.Listen, st.Handler(proxy))
	admin := newServer(cfg.Server.AdminListen, st.AdminHandler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(gctx, gateway) })
	g.Go(func() error { return listen(gctx, admin) })
	if st.Flush != nil {
		g.Go(func() error { return st.Flush.Run(gctx) })
	}

	logger.Info("gateway listening",
		zap.String("addr", cfg.Server.Listen),
		zap.String("upstream", target.String()),
		zap.String("admin", cfg.Server.AdminListen),
		zap.Int("routes", len(cfg.Routes)),
		zap.Bool("flush", st.Flush != nil),
		zap.Duration("flush_interval", cfg.Flush.Interval))

	runErr := g.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := st.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return runErr
}

type FlushCmd struct{}

func (c *FlushCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if !cfg.Flush.IsEnabled() {
		return errors.New("flush is disabled in the configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	st, err := stack.New(ctx, cfg, stack.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close(context.Background()) }()

	rep := st.Flush.Tick(ctx)
	fmt.Printf("state=%s batches=%d took=%s\n", rep.State(), len(rep.Batches), rep.Took)
	for _, b := range rep.Batches {
		fmt.Printf("  batch=%s events=%d written=%d failed=%d unresolvable=%d discarded=%v\n",
			b.ID, b.Events, b.Written, b.Failed, b.Unresolvable, b.Discarded)
	}
	return rep.Err
}

type CheckCmd struct{}

func (c *CheckCmd) Run(cli *CLI) error {
	cfg, _, err := cli.load()
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %d routes, %d limit classes, flush every %s\n",
		len(cfg.Routes), len(cfg.Limits.Policies()), cfg.Flush.Interval)
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

// listen roda o servidor até ctx encerrar e então faz shutdown gracioso.
func listen(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Admission control and request telemetry gateway."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
