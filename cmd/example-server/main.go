package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"telemetry-gateway/middleware/telemetry"
	"telemetry-gateway/middleware/telemetry/config"
	"telemetry-gateway/middleware/telemetry/infra"
	"telemetry-gateway/middleware/telemetry/stack"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Servidor de exemplo com dois modos:
//
//   - upstream do cmd/gateway (padrão): reporta recursos via cabeçalhos X-Telemetry-*
//   - EMBED_TELEMETRY=true: monta o middleware em processo e usa telemetry.Annotate
type order struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func main() {
	_ = config.LoadDotEnv()
	logger, err := infra.NewLogger(getenvDefault("LOG_LEVEL", "info"), getenvDefault("LOG_FORMAT", "console"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := chi.NewRouter()
	api, auth := chi.Router(r), chi.Router(r)

	if embed, _ := strconv.ParseBool(os.Getenv("EMBED_TELEMETRY")); embed {
		cfg, err := config.Load(os.Getenv("GATEWAY_CONFIG"))
		if err != nil {
			logger.Fatal("config", zap.Error(err))
		}
		st, err := stack.New(ctx, cfg, stack.Options{Logger: logger})
		if err != nil {
			logger.Fatal("telemetry stack", zap.Error(err))
		}
		defer func() { _ = st.Close(context.Background()) }()
		st.Start(ctx)
		if st.Flush != nil {
			go func() { _ = st.Flush.Run(ctx) }()
		}

		mw := st.Middleware()
		auth = r.With(telemetry.WithCapability(telemetry.RouteCapability{RateLimitClass: "auth", IPGroup: config.DefaultIPGroup}), mw)
		api = r.With(telemetry.WithCapability(telemetry.RouteCapability{Auditable: true, Module: "orders"}), mw)
		r.Mount("/admin", st.AdminHandler())
	}

	auth.Post("/login", login)
	api.Get("/orders", listOrders)
	api.Get("/orders/{id}", getOrder)
	api.Post("/orders", createOrder)

	addr := getenvDefault("LISTEN_ADDR", ":8081")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

// report usa a anotação quando o middleware roda em processo e os cabeçalhos
// quando atrás do gateway.
func report(w http.ResponseWriter, r *http.Request, ids []int64) {
	if ann := telemetry.Annotate(r.Context()); ann != nil {
		ann.AddResources(ids...)
		ann.SetRecordCount(int64(len(ids)))
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	w.Header().Set(telemetry.HeaderResources, strings.Join(parts, ","))
	w.Header().Set(telemetry.HeaderRecordCount, strconv.Itoa(len(ids)))
	w.Header().Set(telemetry.HeaderModule, "orders")
}

func listOrders(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	if n <= 0 || n > 100 {
		n = 10
	}
	out := make([]order, n)
	ids := make([]int64, n)
	for i := range out {
		out[i] = order{ID: int64(i + 1), Status: "open"}
		ids[i] = out[i].ID
	}
	report(w, r, ids)
	writeJSON(w, http.StatusOK, out)
}

func getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	report(w, r, []int64{id})
	writeJSON(w, http.StatusOK, order{ID: id, Status: "open"})
}

func createOrder(w http.ResponseWriter, r *http.Request) {
	id := time.Now().UnixMilli()
	report(w, r, []int64{id})
	writeJSON(w, http.StatusCreated, order{ID: id, Status: "created"})
}

func login(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": "demo"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
