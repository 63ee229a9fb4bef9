package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ActivityReader é o lado de leitura do agregador de métricas.
type ActivityReader interface {
	Leaderboard(ctx context.Context, g domain.Granularity, at time.Time, n int) ([]domain.LeaderboardEntry, error)
	DailyStats(ctx context.Context, subject string, day time.Time) (domain.SubjectDailyStats, error)
	Alerts(ctx context.Context, subject string, n int) ([]domain.AnomalyAlert, error)
}

type AdminOptions struct {
	Reader ActivityReader
	// Metrics serve /metrics quando não nil.
	Metrics http.Handler
	Logger  *zap.Logger
	Now     func() time.Time
}

// AdminHandler monta a API de leitura:
//
//	GET /admin/leaderboard?granularity=day|hour&at=RFC3339&n=10
//	GET /admin/stats/{subject}?day=YYYYMMDD
//	GET /admin/alerts/{subject}?n=20
//	GET /metrics
//	GET /healthz
func AdminHandler(opts AdminOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := admin{opts: opts}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Route("/admin", func(r chi.Router) {
		r.Get("/leaderboard", a.leaderboard)
		r.Get("/stats/{subject}", a.stats)
		r.Get("/alerts/{subject}", a.alerts)
	})
	return r
}

type admin struct {
	opts AdminOptions
}

func (a admin) leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g := domain.GranularityDay
	switch strings.ToLower(q.Get("granularity")) {
	case "", "day":
	case "hour":
		g = domain.GranularityHour
	default:
		a.fail(w, http.StatusBadRequest, "invalid_granularity", "granularity must be day or hour", nil)
		return
	}
	at := a.opts.Now()
	if v := q.Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.fail(w, http.StatusBadRequest, "invalid_at", "at must be RFC3339", nil)
			return
		}
		at = t
	}
	n, ok := a.limit(w, q.Get("n"), 10)
	if !ok {
		return
	}

	entries, err := a.opts.Reader.Leaderboard(r.Context(), g, at, n)
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "store_unavailable", "leaderboard unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": g,
		"period":      g.PeriodKey(at),
		"entries":     entries,
	})
}

func (a admin) stats(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	day := a.opts.Now()
	if v := r.URL.Query().Get("day"); v != "" {
		t, err := time.Parse("20060102", v)
		if err != nil {
			a.fail(w, http.StatusBadRequest, "invalid_day", "day must be YYYYMMDD", nil)
			return
		}
		day = t
	}
	st, err := a.opts.Reader.DailyStats(r.Context(), subject, day)
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "store_unavailable", "stats unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a admin) alerts(w http.ResponseWriter, r *http.Request) {
	n, ok := a.limit(w, r.URL.Query().Get("n"), 20)
	if !ok {
		return
	}
	alerts, err := a.opts.Reader.Alerts(r.Context(), chi.URLParam(r, "subject"), n)
	if err != nil {
		a.fail(w, http.StatusServiceUnavailable, "store_unavailable", "alerts unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a admin) limit(w http.ResponseWriter, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		a.fail(w, http.StatusBadRequest, "invalid_n", "n must be between 1 and 1000", nil)
		return 0, false
	}
	return n, true
}

func (a admin) fail(w http.ResponseWriter, status int, code, msg string, err error) {
	if err != nil {
		a.opts.Logger.Warn("admin query failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
