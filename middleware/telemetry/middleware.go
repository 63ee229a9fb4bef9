package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/zap"
)

// Submitter recebe o evento finalizado; não pode bloquear a requisição.
type Submitter interface {
	Submit(ev domain.RequestEvent) bool
}

type Options struct {
	Admitter domain.Admitter
	Recorder Submitter
	// Capability vale para rotas sem WithCapability.
	Capability RouteCapability
	KeyFn      KeyFunc
	Identity   IdentityFunc

	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	// AddRateLimitHeaders inclui X-RateLimit-* também nas respostas admitidas.
	AddRateLimitHeaders bool

	Logger *zap.Logger
	Now    func() time.Time
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rejectionBody struct {
	Error             errorBody `json:"error"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	Class             string    `json:"class"`
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Identity == nil {
		opts.Identity = HeaderIdentity("X-Subject-ID", "X-Subject-Class")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := opts.Now()
			capability, ok := capabilityFrom(r.Context())
			if !ok {
				capability = opts.Capability
			}

			ip := opts.KeyFn(r)
			subject, class := opts.Identity(r)
			subjectKey := domain.SubjectKeyFor(subject, class, ip)
			op := capability.operation(r.Method)

			ann := &Annotation{}
			cw := newCaptureWriter(w, ann)

			if dec, admitted := admit(r, opts, capability, ip, subjectKey, op, start); !admitted {
				writeRejection(cw, opts.RejectStatus, dec.Rejection())
			} else {
				if opts.AddRateLimitHeaders && dec.Limit > 0 {
					setLimitHeaders(w.Header(), dec)
				}
				next.ServeHTTP(cw, r.WithContext(withAnnotation(r.Context(), ann)))
				cw.finish()
			}

			if !capability.Auditable || opts.Recorder == nil {
				return
			}
			ev := buildEvent(r, capability, op, subject, class, ip, cw, ann.snapshot(), start, opts.Now())
			if !opts.Recorder.Submit(ev) {
				opts.Logger.Debug("request event not accepted", zap.String("path", ev.Path))
			}
		})
	}
}

// admit consulta primeiro o grupo de IP da rota e depois a classe. A primeira
// recusa encerra; a decisão devolvida na admissão é a da classe.
func admit(r *http.Request, opts Options, c RouteCapability, ip, subjectKey string, op domain.OperationClass, now time.Time) (domain.Decision, bool) {
	if opts.Admitter == nil {
		return domain.Decision{Allowed: true}, true
	}
	var dec domain.Decision
	if c.IPGroup != "" {
		dec = opts.Admitter.Admit(r.Context(), "ip:"+ip, domain.IPClass(c.IPGroup), now)
		if !dec.Allowed {
			return dec, false
		}
	}
	if class, ok := c.limitClass(op); ok {
		dec = opts.Admitter.Admit(r.Context(), subjectKey, class, now)
		if !dec.Allowed {
			return dec, false
		}
	}
	if dec.FailOpen {
		opts.Logger.Debug("request admitted without store decision",
			zap.String("subject", subjectKey), zap.String("class", string(dec.Class)))
	}
	return dec, true
}

func setLimitHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
}

func writeRejection(w http.ResponseWriter, status int, rej *domain.Rejection) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", formatInt(rej.RetryAfterSeconds))
	h.Set("X-RateLimit-Limit", formatInt(rej.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(rej.Remaining))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Error: errorBody{
			Code:    "rate_limited",
			Message: rej.Error(),
		},
		RetryAfterSeconds: rej.RetryAfterSeconds,
		Limit:             rej.Limit,
		Remaining:         rej.Remaining,
		Class:             string(rej.Class),
	})
}

func buildEvent(r *http.Request, c RouteCapability, op domain.OperationClass, subject *string, class domain.SubjectClass,
	ip string, cw *captureWriter, ann annotationView, start, end time.Time) domain.RequestEvent {
	size := cw.bytes
	module := c.Module
	if ann.module != "" {
		module = ann.module
	}
	ev := domain.RequestEvent{
		Subject:       subject,
		SubjectClass:  class,
		Path:          r.URL.Path,
		Method:        r.Method,
		Operation:     op,
		Module:        module,
		Status:        cw.status,
		ResponseBytes: &size,
		RecordCount:   ann.recordCount,
		ResourceIDs:   ann.resources,
		Error:         cw.status >= http.StatusBadRequest || ann.errMsg != nil,
		ErrorMessage:  ann.errMsg,
		ClientIP:      ip,
		UserAgent:     r.UserAgent(),
		DurationMs:    end.Sub(start).Milliseconds(),
		OccurredAt:    start,
	}
	if ev.DurationMs < 0 {
		ev.DurationMs = 0
	}
	return ev
}
