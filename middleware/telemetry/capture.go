package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Cabeçalhos de resposta pelos quais o upstream reporta o que acessou. São
// consumidos aqui e nunca chegam ao cliente.
const (
	HeaderResources   = "X-Telemetry-Resources"
	HeaderRecordCount = "X-Telemetry-Record-Count"
	HeaderModule      = "X-Telemetry-Module"
	HeaderError       = "X-Telemetry-Error"
)

// Annotation é o canal para handlers em processo reportarem o mesmo que o
// upstream reporta via cabeçalhos.
type Annotation struct {
	mu          sync.Mutex
	resources   []int64
	recordCount *int64
	module      string
	errMsg      *string
}

type annotationKey struct{}

// Annotate devolve a anotação da requisição corrente, ou nil fora do Middleware.
func Annotate(ctx context.Context) *Annotation {
	a, _ := ctx.Value(annotationKey{}).(*Annotation)
	return a
}

func withAnnotation(ctx context.Context, a *Annotation) context.Context {
	return context.WithValue(ctx, annotationKey{}, a)
}

func (a *Annotation) AddResources(ids ...int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.resources = append(a.resources, ids...)
	a.mu.Unlock()
}

func (a *Annotation) SetRecordCount(n int64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.recordCount = &n
	a.mu.Unlock()
}

func (a *Annotation) SetModule(m string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.module = m
	a.mu.Unlock()
}

func (a *Annotation) SetError(msg string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.errMsg = &msg
	a.mu.Unlock()
}

type annotationView struct {
	resources   []int64
	recordCount *int64
	module      string
	errMsg      *string
}

func (a *Annotation) snapshot() annotationView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return annotationView{
		resources:   append([]int64(nil), a.resources...),
		recordCount: a.recordCount,
		module:      a.module,
		errMsg:      a.errMsg,
	}
}

// captureWriter guarda status e bytes escritos e retira os cabeçalhos de
// telemetria antes de a resposta sair.
type captureWriter struct {
	http.ResponseWriter
	ann         *Annotation
	status      int
	bytes       int64
	wroteHeader bool
}

func newCaptureWriter(w http.ResponseWriter, ann *Annotation) *captureWriter {
	return &captureWriter{ResponseWriter: w, ann: ann, status: http.StatusOK}
}

func (c *captureWriter) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = code
	c.consumeHeaders()
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	n, err := c.ResponseWriter.Write(p)
	c.bytes += int64(n)
	return n, err
}

// Flush mantém streaming funcionando atrás do reverse proxy.
func (c *captureWriter) Flush() {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// finish fecha respostas em que o handler retornou sem escrever nada.
func (c *captureWriter) finish() {
	if !c.wroteHeader {
		c.WriteHeader(c.status)
	}
}

func (c *captureWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *captureWriter) consumeHeaders() {
	h := c.ResponseWriter.Header()
	if v := h.Get(HeaderResources); v != "" {
		c.ann.AddResources(parseIDs(v)...)
	}
	if v := h.Get(HeaderRecordCount); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			c.ann.SetRecordCount(n)
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderModule)); v != "" {
		c.ann.SetModule(v)
	}
	if v := strings.TrimSpace(h.Get(HeaderError)); v != "" {
		c.ann.SetError(v)
	}
	h.Del(HeaderResources)
	h.Del(HeaderRecordCount)
	h.Del(HeaderModule)
	h.Del(HeaderError)
}

// parseIDs aceita "1,2, 3"; entradas inválidas ou não positivas são ignoradas.
func parseIDs(v string) []int64 {
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}
