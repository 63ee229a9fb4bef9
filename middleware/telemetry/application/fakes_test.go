package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"
)

var errBoom = errors.New("boom")

type countingObserver struct {
	mu            sync.Mutex
	storeFailures map[string]int
	dropped       map[string]int
	admissions    map[string]int
	alerts        map[domain.AlertKind]int
	cycles        map[domain.FlushState]int
	records       map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		storeFailures: map[string]int{},
		dropped:       map[string]int{},
		admissions:    map[string]int{},
		alerts:        map[domain.AlertKind]int{},
		cycles:        map[domain.FlushState]int{},
		records:       map[string]int{},
	}
}

func (o *countingObserver) StoreFailure(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storeFailures[op]++
}

func (o *countingObserver) EventDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *countingObserver) Admission(class domain.LimitClass, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admissions[string(class)+"/"+outcome]++
}

func (o *countingObserver) AlertFired(kind domain.AlertKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts[kind]++
}

func (o *countingObserver) FlushCycle(state domain.FlushState, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles[state]++
}

func (o *countingObserver) FlushRecords(outcome string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[outcome] += n
}

func (o *countingObserver) get(m func(*countingObserver) int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m(o)
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow() bool { return f.allow }

type fakeThrottle struct{ allow bool }

func (s fakeThrottle) Get(domain.Key) domain.Limiter { return fakeLimiter{allow: s.allow} }

// memBuffer é um EventBuffer em memória com a mesma semântica do Redis.
type memBuffer struct {
	mu       sync.Mutex
	seq      int
	active   string
	batches  map[string][]domain.RequestEvent
	draining map[string]int
	failNext error
}

func newMemBuffer() *memBuffer {
	return &memBuffer{batches: map[string][]domain.RequestEvent{}, draining: map[string]int{}}
}

func (b *memBuffer) nextID() string {
	b.seq++
	return fmt.Sprintf("batch-%04d", b.seq)
}

func (b *memBuffer) Append(_ context.Context, ev domain.RequestEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	if b.active == "" {
		b.active = b.nextID()
	}
	b.batches[b.active] = append(b.batches[b.active], ev)
	return nil
}

func (b *memBuffer) RotateAndDrain(_ context.Context) (domain.BatchEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return domain.BatchEnvelope{}, err
	}
	prev := b.active
	b.active = b.nextID()
	if prev == "" {
		return domain.BatchEnvelope{}, nil
	}
	b.draining[prev] = b.seq
	return domain.BatchEnvelope{ID: prev, Events: append([]domain.RequestEvent(nil), b.batches[prev]...)}, nil
}

func (b *memBuffer) Pending(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.draining))
	for id := range b.draining {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return b.draining[ids[i]] < b.draining[ids[j]] })
	return ids, nil
}

func (b *memBuffer) Load(_ context.Context, id string) (domain.BatchEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BatchEnvelope{ID: id, Events: append([]domain.RequestEvent(nil), b.batches[id]...)}, nil
}

func (b *memBuffer) Discard(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.batches, id)
	delete(b.draining, id)
	return nil
}

func (b *memBuffer) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.draining)
}

// memLog é um PersistentLog em memória, idempotente pela chave.
type memLog struct {
	mu      sync.Mutex
	rows    map[string]domain.AuditRecord
	order   []string
	calls   int
	down    bool
	stall   bool
	rejects map[string]bool
}

func newMemLog() *memLog {
	return &memLog{rows: map[string]domain.AuditRecord{}, rejects: map[string]bool{}}
}

func (l *memLog) InsertBatch(ctx context.Context, records []domain.AuditRecord) ([]domain.RecordResult, error) {
	l.mu.Lock()
	l.calls++
	if l.stall {
		// simula um banco travado: só o prazo do ciclo libera a escrita
		l.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer l.mu.Unlock()
	if l.down {
		return nil, domain.ErrLogUnavailable
	}
	out := make([]domain.RecordResult, len(records))
	for i, r := range records {
		out[i].Key = r.Key
		if l.rejects[r.Key] {
			out[i].Err = errBoom
			continue
		}
		if _, ok := l.rows[r.Key]; ok {
			continue
		}
		l.rows[r.Key] = r
		l.order = append(l.order, r.Key)
	}
	return out, nil
}

func (l *memLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type fakeLock struct {
	held bool
	err  error
}

func (l *fakeLock) TryAcquire(context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() { l.held = false }, true, nil
}

type mapResolver map[string]int64

func (m mapResolver) Resolve(_ context.Context, class domain.SubjectClass, externalID string) (int64, error) {
	if id, ok := m[externalID]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s/%s", domain.ErrUnresolvable, class, externalID)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, domain.SubjectClass, string) (int64, error) {
	return 0, errBoom
}

func strPtr(s string) *string { return &s }

func event(subject string, class domain.SubjectClass, path string) domain.RequestEvent {
	ev := domain.RequestEvent{
		SubjectClass: class,
		Path:         path,
		Method:       "GET",
		Operation:    domain.OperationRead,
		Module:       "orders",
		Status:       200,
		ClientIP:     "10.0.0.1",
		DurationMs:   3,
		OccurredAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if subject != "" {
		ev.Subject = strPtr(subject)
	}
	return ev
}
