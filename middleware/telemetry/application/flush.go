package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// FlushOptions configura o FlushCoordinator.
type FlushOptions struct {
	Buffer   domain.EventBuffer
	Log      domain.PersistentLog
	Resolver domain.IdentityResolver
	// Lock nil = sem eleição entre instâncias.
	Lock domain.CycleLock

	Interval time.Duration
	// Timeout limita o ciclo inteiro; estourar abandona a escrita e mantém o lote.
	Timeout time.Duration
	// MaxBatchesPerCycle limita quantos lotes pendentes um ciclo processa.
	MaxBatchesPerCycle int

	Logger   *zap.Logger
	Observer domain.Observer
	Now      func() time.Time
}

// BatchReport resume o processamento de um lote.
type BatchReport struct {
	ID           string
	Events       int
	Written      int
	Failed       int
	Unresolvable int
	Discarded    bool
	Err          error
}

// CycleReport resume um ciclo: estados percorridos, lotes e erro final.
type CycleReport struct {
	Transitions []domain.FlushState
	Batches     []BatchReport
	Err         error
	Took        time.Duration
}

// State é o estado final do ciclo.
func (r CycleReport) State() domain.FlushState {
	if len(r.Transitions) == 0 {
		return domain.FlushIdle
	}
	return r.Transitions[len(r.Transitions)-1]
}

func (r *CycleReport) to(s domain.FlushState) { r.Transitions = append(r.Transitions, s) }

// FlushCoordinator move lotes do buffer para o store permanente.
//
// IDLE -> DRAINING -> RESOLVING -> WRITING -> COMMITTED, ou FAILED em qualquer
// falha total, voltando a IDLE. Um lote só é descartado depois que o
// InsertBatch correspondente terminou sem falha total; até lá ele continua no
// conjunto de drenagem e é retentado no próximo ciclo (lotes mais antigos
// primeiro). A chave determinística de cada registro torna a retentativa
// idempotente.
type FlushCoordinator struct {
	opts  FlushOptions
	state *atomic.String
}

func NewFlushCoordinator(opts FlushOptions) *FlushCoordinator {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxBatchesPerCycle <= 0 {
		opts.MaxBatchesPerCycle = 16
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = domain.NopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FlushCoordinator{opts: opts, state: atomic.NewString(string(domain.FlushIdle))}
}

// State devolve o estado corrente (IDLE entre ciclos).
func (f *FlushCoordinator) State() domain.FlushState { return domain.FlushState(f.state.Load()) }

func (f *FlushCoordinator) enter(rep *CycleReport, s domain.FlushState) {
	rep.to(s)
	f.state.Store(string(s))
}

// Run executa Tick a cada Interval até ctx encerrar.
func (f *FlushCoordinator) Run(ctx context.Context) error {
	t := time.NewTicker(f.opts.Interval)
	defer t.Stop()

	f.opts.Logger.Info("flush loop started", zap.Duration("interval", f.opts.Interval))
	for {
		select {
		case <-ctx.Done():
			f.opts.Logger.Info("flush loop stopped")
			return nil
		case <-t.C:
			f.Tick(ctx)
		}
	}
}

// Tick executa um ciclo completo.
func (f *FlushCoordinator) Tick(parent context.Context) (rep CycleReport) {
	start := f.opts.Now()
	rep.Transitions = []domain.FlushState{domain.FlushIdle}

	ctx, cancel := context.WithTimeout(parent, f.opts.Timeout)
	defer cancel()

	defer func() {
		rep.Took = f.opts.Now().Sub(start)
		state := rep.State()
		f.state.Store(string(domain.FlushIdle))
		f.opts.Observer.FlushCycle(state, rep.Took)
		f.logCycle(rep)
	}()

	if f.opts.Lock != nil {
		release, ok, err := f.opts.Lock.TryAcquire(ctx)
		if err != nil {
			rep.Err = fmt.Errorf("acquire cycle lock: %w", err)
			f.enter(&rep, domain.FlushFailed)
			return rep
		}
		if !ok {
			f.enter(&rep, domain.FlushSkipped)
			return rep
		}
		defer release()
	}

	f.enter(&rep, domain.FlushDraining)
	batches, err := f.drain(ctx)
	if err != nil {
		rep.Err = err
		f.enter(&rep, domain.FlushFailed)
		return rep
	}

	var work []domain.BatchEnvelope
	for _, env := range batches {
		if env.Empty() {
			// lote vazio não toca o store permanente
			br := BatchReport{ID: env.ID}
			if err := f.opts.Buffer.Discard(ctx, env.ID); err != nil {
				br.Err = err
			} else {
				br.Discarded = true
			}
			rep.Batches = append(rep.Batches, br)
			continue
		}
		work = append(work, env)
	}
	if len(work) == 0 {
		f.enter(&rep, domain.FlushCommitted)
		return rep
	}

	f.enter(&rep, domain.FlushResolving)
	cache := newResolveCache(f.opts.Resolver)
	resolved := make([][]domain.AuditRecord, len(work))
	reports := make([]BatchReport, len(work))
	for i, env := range work {
		reports[i] = BatchReport{ID: env.ID, Events: len(env.Events)}
		recs, unresolvable, err := f.resolve(ctx, cache, env)
		if err != nil {
			rep.Err = err
			rep.Batches = append(rep.Batches, reports[:i+1]...)
			f.enter(&rep, domain.FlushFailed)
			return rep
		}
		resolved[i] = recs
		reports[i].Unresolvable = unresolvable
		f.opts.Observer.FlushRecords("unresolvable", unresolvable)
	}

	f.enter(&rep, domain.FlushWriting)
	for i, env := range work {
		br := &reports[i]
		if err := f.write(ctx, resolved[i], br); err != nil {
			// store fora: os lotes restantes também ficam para o próximo ciclo
			br.Err = err
			rep.Err = err
			break
		}
		if err := f.opts.Buffer.Discard(ctx, env.ID); err != nil {
			// já escrito; o reenvio no próximo ciclo é idempotente
			br.Err = err
			f.opts.Logger.Warn("discard after write failed, batch will be retried",
				zap.String("batch", env.ID), zap.Error(err))
			continue
		}
		br.Discarded = true
	}
	rep.Batches = append(rep.Batches, reports...)

	if rep.Err != nil {
		f.enter(&rep, domain.FlushFailed)
		return rep
	}
	f.enter(&rep, domain.FlushCommitted)
	return rep
}

// drain rotaciona o lote ativo e devolve os lotes pendentes, mais antigos
// primeiro, incluindo o que acabou de ser rotacionado.
func (f *FlushCoordinator) drain(ctx context.Context) ([]domain.BatchEnvelope, error) {
	fresh, err := f.opts.Buffer.RotateAndDrain(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotate: %w", err)
	}
	pending, err := f.opts.Buffer.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}

	out := make([]domain.BatchEnvelope, 0, len(pending)+1)
	seenFresh := fresh.ID == ""
	for _, id := range pending {
		if len(out) >= f.opts.MaxBatchesPerCycle {
			break
		}
		if id == fresh.ID {
			seenFresh = true
			out = append(out, fresh)
			continue
		}
		env, err := f.opts.Buffer.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load batch %s: %w", id, err)
		}
		out = append(out, env)
	}
	if !seenFresh && len(out) < f.opts.MaxBatchesPerCycle {
		out = append(out, fresh)
	}
	return out, nil
}

// resolve transforma os eventos do lote em registros permanentes. Identidades
// inexistentes pulam o registro; qualquer outro erro do resolver aborta o
// ciclo (o lote fica para o próximo).
func (f *FlushCoordinator) resolve(ctx context.Context, cache *resolveCache, env domain.BatchEnvelope) ([]domain.AuditRecord, int, error) {
	records := make([]domain.AuditRecord, 0, len(env.Events))
	unresolvable := 0
	for i, ev := range env.Events {
		var subjectID *int64
		if ev.Subject != nil && ev.SubjectClass != domain.SubjectAnonymous {
			if f.opts.Resolver == nil {
				unresolvable++
				continue
			}
			id, err := cache.resolve(ctx, ev.SubjectClass, *ev.Subject)
			if errors.Is(err, domain.ErrUnresolvable) {
				unresolvable++
				f.opts.Logger.Debug("skipping event with unresolvable subject",
					zap.String("batch", env.ID), zap.Int("index", i),
					zap.String("class", string(ev.SubjectClass)), zap.Error(err))
				continue
			}
			if err != nil {
				return nil, 0, fmt.Errorf("resolve identity: %w", err)
			}
			subjectID = &id
		}
		records = append(records, toRecord(env.ID, i, ev, subjectID))
	}
	return records, unresolvable, nil
}

func toRecord(batchID string, index int, ev domain.RequestEvent, subjectID *int64) domain.AuditRecord {
	return domain.AuditRecord{
		Key:           domain.RecordKey(batchID, index),
		BatchID:       batchID,
		SubjectID:     subjectID,
		SubjectClass:  ev.SubjectClass,
		Path:          ev.Path,
		Method:        ev.Method,
		Operation:     ev.Operation,
		Module:        ev.Module,
		Status:        ev.Status,
		ResponseBytes: ev.ResponseBytes,
		RecordCount:   ev.RecordCount,
		ResourceIDs:   ev.ResourceIDs,
		Error:         ev.Error,
		ErrorMessage:  ev.ErrorMessage,
		ClientIP:      ev.ClientIP,
		UserAgent:     ev.UserAgent,
		DurationMs:    ev.DurationMs,
		OccurredAt:    ev.OccurredAt,
	}
}

func (f *FlushCoordinator) write(ctx context.Context, records []domain.AuditRecord, br *BatchReport) error {
	if len(records) == 0 {
		return nil
	}
	results, err := f.opts.Log.InsertBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", br.ID, err)
	}
	for _, r := range results {
		if r.Err != nil {
			br.Failed++
			f.opts.Logger.Warn("audit record rejected", zap.String("key", r.Key), zap.Error(r.Err))
			continue
		}
		br.Written++
	}
	f.opts.Observer.FlushRecords("written", br.Written)
	f.opts.Observer.FlushRecords("failed", br.Failed)
	return nil
}

func (f *FlushCoordinator) logCycle(rep CycleReport) {
	state := rep.State()
	if state == domain.FlushSkipped {
		f.opts.Logger.Debug("flush cycle skipped, lock held elsewhere")
		return
	}
	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int("batches", len(rep.Batches)),
		zap.Duration("took", rep.Took),
	}
	if rep.Err != nil {
		f.opts.Logger.Error("flush cycle failed", append(fields, zap.Error(rep.Err))...)
		return
	}
	written := 0
	for _, b := range rep.Batches {
		written += b.Written
	}
	if written == 0 {
		f.opts.Logger.Debug("flush cycle committed", fields...)
		return
	}
	f.opts.Logger.Info("flush cycle committed", append(fields, zap.Int("written", written))...)
}
