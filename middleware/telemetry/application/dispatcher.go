package application

import (
	"context"
	"sync"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Dispatcher executa tarefas de telemetria fora do caminho da requisição.
//
// A capacidade vem de um domain.SlotPool. Sem vaga a tarefa é descartada
// (nunca bloqueia o chamador além de AcquireTimeout). Cada tarefa roda com um
// contexto próprio, desligado do ctx da requisição, limitado por TaskTimeout.
type Dispatcher struct {
	pool           domain.SlotPool
	acquireTimeout time.Duration
	taskTimeout    time.Duration
	logger         *zap.Logger

	inFlight *atomic.Int64
	dropped  *atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	// Pool nil = sem limite de concorrência.
	Pool domain.SlotPool
	// AcquireTimeout <= 0 tenta sem esperar.
	AcquireTimeout time.Duration
	TaskTimeout    time.Duration
	Logger         *zap.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		pool:           opts.Pool,
		acquireTimeout: opts.AcquireTimeout,
		taskTimeout:    opts.TaskTimeout,
		logger:         opts.Logger,
		inFlight:       atomic.NewInt64(0),
		dropped:        atomic.NewInt64(0),
	}
}

func (d *Dispatcher) acquire() (func(), bool) {
	if d.pool == nil {
		return func() {}, true
	}
	if d.acquireTimeout <= 0 {
		if nb, ok := d.pool.(domain.NonBlockingPool); ok {
			return nb.TryAcquire()
		}
	}

	timeout := d.acquireTimeout
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.pool.Acquire(ctx)
}

// Go agenda task. Devolve false quando a tarefa foi descartada (pool cheio ou
// dispatcher fechado).
func (d *Dispatcher) Go(name string, task func(ctx context.Context)) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Inc()
		return false
	}
	release, ok := d.acquire()
	if !ok {
		d.dropped.Inc()
		return false
	}

	d.wg.Add(1)
	d.inFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Dec()
		defer release()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		ctx := context.Background()
		if d.taskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
			defer cancel()
		}
		task(ctx)
	}()
	return true
}

func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Close recusa novas tarefas e espera as que estão rodando, até ctx encerrar.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher closed with tasks still running", zap.Int64("in_flight", d.inFlight.Load()))
		return ctx.Err()
	}
}
