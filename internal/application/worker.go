package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// DefaultQueueSize is the default capacity of a worker queue.
const DefaultQueueSize = 256

// WorkerDeps holds the collaborators shared by all workers.
type WorkerDeps struct {
	Types         *SourceTypeTable
	Shaping       *TextShaping
	Elevation     output.ElevationFactory
	Sender        output.MessageSender
	Importer      output.ScriptImporter
	Cache         output.ResponseCache
	Stores        output.StoreResolver
	Fetcher       output.TileFetcher
	Online        bool
	CacheCapacity int
	QueueSize     int
	Metrics       output.MetricsCollector
	Logger        *slog.Logger
}

// Worker is the serialized execution context of one map instance. Requests and
// handler completions run one at a time on a single goroutine, in arrival order.
type Worker struct {
	id         string
	mapID      domain.MapInstanceID
	dispatcher *Dispatcher
	logger     *slog.Logger

	queue   chan func()
	stop    chan struct{}
	done    chan struct{}
	closing atomic.Bool
	once    sync.Once
}

// NewWorker creates a worker for a map instance and starts its loop.
func NewWorker(mapID domain.MapInstanceID, deps WorkerDeps) *Worker {
	size := deps.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	id := uuid.NewString()
	w := &Worker{
		id:     id,
		mapID:  mapID,
		queue:  make(chan func(), size),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: deps.Logger.With("map_id", mapID, "worker_id", id),
	}

	referrer := &Referrer{}
	env := &output.SourceEnv{
		Stores:   deps.Stores,
		Fetcher:  deps.Fetcher,
		Online:   deps.Online,
		Referrer: referrer.Get,
		Shaping:  deps.Shaping,
		NewCache: func() output.PayloadCache {
			c := NewOfflineCache[string, any](deps.CacheCapacity)
			c.OnEvict(func(string) { deps.Metrics.IncCacheEvent(output.CacheEvict) })
			return c
		},
		Metrics: deps.Metrics,
		Logger:  w.logger,
	}

	layers := NewLayerIndexRegistry()
	images := NewAvailableImagesRegistry()
	w.dispatcher = NewDispatcher(DispatcherDeps{
		Layers:    layers,
		Images:    images,
		Sources:   NewSourceInstanceRegistry(deps.Types, layers, images, deps.Sender, w, env, deps.Metrics, w.logger),
		Elevation: NewElevationSourceRegistry(deps.Elevation, w, env, deps.Metrics),
		Types:     deps.Types,
		Shaping:   deps.Shaping,
		Importer:  deps.Importer,
		Cache:     deps.Cache,
		Referrer:  referrer,
		Scheduler: w,
		Metrics:   deps.Metrics,
		Logger:    w.logger,
	})

	go w.run()
	w.logger.Debug("worker started")
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case fn := <-w.queue:
			w.exec(fn)
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker task panicked", "panic", r)
		}
	}()
	fn()
}

// post enqueues fn on the execution context. It reports false if the worker stopped.
func (w *Worker) post(ctx context.Context, fn func()) bool {
	select {
	case w.queue <- fn:
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Submit enqueues a request. cb is invoked on the execution context exactly once,
// unless the worker closes first.
func (w *Worker) Submit(ctx context.Context, env domain.Envelope, cb domain.Callback) error {
	if w.closing.Load() {
		return domain.ErrWorkerClosed
	}

	once := onceCallback(cb)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("request handler panicked", "operation", env.Operation, "panic", r)
				once(nil, fmt.Errorf("%s: %v: %w", env.Operation, r, domain.ErrInternal))
			}
		}()
		w.dispatcher.Handle(ctx, env, once)
	}

	if !w.post(ctx, task) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return domain.ErrWorkerClosed
	}
	return nil
}

// Go implements output.Scheduler. work runs on its own goroutine; done runs on
// the execution context. Completions arriving after close are dropped. A done
// that panics is invoked once more with ErrInternal so it can still answer
// its request.
func (w *Worker) Go(ctx context.Context, work func(ctx context.Context) (any, error), done func(data any, err error)) {
	go func() {
		var (
			data any
			err  error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("background task: %v: %w", r, domain.ErrInternal)
				}
			}()
			data, err = work(ctx)
		}()

		complete := func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("background completion panicked", "panic", r)
					done(nil, fmt.Errorf("background completion: %v: %w", r, domain.ErrInternal))
				}
			}()
			done(data, err)
		}

		if !w.post(context.Background(), complete) {
			w.logger.Debug("dropping completion of closed worker")
		}
	}()
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Close tears down every handler of the map instance and stops the loop.
func (w *Worker) Close(ctx context.Context) error {
	var err error
	w.once.Do(func() {
		w.closing.Store(true)

		finished := make(chan struct{})
		if !w.post(ctx, func() {
			w.dispatcher.Teardown(ctx, w.mapID)
			close(finished)
		}) {
			err = ctx.Err()
		} else {
			select {
			case <-finished:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}

		close(w.stop)
		<-w.done
		w.logger.Debug("worker stopped")
	})
	return err
}

// onceCallback returns a callback that forwards only its first invocation.
func onceCallback(cb domain.Callback) domain.Callback {
	var once sync.Once
	return func(data any, err error) {
		once.Do(func() { cb(data, err) })
	}
}

// WorkerPool maps each map instance to its own worker.
type WorkerPool struct {
	mu      sync.Mutex
	workers map[domain.MapInstanceID]*Worker
	deps    WorkerDeps
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewWorkerPool creates an empty pool.
func NewWorkerPool(deps WorkerDeps) *WorkerPool {
	return &WorkerPool{
		workers: make(map[domain.MapInstanceID]*Worker),
		deps:    deps,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
}

// Worker returns the worker of a map instance, starting it on first use.
func (p *WorkerPool) Worker(mapID domain.MapInstanceID) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[mapID]
	if !ok {
		w = NewWorker(mapID, p.deps)
		p.workers[mapID] = w
		p.metrics.SetMapInstances(len(p.workers))
		p.logger.Info("map instance started", "map_id", mapID, "worker_id", w.ID())
	}
	return w
}

// Dispatch submits a request to the worker of its map instance and waits for the result.
func (p *WorkerPool) Dispatch(ctx context.Context, env domain.Envelope) (any, error) {
	if env.MapID == "" {
		return nil, &domain.MalformedRequestError{Operation: string(env.Operation), Field: "map_id"}
	}

	type result struct {
		data any
		err  error
	}
	ch := make(chan result, 1)

	w := p.Worker(env.MapID)
	if err := w.Submit(ctx, env, func(data any, err error) {
		ch <- result{data: data, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-w.Done():
		return nil, domain.ErrWorkerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release closes the worker of a map instance. Releasing an unknown instance is a no-op.
func (p *WorkerPool) Release(ctx context.Context, mapID domain.MapInstanceID) error {
	p.mu.Lock()
	w, ok := p.workers[mapID]
	if ok {
		delete(p.workers, mapID)
		p.metrics.SetMapInstances(len(p.workers))
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	p.logger.Info("map instance released", "map_id", mapID)
	return w.Close(ctx)
}

// Len returns the number of live map instances.
func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close releases every worker.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]domain.MapInstanceID, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := p.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
