package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"issuant/internal/platform/database"
	"issuant/internal/process/models"
)

const (
	defaultInterval     = 30 * time.Second
	defaultLockDuration = 5 * time.Minute
	defaultBatchSize    = 20
	defaultParallelism  = 4
)

// WorkerSettings tune the polling loop.
type WorkerSettings struct {
	Interval     time.Duration
	LockDuration time.Duration
	BatchSize    int
	Parallelism  int
}

type WorkerOption func(*Worker)

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
			w.runner.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
			w.runner.now = now
		}
	}
}

// Worker repeatedly claims batches of due processes and executes one ready
// step per claimed process.
type Worker struct {
	store    Store
	registry *Registry
	runner   *Runner
	settings WorkerSettings
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

func NewWorker(store Store, tx database.Tx, registry *Registry, settings WorkerSettings, opts ...WorkerOption) *Worker {
	if settings.Interval <= 0 {
		settings.Interval = defaultInterval
	}
	if settings.LockDuration <= 0 {
		settings.LockDuration = defaultLockDuration
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if settings.Parallelism <= 0 {
		settings.Parallelism = defaultParallelism
	}
	w := &Worker{
		store:    store,
		registry: registry,
		runner:   NewRunner(store, tx, nil, nil),
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start polls until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.RunBatch(ctx); err != nil {
				w.logger.Error("worker batch failed", "error", err)
			}
		case <-ctx.Done():
			w.logger.Info("process worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunBatch claims due processes for every registered pipeline and executes
// one ready step per claimed process, bounded by the parallelism setting.
func (w *Worker) RunBatch(ctx context.Context) error {
	start := w.now()
	for _, executor := range w.registry.Executors() {
		if err := w.runPipeline(ctx, executor); err != nil {
			return err
		}
	}
	if w.metrics != nil {
		w.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) runPipeline(ctx context.Context, executor Executor) error {
	claimed, err := w.store.ClaimProcesses(ctx, executor.ProcessType(), executor.StepTypes(),
		w.now().UTC(), w.settings.LockDuration, w.settings.BatchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}
	if w.metrics != nil {
		w.metrics.ProcessesClaimed.WithLabelValues(string(executor.ProcessType())).Add(float64(len(claimed)))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.settings.Parallelism)
	for _, process := range claimed {
		g.Go(func() error {
			w.runProcess(ctx, executor, process)
			return nil
		})
	}
	return g.Wait()
}

// runProcess executes one step of a claimed process and releases the lock.
// Failures are recorded on the step itself, so they do not fail the batch.
func (w *Worker) runProcess(ctx context.Context, executor Executor, process *models.ProcessRun) {
	stepType, status, err := w.runner.RunNextStep(ctx, executor, process)
	outcome := string(status)
	if err != nil {
		outcome = "error"
		w.logger.Error("process execution failed",
			"process_id", process.ID,
			"process_type", process.Type,
			"step_type", stepType,
			"error", err,
		)
	}
	if w.metrics != nil && stepType != "" {
		w.metrics.StepsExecuted.WithLabelValues(string(process.Type), string(stepType), outcome).Inc()
	}
	if err := w.store.ReleaseLock(ctx, process); err != nil {
		w.logger.Warn("could not release process lock", "process_id", process.ID, "error", err)
	}
}
