// Package workerpool runs tasks on a fixed number of goroutines and reports
// each outcome on a results channel. The load generator uses it to drive
// rate limiter calls at a bounded concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/distbucket/pkg/common/validation"
	"github.com/vnykmshr/distbucket/pkg/metrics"
)

// ErrShutdown is returned when submitting to a pool that has been shut down.
var ErrShutdown = errors.New("worker pool has been shut down")

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task. It should return promptly once ctx is done.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

type workerKey struct{}

// WorkerID returns the ID of the worker running the task that was handed
// ctx. IDs run from 0 to WorkerCount-1.
func WorkerID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerKey{}).(int)
	return id, ok
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error returned by the task, or a panic turned into one
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name labels the pool's metrics and log lines.
	Name string

	// WorkerCount is the number of workers in the pool. Must be positive.
	WorkerCount int

	// QueueSize bounds the number of tasks waiting for a worker. Zero means
	// Submit blocks until a worker takes the task.
	QueueSize int

	// TaskTimeout bounds each task execution. Zero means no timeout.
	TaskTimeout time.Duration

	// Metrics receives the pool gauges and task counters when set.
	Metrics *metrics.Registry

	// Logger receives panics and shutdown events (defaults to a no-op logger).
	Logger *zap.Logger
}

// Pool executes tasks concurrently. Callers must drain Results until it is
// closed; workers block on delivering each result.
type Pool struct {
	config Config
	log    *zap.Logger

	taskQueue   chan queuedTask
	resultQueue chan Result
	shutdownCh  chan struct{}

	shutdownOnce sync.Once
	done         chan struct{}
	workerWg     sync.WaitGroup

	mu         sync.RWMutex
	isShutdown bool

	active    atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
}

type queuedTask struct {
	task Task
	ctx  context.Context
}

// New creates a pool and starts its workers.
func New(config Config) (*Pool, error) {
	if err := validation.ValidatePositive("workerpool", "worker count", int64(config.WorkerCount)); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "queue size", int64(config.QueueSize)); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	p := &Pool{
		config:      config,
		log:         config.Logger.With(zap.String("pool", config.Name)),
		taskQueue:   make(chan queuedTask, config.QueueSize),
		resultQueue: make(chan Result, config.WorkerCount),
		shutdownCh:  make(chan struct{}),
		done:        make(chan struct{}),
	}

	for i := 0; i < config.WorkerCount; i++ {
		p.workerWg.Add(1)
		go p.run(i)
	}

	p.updateGauges()
	return p, nil
}

// Submit adds a task to the pool for execution with context.Background().
func (p *Pool) Submit(task Task) error {
	return p.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext adds a task to the pool. ctx bounds the wait for a queue
// slot and is passed to the task's Execute method.
func (p *Pool) SubmitWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	// held across the send so Shutdown cannot strand a task in the queue
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isShutdown {
		return ErrShutdown
	}

	// a pre-canceled context is never queued
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cannot submit task: %w", err)
	}

	select {
	case p.taskQueue <- queuedTask{task: task, ctx: ctx}:
		p.submitted.Add(1)
		p.updateGauges()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: %w", ctx.Err())
	}
}

// Results returns the channel of task results. It is closed once Shutdown
// completes.
func (p *Pool) Results() <-chan Result {
	return p.resultQueue
}

// Shutdown stops accepting tasks. Tasks already queued still run. The
// returned channel closes when every worker has exited.
func (p *Pool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.isShutdown = true
		p.mu.Unlock()

		close(p.shutdownCh)

		go func() {
			p.workerWg.Wait()
			p.updateGauges()
			close(p.resultQueue)
			p.log.Debug("worker pool stopped",
				zap.Int64("submitted", p.submitted.Load()),
				zap.Int64("completed", p.completed.Load()))
			close(p.done)
		}()
	})

	return p.done
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the number of tasks waiting for a worker.
func (p *Pool) QueueSize() int {
	return len(p.taskQueue)
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// TotalSubmitted returns the number of tasks accepted by the pool.
func (p *Pool) TotalSubmitted() int64 {
	return p.submitted.Load()
}

// TotalCompleted returns the number of tasks that finished, successfully or not.
func (p *Pool) TotalCompleted() int64 {
	return p.completed.Load()
}

// run is the main loop for a worker.
func (p *Pool) run(id int) {
	defer p.workerWg.Done()

	for {
		select {
		case qt := <-p.taskQueue:
			p.execute(id, qt)
		case <-p.shutdownCh:
			// finish what is already queued
			for {
				select {
				case qt := <-p.taskQueue:
					p.execute(id, qt)
				default:
					return
				}
			}
		}
	}
}

// execute runs a single task and delivers its result.
func (p *Pool) execute(id int, qt queuedTask) {
	p.active.Add(1)
	start := time.Now()

	err := p.call(id, qt)

	result := Result{
		Task:     qt.task,
		Error:    err,
		Duration: time.Since(start),
		WorkerID: id,
	}

	p.active.Add(-1)
	p.completed.Add(1)
	p.record(err)

	p.resultQueue <- result
}

// call executes the task, turning a panic into an error.
func (p *Pool) call(id int, qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.Int("worker", id), zap.Any("panic", r))
			err = fmt.Errorf("task panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}
	}()

	ctx := context.WithValue(qt.ctx, workerKey{}, id)
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	return qt.task.Execute(ctx)
}

func (p *Pool) record(err error) {
	if p.config.Metrics == nil {
		return
	}
	if err != nil {
		p.config.Metrics.TasksFailed.WithLabelValues(p.config.Name).Inc()
	} else {
		p.config.Metrics.TasksCompleted.WithLabelValues(p.config.Name).Inc()
	}
	p.updateGauges()
}

func (p *Pool) updateGauges() {
	m := p.config.Metrics
	if m == nil {
		return
	}
	m.WorkerPoolSize.WithLabelValues(p.config.Name).Set(float64(p.config.WorkerCount))
	m.WorkerPoolActive.WithLabelValues(p.config.Name).Set(float64(p.active.Load()))
	m.WorkerPoolQueued.WithLabelValues(p.config.Name).Set(float64(len(p.taskQueue)))
}
