package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
)

var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrQueueStopped = errors.New("task queue is stopped")
)

type Job struct {
	TaskID     string
	DownloadID uint
}

// Handler runs one job. ctx carries the soft time limit and the revocation
// of the task as its cause.
type Handler func(ctx context.Context, job Job) error

type Options struct {
	Workers       int
	Backlog       int
	SoftTimeLimit time.Duration
}

type Stats struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type MessageQueue struct {
	workers   int
	softLimit time.Duration
	jobs      chan Job
	store     *kv.Store

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	revoked map[string]struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group
}

func NewMessageQueue(store *kv.Store, opts Options) (*MessageQueue, error) {
	if opts.Workers <= 0 {
		return nil, errors.New("invalid number of workers")
	}
	if opts.Backlog <= 0 {
		opts.Backlog = opts.Workers * 2
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	return &MessageQueue{
		workers:   opts.Workers,
		softLimit: opts.SoftTimeLimit,
		jobs:      make(chan Job, opts.Backlog),
		store:     store,
		running:   make(map[string]context.CancelCauseFunc),
		revoked:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Publish enqueues a job and records it as pending.
func (m *MessageQueue) Publish(taskID string, downloadID uint) error {
	if m.ctx.Err() != nil {
		return ErrQueueStopped
	}

	err := m.store.Set(kv.TaskState{
		ID:         taskID,
		DownloadID: downloadID,
		Status:     kv.TaskPending,
	})
	if err != nil {
		return err
	}

	select {
	case m.jobs <- Job{TaskID: taskID, DownloadID: downloadID}:
		slog.Info("published task", slog.String("task", taskID), slog.Uint64("download", uint64(downloadID)))
		return nil
	default:
		m.fail(taskID, ErrQueueFull)
		return ErrQueueFull
	}
}

// SetupConsumers starts the workers. It must be called once.
func (m *MessageQueue) SetupConsumers(handler Handler) {
	m.group, _ = errgroup.WithContext(m.ctx)

	for i := 0; i < m.workers; i++ {
		workerID := i
		m.group.Go(func() error {
			m.worker(workerID, handler)
			return nil
		})
	}
}

func (m *MessageQueue) worker(workerID int, handler Handler) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case job := <-m.jobs:
			slog.Info("worker picked task",
				slog.Int("worker", workerID),
				slog.String("task", job.TaskID),
			)
			m.run(job, handler)
		}
	}
}

func (m *MessageQueue) run(job Job, handler Handler) {
	ctx, cancel := context.WithCancelCause(m.ctx)
	defer cancel(nil)

	m.mu.Lock()
	if _, ok := m.revoked[job.TaskID]; ok {
		delete(m.revoked, job.TaskID)
		m.mu.Unlock()

		slog.Info("skipping revoked task", slog.String("task", job.TaskID))
		m.fail(job.TaskID, downloaders.ErrTerminated)
		return
	}
	m.running[job.TaskID] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, job.TaskID)
		m.mu.Unlock()
	}()

	if m.softLimit > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, m.softLimit, downloaders.ErrSoftLimit)
		defer stop()
	}

	m.store.Update(job.TaskID, func(ts *kv.TaskState) {
		ts.Status = kv.TaskStarted
	})

	err := m.safeCall(ctx, job, handler)
	if err != nil {
		slog.Error("task failed", slog.String("task", job.TaskID), slog.Any("err", err))
		m.fail(job.TaskID, err)
		return
	}

	m.store.Update(job.TaskID, func(ts *kv.TaskState) {
		ts.Status = kv.TaskSuccess
	})

	slog.Info("task completed", slog.String("task", job.TaskID))
}

func (m *MessageQueue) safeCall(ctx context.Context, job Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", slog.String("task", job.TaskID), slog.Any("panic", r))
			err = errors.New("task panicked")
		}
	}()
	return handler(ctx, job)
}

func (m *MessageQueue) fail(taskID string, cause error) {
	m.store.Update(taskID, func(ts *kv.TaskState) {
		ts.Status = kv.TaskFailure
		ts.Info.Error = cause.Error()
	})
}

// Poll returns the current state of a task.
func (m *MessageQueue) Poll(taskID string) (kv.TaskState, error) {
	return m.store.Get(taskID)
}

// Revoke prevents a queued task from starting. With terminate set, a
// running task is stopped as well and sig is delivered to its processes.
func (m *MessageQueue) Revoke(taskID string, terminate bool, sig syscall.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cancel, ok := m.running[taskID]; ok {
		if terminate {
			slog.Info("terminating task", slog.String("task", taskID), slog.String("signal", sig.String()))
			cancel(&downloaders.RevokedError{Signal: sig})
		}
		return
	}

	// finished and unknown tasks will never be picked up
	st, err := m.store.Get(taskID)
	if err != nil || st.Status.Done() {
		return
	}

	m.revoked[taskID] = struct{}{}
}

func (m *MessageQueue) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Workers: m.workers,
		Queued:  len(m.jobs),
		Running: len(m.running),
	}
}

// Stop terminates running tasks and waits for the workers to return.
func (m *MessageQueue) Stop() error {
	m.cancel(&downloaders.RevokedError{Signal: syscall.SIGTERM})
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}
