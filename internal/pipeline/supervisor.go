package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskStatus is the state of a supervised background task
type TaskStatus string

// TaskStatus constants
const (
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Task is a snapshot of a supervised background continuation
type Task struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Status     TaskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Supervisor runs detached phase continuations, recovers their panics and logs every failure
// in one place. Finished tasks are kept for inspection up to a fixed history size.
type Supervisor struct {
	ctx     context.Context
	logger  *zap.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	history int
}

// NewSupervisor creates a supervisor whose tasks run under ctx
func NewSupervisor(ctx context.Context, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		ctx:     ctx,
		logger:  logger.Named("supervisor"),
		tasks:   make(map[uuid.UUID]*Task),
		history: 200,
	}
}

// Spawn starts fn in the background and returns its task id
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) uuid.UUID {
	task := &Task{ID: uuid.New(), Name: name, Status: TaskRunning, StartedAt: time.Now()}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.prune()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(fn)

		now := time.Now()
		s.mu.Lock()
		task.FinishedAt = &now
		if err != nil {
			task.Status = TaskFailed
			task.Error = err.Error()
		} else {
			task.Status = TaskSucceeded
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("task_failed",
				zap.String("task_id", task.ID.String()),
				zap.String("name", name),
				zap.Error(err))
			return
		}
		s.logger.Info("task_completed",
			zap.String("task_id", task.ID.String()),
			zap.String("name", name),
			zap.Duration("duration", now.Sub(task.StartedAt)))
	}()
	return task.ID
}

func (s *Supervisor) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			s.logger.Error("task_panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return fn(s.ctx)
}

// Wait blocks until every spawned task has finished
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Get returns a snapshot of one task
func (s *Supervisor) Get(id uuid.UUID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns snapshots of all known tasks, newest first
func (s *Supervisor) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// prune drops the oldest finished tasks beyond the history size. Caller holds mu.
func (s *Supervisor) prune() {
	if len(s.tasks) <= s.history {
		return
	}
	var finished []*Task
	for _, t := range s.tasks {
		if t.FinishedAt != nil {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].FinishedAt.Before(*finished[j].FinishedAt) })
	for _, t := range finished {
		if len(s.tasks) <= s.history {
			return
		}
		delete(s.tasks, t.ID)
	}
}
