// Package scheduler runs a task on a fixed interval in a background goroutine.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is invoked on every tick. Its context is cancelled by Stop.
type Task func(ctx context.Context)

type Scheduler struct {
	name     string
	interval time.Duration
	task     Task

	running atomic.Bool
	runs    atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(name string, interval time.Duration, task Task) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if task == nil {
		return nil, errors.New("task must not be nil")
	}
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
	}, nil
}

// Start launches the loop and runs the task once right away. It returns
// false if the loop is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.loop(ctx, s.done)

	return true
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("runner stopped", "name", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Runs reports how many task invocations have completed, panics included.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("runner started", "name", s.name, "interval", s.interval.String())

	s.safeRun(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun(ctx)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context) {
	defer s.runs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("runner task panic recovered", "name", s.name, "panic", r)
		}
	}()

	start := time.Now()
	s.task(ctx)
	slog.Debug("runner task completed", "name", s.name, "duration_ms", time.Since(start).Milliseconds())
}
