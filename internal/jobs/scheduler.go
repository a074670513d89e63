// Package jobs runs named recurring jobs on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job func(ctx context.Context)

// Scheduler runs each registered job on its schedule. A job never runs
// concurrently with itself: a tick that fires while the previous run is
// still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	logger   *zap.Logger
	onSkip   func(name string)
	mu       sync.Mutex
	inflight map[string]struct{}
	jobs     map[string]Job
}

func NewScheduler(logger *zap.Logger, onSkip func(name string)) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		logger:   logger,
		onSkip:   onSkip,
		inflight: map[string]struct{}{},
		jobs:     map[string]Job{},
	}
}

func (s *Scheduler) Register(name, spec string, job Job) error {
	if spec == "" {
		return fmt.Errorf("job %s: empty schedule", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.jobs[name] = job
	s.logger.Info("job registered", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron clock. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger runs a registered job now, outside its schedule, under the same
// no-overlap guard. It reports false when the job was skipped.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) bool {
	s.mu.Lock()
	if _, ok := s.inflight[name]; ok {
		s.mu.Unlock()
		s.logger.Warn("job still running, tick skipped", zap.String("job", name))
		if s.onSkip != nil {
			s.onSkip(name)
		}
		return false
	}
	s.inflight[name] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	job(context.Background())
	return true
}
