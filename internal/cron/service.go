package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("job not found")

var parser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Spec returns the robfig schedule string for s.
func (s Schedule) Spec() (string, error) {
	switch s.Kind {
	case KindCron:
		if s.Expr == "" {
			return "", fmt.Errorf("cron schedule needs an expression")
		}
		return s.Expr, nil
	case KindEvery:
		if s.Every <= 0 {
			return "", fmt.Errorf("every schedule needs a positive period, got %v", s.Every)
		}
		return "@every " + s.Every.String(), nil
	}
	return "", fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// Validate checks that s parses.
func (s Schedule) Validate() error {
	spec, err := s.Spec()
	if err != nil {
		return err
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}

// Service schedules jobs in memory. Nothing is written to disk.
type Service struct {
	mu       sync.Mutex
	jobs     []Job
	OnJob    func(job Job) error
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	running  bool
	stopCh   chan struct{}
	logger   *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cron:     rcron.New(rcron.WithParser(parser)),
		entryMap: make(map[string]rcron.EntryID),
		logger:   logger.Named("cron"),
	}
}

// Start runs the scheduler until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", count))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) registerJob(job *Job) error {
	spec, err := job.Schedule.Spec()
	if err != nil {
		return err
	}
	jobID := job.ID
	id, err := s.cron.AddFunc(spec, func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", job.Name, spec, err)
	}
	s.entryMap[job.ID] = id
	return nil
}

func (s *Service) unregisterJob(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	var job Job
	found := false
	for i := range s.jobs {
		if s.jobs[i].ID == id && s.jobs[i].Enabled {
			job = s.jobs[i]
			found = true
			break
		}
	}
	onJob := s.OnJob
	s.mu.Unlock()

	if !found {
		return
	}
	if onJob == nil {
		s.logger.Warn("no OnJob handler set", zap.String("job", job.Name))
		return
	}

	err := onJob(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAt = time.Now()
		st.Runs++
		if err != nil {
			st.LastStatus = "error"
			st.LastError = err.Error()
			s.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
		} else {
			st.LastStatus = "ok"
			st.LastError = ""
			s.logger.Debug("job ran", zap.String("job", job.Name))
		}
		break
	}
}

// Stop halts the scheduler and waits up to 5s for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	s.logger.Info("stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewJob(name, schedule, payload)
	if err := s.registerJob(&job); err != nil {
		return nil, err
	}
	s.jobs = append(s.jobs, job)
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregisterJob(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// FindJobs returns the jobs whose payload matches pred.
func (s *Service) FindJobs(pred func(Payload) bool) []Job {
	var out []Job
	for _, job := range s.ListJobs() {
		if pred(job.Payload) {
			out = append(out, job)
		}
	}
	return out
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if enabled {
			if _, ok := s.entryMap[id]; !ok {
				if err := s.registerJob(&s.jobs[i]); err != nil {
					return nil, err
				}
			}
		} else {
			s.unregisterJob(id)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// RunNow executes a job immediately, outside its schedule.
func (s *Service) RunNow(id string) error {
	s.mu.Lock()
	found := false
	for _, job := range s.jobs {
		if job.ID == id {
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.executeJob(id)
	return nil
}
