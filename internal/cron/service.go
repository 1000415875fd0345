// Package cron runs scheduled billing digests and persists them as JSON.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/logging"
)

// JobHandler runs a due job and returns the text to deliver.
type JobHandler func(job CronJob) (string, error)

type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []CronJob
	OnJob     JobHandler
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID
	cancel    context.CancelFunc
	stopCh    chan struct{}
	tick      time.Duration
	logger    *zap.Logger
}

func NewService(storePath string, logger *zap.Logger) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
		tick:      time.Second,
		logger:    logging.OrNop(logger).Named("cron"),
	}
}

// Load reads the job store. A missing store is empty.
func (s *Service) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.stopCh = stopCh
	if err := s.load(); err != nil {
		s.logger.Warn("failed to load jobs", zap.Error(err))
	}
	s.cron = rcron.New(rcron.WithSeconds())
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == KindCron {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("started", zap.Int("jobs", count))

	go s.tickLoop(runCtx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) registerJob(job *CronJob) {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		s.logger.Error("failed to register job",
			zap.String("job", job.Name), zap.String("expr", job.Schedule.Expr), zap.Error(err))
		return
	}
	s.entryMap[job.ID] = id
}

func (s *Service) executeJob(job CronJob) {
	s.logger.Info("executing job", zap.String("job", job.Name), zap.String("id", job.ID))

	if s.OnJob == nil {
		s.logger.Warn("no job handler set")
		return
	}
	result, err := s.OnJob(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = StatusError
			s.jobs[i].State.LastError = err.Error()
			s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		} else {
			s.jobs[i].State.LastStatus = StatusOK
			s.jobs[i].State.LastError = ""
			s.logger.Info("job done", zap.String("job", job.Name), zap.String("result", logging.Truncate(result, 100)))
		}
		if s.jobs[i].DeleteAfterRun {
			s.unregister(job.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}
	if err := s.save(); err != nil {
		s.logger.Error("save jobs", zap.Error(err))
	}
}

// dueJobs returns the interval and one-shot jobs to run at now. One-shot
// jobs are disabled as they are picked so they never run twice.
func (s *Service) dueJobs(now int64) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		switch job.Schedule.Kind {
		case KindEvery:
			if job.Schedule.EveryMs > 0 && now >= job.State.LastRunAtMs+job.Schedule.EveryMs {
				job.State.LastRunAtMs = now
				due = append(due, *job)
			}
		case KindAt:
			if job.Schedule.AtMs > 0 && now >= job.Schedule.AtMs {
				job.Enabled = false
				due = append(due, *job)
			}
		}
	}
	return due
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, job := range s.dueJobs(time.Now().UnixMilli()) {
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	c := s.cron
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
	}
	s.logger.Info("stopped")
}

// AddJob validates, stores and schedules a new job.
func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	s.jobs = append(s.jobs, job)
	if job.Schedule.Kind == KindCron && s.cron != nil {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregister(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				s.logger.Error("save jobs", zap.Error(err))
			}
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.jobs[i].Schedule.Kind == KindCron && s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.registerJob(&s.jobs[i])
				}
			} else {
				s.unregister(id)
			}
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// unregister drops the cron entry of id. Callers hold s.mu.
func (s *Service) unregister(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("decode %s: %w", s.storePath, err)
	}
	s.jobs = jobs
	return nil
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
