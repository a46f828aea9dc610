package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/listing-comb/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	configCache *feed.ConfigCache
	pipeline    *Pipeline
	interval    time.Duration
	taskTimeout time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu      sync.Mutex
	running map[string]bool
	nextRun map[string]time.Time
}

func NewScheduler(configCache *feed.ConfigCache, pipeline *Pipeline, workerCount int, interval, taskTimeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		configCache: configCache,
		pipeline:    pipeline,
		interval:    interval,
		taskTimeout: taskTimeout,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
		running:     make(map[string]bool),
		nextRun:     make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()

}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueProfile schedules an out-of-band cycle for one profile.
func (s *Scheduler) EnqueueProfile(name string) error {
	feedConfig, err := s.configCache.GetConfig(name)
	if err != nil {
		return err
	}
	if !feedConfig.Settings.Enabled {
		return fmt.Errorf("profile %s is disabled", name)
	}
	if !s.claim(name, time.Now(), false) {
		return fmt.Errorf("profile %s is already syncing", name)
	}
	return s.enqueueProfile(feedConfig)
}

func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[name]
}

// RunOnce runs one cycle for every enabled profile in name order and
// returns the joined errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	feedConfigs := s.configCache.GetEnabledConfigs()

	names := make([]string, 0, len(feedConfigs))
	for name := range feedConfigs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		task, err := s.pipeline.NewSyncCatalogTask(feedConfigs[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		task.Start()
		taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
		err = task.Execute(taskCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (s *Scheduler) enqueueTasks() {
	feedConfigs := s.configCache.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled profiles found")
		return
	}

	slog.Debug("Processing enabled profiles for task scheduling", "count", len(feedConfigs))

	now := time.Now()
	for name, feedConfig := range feedConfigs {
		if !s.claim(name, now, true) {
			slog.Debug("Profile not due for sync yet", "profile", name)
			continue
		}

		if err := s.enqueueProfile(feedConfig); err != nil {
			slog.Warn("Failed to enqueue SyncCatalogTask", "profile", name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueProfile(feedConfig *feed.Config) error {
	task, err := s.pipeline.NewSyncCatalogTask(feedConfig)
	if err == nil {
		err = s.EnqueueTask(task)
	}
	if err != nil {
		s.release(feedConfig.Name)
		return err
	}
	return nil
}

// claim marks a profile as running. With dueOnly set, profiles whose next
// run lies in the future are refused.
func (s *Scheduler) claim(name string, now time.Time, dueOnly bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[name] {
		return false
	}
	if next, ok := s.nextRun[name]; dueOnly && ok && next.After(now) {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Scheduler) finish(task TaskInterface) {
	interval := time.Hour
	if feedConfig, err := s.configCache.GetConfig(task.GetProfileName()); err == nil {
		interval = time.Duration(feedConfig.Settings.RefreshInterval) * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, task.GetProfileName())
	s.nextRun[task.GetProfileName()] = time.Now().Add(interval)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.finish(task)
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		s.finish(task)
		return
	}

	task.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
	if retryDelay > 30*time.Second {
		retryDelay = 30 * time.Second
	}

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "profile", task.GetProfileName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		}

		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			s.finish(task)
		}
	}()
}
