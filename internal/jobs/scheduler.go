package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/goroutine"
	"github.com/ignatzorin/yodo-backend/internal/logger"
)

// Job периодическая фоновая задача.
type Job interface {
	Name() string
	NextRun(now time.Time) time.Time
	Run(ctx context.Context) error
}

// Scheduler запускает зарегистрированные джобы по их расписанию.
type Scheduler struct {
	jobs    []Job
	retries []time.Duration
	log     *logrus.Entry
}

// NewScheduler создаёт планировщик. retries задержки перед повторами
// упавшего запуска; пустой список отключает повторы.
func NewScheduler(retries ...time.Duration) *Scheduler {
	return &Scheduler{
		retries: retries,
		log:     logger.Component("scheduler"),
	}
}

// Register регистрирует джобу.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
	s.log.WithFields(logrus.Fields{
		"job_name":   job.Name(),
		"total_jobs": len(s.jobs),
	}).Debug("job registered")
}

// Run запускает все джобы и блокируется до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		s.log.Warn("no jobs registered, scheduler not started")
		<-ctx.Done()
		return nil
	}

	s.log.WithField("jobs_count", len(s.jobs)).Info("starting job scheduler")

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		goroutine.SafeGoWithContext(ctx, "job:"+job.Name(), func(ctx context.Context) {
			defer wg.Done()
			s.loop(ctx, job)
		})
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	name := job.Name()
	for {
		now := time.Now()
		timer := time.NewTimer(job.NextRun(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.WithField("job_name", name).Info("job stopped by context")
			return
		case <-timer.C:
			if err := s.RunOnce(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithFields(logrus.Fields{
					"job_name": name,
					"error":    err,
				}).Error("job failed after all retries")
			}
		}
	}
}

// RunOnce выполняет джобу с повторами. Паника в джобе считается ошибкой попытки.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	name := job.Name()
	var errs []error

	for attempt := 0; attempt <= len(s.retries); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retries[attempt-1]):
			}
		}

		err := s.execute(ctx, job)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"job_name": name,
				"attempt":  attempt + 1,
			}).Debug("job executed successfully")
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt+1, err))
		s.log.WithFields(logrus.Fields{
			"job_name":          name,
			"attempt":           attempt + 1,
			"retries_remaining": len(s.retries) - attempt,
			"error":             err,
		}).Warn("job execution failed")
	}

	return fmt.Errorf("job %s: %w", name, errors.Join(errs...))
}

func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
