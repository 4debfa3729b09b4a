package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner runs each job on its own ticker until stopped.
type Runner struct {
	log    *log.Logger
	jobs   []Job
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewRunner(logger *log.Logger, jobs ...Job) *Runner {
	return &Runner{
		log:    logger,
		jobs:   jobs,
		stopCh: make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.log.Printf("jobs: starting %s every %s", job.Name, job.Interval)
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Stop signals every job loop and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("jobs: %s panicked: %v", job.Name, rec)
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.log.Printf("jobs: %s failed after %s: %v", job.Name, time.Since(start), err)
	}
}
