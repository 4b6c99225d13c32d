// Package scheduler runs the background cron jobs: weekly token refresh
// and the daily stats rollup. A minute ticker drives gronx due checks;
// jobs run behind a recover boundary so a panic never takes the loop
// down.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Job is a named cron entry.
type Job struct {
	Name string
	Expr string
	Run  func(ctx context.Context)
}

// Scheduler ticks once a minute and fires due jobs.
type Scheduler struct {
	jobs   []Job
	gron   *gronx.Gronx
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, gron: gronx.New()}
}

// Start launches the tick loop. Invalid expressions are dropped with an
// error log instead of failing startup.
func (s *Scheduler) Start(ctx context.Context) {
	valid := s.jobs[:0]
	for _, j := range s.jobs {
		if !s.gron.IsValid(j.Expr) {
			slog.Error("invalid cron expression, job disabled", "job", j.Name, "expr", j.Expr)
			continue
		}
		valid = append(valid, j)
	}
	s.jobs = valid

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, j := range s.jobs {
				due, err := s.gron.IsDue(j.Expr, now)
				if err != nil {
					slog.Error("cron due check failed", "job", j.Name, "error", err)
					continue
				}
				if due {
					s.runJob(ctx, j)
				}
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("scheduled job panicked",
					"job", j.Name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		start := time.Now()
		slog.Info("scheduled job starting", "job", j.Name)
		j.Run(ctx)
		slog.Info("scheduled job finished", "job", j.Name, "duration", time.Since(start))
	}()
}
