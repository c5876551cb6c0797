// Package sweeper periodically expires invitations and approval requests
// whose deadline has passed.
package sweeper

import (
	"aprendecomigo/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Expirer is implemented by the invitation and approval services.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Job struct {
	Name    string
	Expirer Expirer
}

type Sweeper struct {
	jobs     []Job
	interval time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	lastRun  time.Time
	lastRes  map[string]int
	totalRes map[string]int
}

func New(interval time.Duration, log *slog.Logger, jobs ...Job) *Sweeper {
	return &Sweeper{
		jobs:     jobs,
		interval: interval,
		log:      log.With(sl.Module("sweeper")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		lastRes:  make(map[string]int),
		totalRes: make(map[string]int),
	}
}

func (s *Sweeper) StartTicker() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.Sweep(context.Background())
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

// Sweep runs every job once. A failing job is logged and does not stop
// the others.
func (s *Sweeper) Sweep(ctx context.Context) map[string]int {
	result := make(map[string]int, len(s.jobs))
	for _, job := range s.jobs {
		n, err := job.Expirer.ExpireStale(ctx)
		if err != nil {
			s.log.With(slog.String("job", job.Name), sl.Err(err)).Error("sweep")
			continue
		}
		result[job.Name] = n
		if n > 0 {
			s.log.With(slog.String("job", job.Name), slog.Int("expired", n)).Info("sweep")
		}
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastRes = result
	for k, v := range result {
		s.totalRes[k] += v
	}
	s.mu.Unlock()
	return result
}

// Report summarises the last run for operators.
func (s *Sweeper) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return "sweeper has not run yet"
	}
	report := fmt.Sprintf("last sweep: %s", s.lastRun.UTC().Format(time.RFC3339))
	for _, job := range s.jobs {
		report += fmt.Sprintf("\n%s: %d expired (total %d)", job.Name, s.lastRes[job.Name], s.totalRes[job.Name])
	}
	return report
}
