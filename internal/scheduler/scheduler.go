package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/sensor-dashboard/internal/logging"
	"github.com/i474232898/sensor-dashboard/internal/metrics"
	"github.com/i474232898/sensor-dashboard/internal/readings"
)

// Runner executes one collection pass. *readings.Service implements it.
type Runner interface {
	CollectAndStore(ctx context.Context, c readings.Collector) error
}

// Job polls one collector at a fixed interval. Timeout bounds one run of
// this collector; zero uses the scheduler default.
type Job struct {
	Collector readings.Collector
	Interval  time.Duration
	Timeout   time.Duration
}

// Backoff bounds how long a failing collector is paused.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// CollectError reports a failed collection pass to the supervisor.
type CollectError struct {
	Collector string
	At        time.Time
	Err       error
}

func (e CollectError) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Collector, e.Err)
}

func (e CollectError) Unwrap() error { return e.Err }

type jobState struct {
	failures    int
	pausedUntil time.Time
}

// Scheduler runs collectors on their own intervals. Failures are sent to a
// supervisor goroutine that pauses the collector with exponential backoff;
// the first successful run clears the pause.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	jobs      []Job
	backoff   Backoff
	timeout   time.Duration
	logger    *logrus.Logger

	errs chan CollectError
	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time

	mu     sync.Mutex
	states map[string]*jobState
}

// New creates a new Scheduler. timeout bounds a collection pass for jobs
// that do not set their own.
func New(runner Runner, jobs []Job, backoff Backoff, timeout time.Duration, logger *logrus.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		jobs:      jobs,
		backoff:   backoff,
		timeout:   timeout,
		logger:    logger,
		errs:      make(chan CollectError, 16),
		done:      make(chan struct{}),
		now:       time.Now,
		states:    make(map[string]*jobState),
	}
}

// Start schedules every job and starts the supervisor and the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.logger.Warn("scheduler: no collectors configured; nothing to schedule")
		return nil
	}

	for _, job := range s.jobs {
		job := job
		_, err := s.scheduler.Every(job.Interval).SingletonMode().Do(func() {
			s.runOnce(job)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.Collector.Name(), err)
		}
		s.logger.WithFields(logrus.Fields{
			"collector": job.Collector.Name(),
			"interval":  job.Interval,
		}).Info("scheduler: collector scheduled")
	}

	s.wg.Add(1)
	go s.supervise()

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and the supervisor.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
}

func (s *Scheduler) runOnce(job Job) {
	name := job.Collector.Name()
	log := s.logger.WithField("collector", name)

	if until, paused := s.pausedUntil(name); paused {
		metrics.CollectorRuns.WithLabelValues(name, "skipped").Inc()
		log.WithField("until", until.Format(time.RFC3339)).Debug("scheduler: collector backing off")
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.runner.CollectAndStore(ctx, job.Collector); err != nil {
		metrics.CollectorRuns.WithLabelValues(name, "error").Inc()
		ce := CollectError{Collector: name, At: s.now(), Err: err}
		select {
		case s.errs <- ce:
		default:
			log.WithError(err).Error("scheduler: error channel full, dropping failure")
		}
		return
	}

	metrics.CollectorRuns.WithLabelValues(name, "ok").Inc()
	s.reset(name)
}

func (s *Scheduler) supervise() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ce := <-s.errs:
			s.handle(ce)
		}
	}
}

// handle records a failure and pauses the collector.
func (s *Scheduler) handle(ce CollectError) {
	s.mu.Lock()
	st := s.state(ce.Collector)
	st.failures++
	delay := s.delay(st.failures)
	st.pausedUntil = ce.At.Add(delay)
	failures := st.failures
	s.mu.Unlock()

	metrics.CollectorBackoff.WithLabelValues(ce.Collector).Set(delay.Seconds())
	s.logger.WithFields(logrus.Fields{
		"collector": ce.Collector,
		"failures":  failures,
		"backoff":   delay,
	}).WithError(ce.Err).Error("scheduler: collection failed")
}

// delay is Base doubled per consecutive failure, capped at Max.
func (s *Scheduler) delay(failures int) time.Duration {
	d := s.backoff.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if s.backoff.Max > 0 && d >= s.backoff.Max {
			return s.backoff.Max
		}
	}
	if s.backoff.Max > 0 && d > s.backoff.Max {
		return s.backoff.Max
	}
	return d
}

func (s *Scheduler) reset(name string) {
	s.mu.Lock()
	st := s.state(name)
	recovered := st.failures > 0
	st.failures = 0
	st.pausedUntil = time.Time{}
	s.mu.Unlock()

	metrics.CollectorBackoff.WithLabelValues(name).Set(0)
	if recovered {
		s.logger.WithField("collector", name).Info("scheduler: collector recovered")
	}
}

func (s *Scheduler) pausedUntil(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(name)
	return st.pausedUntil, s.now().Before(st.pausedUntil)
}

// state must be called with mu held.
func (s *Scheduler) state(name string) *jobState {
	st, ok := s.states[name]
	if !ok {
		st = &jobState{}
		s.states[name] = st
	}
	return st
}
