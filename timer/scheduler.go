package timer

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CancelFunc stops a scheduled timer. Calling it more than once is safe.
type CancelFunc func()

// Scheduler fires callbacks after delays or on a fixed period.
type Scheduler interface {
	// Once fires the callback once after the delay. A non-positive delay
	// fires immediately.
	Once(delay time.Duration, fire func()) CancelFunc

	// Periodic fires the callback every interval until cancelled.
	Periodic(every time.Duration, fire func()) CancelFunc

	// Close cancels every scheduled timer.
	Close() error
}

// CronScheduler schedules one-shot timers on the Go runtime and periodic
// timers on a cron runner.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	pending map[int]*time.Timer
	nextID  int
	closed  bool
}

// NewCronScheduler creates a started scheduler.
func NewCronScheduler() *CronScheduler {
	c := cron.New()
	c.Start()
	return &CronScheduler{
		cron:    c,
		pending: make(map[int]*time.Timer),
	}
}

func (s *CronScheduler) Once(delay time.Duration, fire func()) CancelFunc {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}

	id := s.nextID
	s.nextID++

	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		fire()
	})
	s.pending[id] = t

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if pending, ok := s.pending[id]; ok {
			pending.Stop()
			delete(s.pending, id)
		}
	}
}

func (s *CronScheduler) Periodic(every time.Duration, fire func()) CancelFunc {
	// cron.Every floors sub-second intervals to one second.
	entryID := s.cron.Schedule(cron.Every(every), cron.FuncJob(fire))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.cron.Remove(entryID)
		})
	}
}

func (s *CronScheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	return nil
}

// Compile-time interface check.
var _ Scheduler = (*CronScheduler)(nil)
