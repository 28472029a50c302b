// Package scheduler registers cron-like jobs whose bodies re-enter an
// agent's reasoning loop with origin SYSTEM_CRON (spec §4.7). Grounded on
// the teacher's declared but unused `github.com/adhocore/gronx` dependency
// (go.mod) for cron validation and due-check semantics; the firing loop
// itself is a plain ticker, since gronx is a validator/checker library, not
// a job-running framework.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
)

// ReentryFunc re-enters the owning agent's reasoning loop for one firing.
type ReentryFunc func(ctx context.Context, prompt, source string)

// job is the runtime-side record paired with each persisted scheduled job.
type job struct {
	cron   string
	prompt string
	source string
}

// checkInterval is how often the runtime polls due jobs. Cron expressions
// are minute-granularity, so polling faster buys nothing; polling this
// often keeps a job from being missed by more than a few seconds.
const checkInterval = 15 * time.Second

// Scheduler is the per-agent runtime cron registry (spec §4.7): an
// in-memory name→job map kept in lockstep with the persisted scheduled_jobs
// table via Register/Update/Delete's two-phase commit-with-rollback.
type Scheduler struct {
	agentName string
	store     *store.Store
	reentry   ReentryFunc
	gron      gronx.Gronx

	mu        sync.Mutex
	jobs      map[string]job
	lastFired map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler for one agent. Call LoadAll once at boot to
// re-register persisted jobs, then Start to begin polling.
func New(agentName string, st *store.Store, reentry ReentryFunc) *Scheduler {
	return &Scheduler{
		agentName: agentName,
		store:     st,
		reentry:   reentry,
		gron:      gronx.New(),
		jobs:      make(map[string]job),
		lastFired: make(map[string]time.Time),
	}
}

// Register validates the cron expression against the runtime first (spec
// §4.7 step a: "validate ... by registering with the runtime first"); an
// invalid expression never touches persistence (invariant 12).
func (s *Scheduler) Register(ctx context.Context, name, cronExpr, prompt, source string) error {
	if !s.gron.IsValid(cronExpr) {
		return moxxyerr.Validationf("scheduler: invalid cron expression %q", cronExpr)
	}

	s.mu.Lock()
	s.jobs[name] = job{cron: cronExpr, prompt: prompt, source: source}
	s.mu.Unlock()

	if err := s.store.InsertScheduledJob(ctx, store.ScheduledJob{
		Name: name, Cron: cronExpr, Prompt: prompt, Source: source,
	}); err != nil {
		// Persistence failed: unregister from the runtime (spec §4.7 rollback).
		s.mu.Lock()
		delete(s.jobs, name)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Update re-validates and replaces an existing job's cron/prompt. Like
// Register, an invalid expression is rejected before anything is touched.
func (s *Scheduler) Update(ctx context.Context, name, cronExpr, prompt, source string) error {
	if !s.gron.IsValid(cronExpr) {
		return moxxyerr.Validationf("scheduler: invalid cron expression %q", cronExpr)
	}

	s.mu.Lock()
	previous, existed := s.jobs[name]
	s.jobs[name] = job{cron: cronExpr, prompt: prompt, source: source}
	s.mu.Unlock()

	if err := s.store.UpdateScheduledJob(ctx, store.ScheduledJob{
		Name: name, Cron: cronExpr, Prompt: prompt, Source: source,
	}); err != nil {
		s.mu.Lock()
		if existed {
			s.jobs[name] = previous
		} else {
			delete(s.jobs, name)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Delete removes a job from persistence and from the runtime map. A
// runtime-side removal can't actually fail (it's just a map delete), so
// this only ever surfaces a persistence error; scenario E6 and invariant 13
// are about the inverse direction (Register's rollback), not this one.
func (s *Scheduler) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteScheduledJob(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
	return nil
}

// LoadAll re-registers every persisted job into the runtime map (spec §4.8
// supervisor boot step 7). Does not touch persistence.
func (s *Scheduler) LoadAll(ctx context.Context) error {
	persisted, err := s.store.ListScheduledJobs(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range persisted {
		s.jobs[j.Name] = job{cron: j.Cron, prompt: j.Prompt, source: j.Source}
	}
	return nil
}

// ActiveCount reports how many jobs are currently registered in the
// runtime, used by the heartbeat's ActiveSchedules field.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start begins polling for due jobs every checkInterval until ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.fireDue(ctx, now)
			}
		}
	}()
}

// Stop halts the polling goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) fireDue(ctx context.Context, at time.Time) {
	minute := at.Truncate(time.Minute)

	s.mu.Lock()
	due := make(map[string]job, len(s.jobs))
	for name, j := range s.jobs {
		if s.lastFired[name].Equal(minute) {
			continue // already fired this minute; checkInterval polls faster than cron granularity
		}
		ok, err := s.gron.IsDue(j.cron, at)
		if err == nil && ok {
			due[name] = j
			s.lastFired[name] = minute
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if s.reentry != nil {
			s.reentry(ctx, j.prompt, j.source)
		}
	}
}
