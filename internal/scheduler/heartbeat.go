package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moxxy-run/moxxy/internal/llm"
	"github.com/moxxy-run/moxxy/internal/skills"
)

// heartbeatFirstFireDelay and heartbeatInterval ground SPEC_FULL.md's
// self-check heartbeat: first check ~5s after boot, then every 30 minutes.
const (
	heartbeatFirstFireDelay = 5 * time.Second
	heartbeatInterval       = 30 * time.Minute
)

// HeartbeatReport is one self-check result.
type HeartbeatReport struct {
	PersonaLoaded   bool
	LLMReachable    bool
	LLMLatencyMS    int64
	SkillCount      int
	DBReachable     bool
	ActiveSchedules int
	CheckedAt       time.Time
}

// Heartbeat periodically self-checks an agent's health and logs the result.
// Grounded on the teacher's structured-logging convention (slog with
// key/value pairs), generalized from per-request logging to a periodic
// background report.
type Heartbeat struct {
	AgentName string
	Workspace string
	Store     interface{ Ping() error }
	Gateway   *llm.Gateway
	Catalog   *skills.Catalog
	Scheduler *Scheduler

	mu     sync.Mutex
	last   HeartbeatReport
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the background self-check loop. The first check fires
// after heartbeatFirstFireDelay, then every heartbeatInterval, until ctx is
// canceled or Stop is called.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		timer := time.NewTimer(heartbeatFirstFireDelay)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				h.check(ctx)
				timer.Reset(heartbeatInterval)
			}
		}
	}()
}

// Stop halts the self-check loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Last returns the most recently completed report, or the zero value if
// none has run yet.
func (h *Heartbeat) Last() HeartbeatReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Heartbeat) check(ctx context.Context) {
	report := HeartbeatReport{CheckedAt: time.Now().UTC()}

	if data, err := os.ReadFile(filepath.Join(h.Workspace, "persona.md")); err == nil && len(data) > 0 {
		report.PersonaLoaded = true
	}

	if h.Store != nil {
		report.DBReachable = h.Store.Ping() == nil
	}

	if h.Catalog != nil {
		report.SkillCount = len(h.Catalog.Names())
	}

	if h.Scheduler != nil {
		report.ActiveSchedules = h.Scheduler.ActiveCount()
	}

	if h.Gateway != nil {
		start := time.Now()
		_, err := h.Gateway.GenerateActive(ctx, []llm.Message{{Role: "user", Content: "ping"}})
		report.LLMLatencyMS = time.Since(start).Milliseconds()
		report.LLMReachable = err == nil
	}

	h.mu.Lock()
	h.last = report
	h.mu.Unlock()

	slog.Info("agent.heartbeat",
		"agent", h.AgentName,
		"persona_loaded", report.PersonaLoaded,
		"llm_reachable", report.LLMReachable,
		"llm_latency_ms", report.LLMLatencyMS,
		"skill_count", report.SkillCount,
		"db_reachable", report.DBReachable,
		"active_schedules", report.ActiveSchedules,
	)
}
