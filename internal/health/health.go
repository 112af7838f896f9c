// Package health probes the assistant backend on a cron schedule and keeps
// the most recent result for the API and CLI.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/logging"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Checker is the part of the assistant client the prober needs.
type Checker interface {
	Health(ctx context.Context) (assistant.HealthStatus, error)
}

// Result is the outcome of one probe.
type Result struct {
	Status    assistant.HealthStatus `json:"status"`
	Healthy   bool                   `json:"healthy"`
	Error     string                 `json:"error,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Prober runs health checks against the backend.
type Prober struct {
	checker  Checker
	schedule cron.Schedule
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu   sync.RWMutex
	last Result
	seen bool
}

// ProberOpts holds parameters for creating a Prober.
type ProberOpts struct {
	Checker Checker
	// Schedule is a 5-field cron expression. Empty disables Run.
	Schedule string
	// Timeout bounds each probe. Defaults to 10s.
	Timeout time.Duration
	Clock   func() time.Time
	Logger  *zap.Logger
}

// NewProber creates a Prober.
func NewProber(opts ProberOpts) (*Prober, error) {
	if opts.Checker == nil {
		return nil, fmt.Errorf("health: checker is required")
	}
	p := &Prober{
		checker: opts.Checker,
		timeout: opts.Timeout,
		now:     opts.Clock,
		log:     logging.OrNop(opts.Logger),
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.Schedule != "" {
		sched, err := cronParser.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("health: parse schedule %q: %w", opts.Schedule, err)
		}
		p.schedule = sched
	}
	return p, nil
}

// Check probes the backend once and records the result.
func (p *Prober) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status, err := p.checker.Health(ctx)
	res := Result{Status: status, CheckedAt: p.now()}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Healthy = status.Status == "healthy" || status.Status == "ok"
		if !res.Healthy {
			res.Error = fmt.Sprintf("backend reported status %q", status.Status)
		}
	}

	p.mu.Lock()
	prev, seen := p.last, p.seen
	p.last, p.seen = res, true
	p.mu.Unlock()

	switch {
	case !res.Healthy && (!seen || prev.Healthy):
		p.log.Warn("assistant backend unhealthy", zap.String("error", res.Error))
	case res.Healthy && seen && !prev.Healthy:
		p.log.Info("assistant backend recovered", zap.String("version", status.Version))
	default:
		p.log.Debug("assistant backend probed", zap.Bool("healthy", res.Healthy))
	}
	return res
}

// Last returns the most recent result and whether any probe has run.
func (p *Prober) Last() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.seen
}

// Next returns when the schedule fires after t. The zero time means
// probing is disabled.
func (p *Prober) Next(t time.Time) time.Time {
	if p.schedule == nil {
		return time.Time{}
	}
	return p.schedule.Next(t)
}

// Run probes once immediately and then on every schedule tick until ctx is
// cancelled. It returns immediately when no schedule is configured.
func (p *Prober) Run(ctx context.Context) error {
	if p.schedule == nil {
		return nil
	}
	p.Check(ctx)

	timer := time.NewTimer(p.untilNext())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			p.Check(ctx)
			timer.Reset(p.untilNext())
		}
	}
}

func (p *Prober) untilNext() time.Duration {
	now := p.now()
	d := p.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
