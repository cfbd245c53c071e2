package authz

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"tillgate.dev/internal/obs"
)

// Janitor runs the periodic maintenance the core needs: purging stale
// rate-limit entries and bulk-deleting expired sessions. Neither sweep is a
// correctness requirement; both are memory and table hygiene.
type Janitor struct {
	svc  *Service
	cron *cron.Cron
}

// NewJanitor wires maintenance jobs for the service.
func NewJanitor(svc *Service) *Janitor {
	return &Janitor{svc: svc, cron: cron.New()}
}

// Start schedules the sweeps and launches the scheduler goroutine.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@every 5m", j.sweepRateLimiter); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc("@every 1h", j.cleanupSessions); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweepRateLimiter() {
	if removed := j.svc.RateLimiter().Sweep(); removed > 0 {
		obs.LogEvent(map[string]any{
			"level": "info", "msg": "rate limiter sweep",
			"removed": removed,
		})
	}
}

func (j *Janitor) cleanupSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := j.svc.Sessions().CleanupExpired(ctx)
	if err != nil {
		obs.LogEvent(map[string]any{
			"level": "error", "msg": "session cleanup failed",
			"error": err.Error(),
		})
		return
	}
	if removed > 0 {
		obs.AddSessionsPurged(removed)
		obs.LogEvent(map[string]any{
			"level": "info", "msg": "expired sessions purged",
			"removed": removed,
		})
	}
}
