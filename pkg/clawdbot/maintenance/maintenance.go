// Package maintenance runs the periodic credential upkeep of a gateway
// process: syncing external CLI credentials into the store and refreshing
// OAuth profiles shortly before they expire, so request paths rarely pay for
// a refresh.
package maintenance

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/clawdbot/pkg/clawdbot/authprofiles"
	"github.com/jholhewres/clawdbot/pkg/clawdbot/config"
)

// ProfileManager is the subset of authprofiles.Manager the job needs.
type ProfileManager interface {
	EnsureStore(agentDir string) *authprofiles.Store
	RefreshIfExpiring(ctx context.Context, profileID, agentDir string, within time.Duration) (bool, error)
}

// Result summarizes one run.
type Result struct {
	Checked   int
	Refreshed int
	Failed    int
	Skipped   bool
}

// Runner schedules maintenance runs with cron.
type Runner struct {
	manager  ProfileManager
	agentDir string
	schedule string
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cron        *cron.Cron
	running     atomic.Bool
	cancel      context.CancelFunc
	initial     sync.WaitGroup
	stopTimeout time.Duration
}

// New creates a Runner for the agent directory.
func New(cfg config.MaintenanceConfig, manager ProfileManager, agentDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	window := cfg.RefreshWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Runner{
		manager:  manager,
		agentDir: agentDir,
		schedule: schedule,
		window:   window,
		logger:   logger.With("component", "maintenance"),
		now:      time.Now,

		stopTimeout: 10 * time.Second,
	}
}

// Start registers the job and starts the cron scheduler. A first run happens
// immediately.
func (r *Runner) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		r.cancel()
		return err
	}
	r.cron.Start()
	r.logger.Info("maintenance started", "schedule", r.schedule, "refresh_window", r.window.String())

	r.initial.Add(1)
	go func() {
		defer r.initial.Done()
		r.RunOnce(ctx)
	}()
	return nil
}

// Stop stops the scheduler and waits, up to a timeout, for the immediate
// first run and any scheduled run still in progress.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron == nil {
		return
	}
	cronDone := r.cron.Stop()
	finished := make(chan struct{})
	go func() {
		r.initial.Wait()
		<-cronDone.Done()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(r.stopTimeout):
		r.logger.Warn("maintenance stop timed out")
	}
	r.logger.Info("maintenance stopped")
}

// RunOnce loads the store and refreshes every oauth profile expiring within
// the refresh window. Overlapping runs are skipped.
func (r *Runner) RunOnce(ctx context.Context) Result {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("maintenance run already in progress")
		return Result{Skipped: true}
	}
	defer r.running.Store(false)

	store := r.manager.EnsureStore(r.agentDir)
	deadline := r.now().Add(r.window).UnixMilli()

	ids := make([]string, 0, len(store.Profiles))
	for id, cred := range store.Profiles {
		if cred.Type == authprofiles.TypeOAuth && cred.Refresh != "" && cred.Expires <= deadline {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var res Result
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		refreshed, err := r.manager.RefreshIfExpiring(ctx, id, r.agentDir, r.window)
		switch {
		case err != nil:
			res.Failed++
			r.logger.Warn("proactive refresh failed", "profile_id", id, "error", err)
		case refreshed:
			res.Refreshed++
		}
	}
	if res.Checked > 0 {
		r.logger.Info("maintenance run finished",
			"checked", res.Checked, "refreshed", res.Refreshed, "failed", res.Failed)
	}
	return res
}
