// Package deployment implements the deployment orchestrator (spec §4.6):
// five independent ticking loops over a shared backend, following the
// teacher's "long-running task with ticker and cancellation token" shape
// (kwok/operator composition, and the ticker-plus-select idiom shown in the
// pack's own deployment-engine reference file) generalized from a single
// loop into five, supervised by golang.org/x/sync/errgroup.
package deployment

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/config"
	"github.com/risedev/deployctl/pkg/metrics"
	"github.com/risedev/deployctl/pkg/statemachine"
	projectstore "github.com/risedev/deployctl/pkg/store/project"

	depstore "github.com/risedev/deployctl/pkg/store/deployment"
)

// stuckBuildAge is the sweep threshold for rows parked in a pre-Pushed
// status (spec §4.6's stuck-in-build sweep).
const stuckBuildAge = 10 * time.Minute

// deployingTimeout is the 5-minute timeout on the Deploying status
// (spec §5).
const deployingTimeout = 5 * time.Minute

// findLimit bounds the reconcile loop's find_non_terminal query (spec §4.6).
const findLimit = 200

// findExpiredLimit bounds the expire loop's find_expired query.
const findExpiredLimit = 50

// Controller owns the five loops that drive deployments to completion
// (spec §4.6). A single instance is expected to run at a time (spec §5,
// §9's "single-writer assumption" — no leader election is implemented).
type Controller struct {
	deployments depstore.Store
	projects    projectstore.Store
	backend     backend.Backend
	intervals   config.Intervals
	log         logr.Logger
}

func New(deployments depstore.Store, projects projectstore.Store, b backend.Backend, intervals config.Intervals, log logr.Logger) *Controller {
	return &Controller{deployments: deployments, projects: projects, backend: b, intervals: intervals, log: log.WithName("deployment-controller")}
}

// Run starts all five loops and blocks until ctx is cancelled or one loop
// returns a fatal error. Per spec §7, loops never crash on backend/store
// errors — they log and continue — so in practice Run only returns once ctx
// is done.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runLoop(ctx, "reconcile", c.intervals.Reconcile, c.reconcileTick) })
	g.Go(func() error { return c.runLoop(ctx, "health", c.intervals.HealthCheck, c.healthTick) })
	g.Go(func() error { return c.runLoop(ctx, "terminate", c.intervals.Termination, c.terminateTick) })
	g.Go(func() error { return c.runLoop(ctx, "cancel", c.intervals.Cancellation, c.cancelTick) })
	g.Go(func() error { return c.runLoop(ctx, "expire", c.intervals.Expiration, c.expireTick) })
	return g.Wait()
}

// runLoop is the shared ticker-plus-cancellation-token shape every loop
// below follows.
func (c *Controller) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			tick(ctx)
			metrics.LoopDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

// recomputeProjectStatus is called after every deployment mutation (spec
// §4.6's closing instruction). Failure is logged, never propagated: project
// status is a derived convenience field, not a source of truth.
func (c *Controller) recomputeProjectStatus(ctx context.Context, projectID uuid.UUID) {
	p, err := c.projects.Get(ctx, projectID)
	if err != nil {
		c.log.Error(err, "loading project for status recompute", "project", projectID)
		return
	}
	if p.Status == apiproject.StatusDeleting || p.Status == apiproject.StatusTerminated {
		return
	}
	active, err := c.deployments.FindActiveForProjectAndGroup(ctx, projectID, "default")
	if err != nil {
		c.log.Error(err, "finding active default-group deployment", "project", projectID)
		return
	}
	last, err := c.deployments.FindLastForProjectAndGroup(ctx, projectID, "default")
	if err != nil {
		c.log.Error(err, "finding last default-group deployment", "project", projectID)
		return
	}
	var activeStatus, lastStatus *statemachine.Status
	if active != nil {
		s := active.Status
		activeStatus = &s
	}
	if last != nil {
		s := last.Status
		lastStatus = &s
	}
	derived := apiproject.DeriveStatus(activeStatus, lastStatus)
	if derived == p.Status {
		return
	}
	if err := c.projects.UpdateCalculatedStatus(ctx, projectID, derived); err != nil {
		c.log.Error(err, "updating calculated project status", "project", projectID)
	}
}

func logMarkErr(log logr.Logger, action string, d *apideployment.Deployment, err error) {
	if err != nil {
		log.Error(err, "marking deployment status failed, likely concurrent transition", "action", action, "deployment", d.ID)
	}
}
