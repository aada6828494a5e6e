// Package project implements the project deletion controller (spec §4.8):
// a single ticking loop, in the same ticker-plus-select shape as
// pkg/controller/deployment, that drains a Deleting project's deployments,
// waits for its finalizers and extension rows to clear, then transitions it
// to Terminated and physically deletes the row.
package project

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/metrics"
	"github.com/risedev/deployctl/pkg/statemachine"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

type Controller struct {
	projects    projectstore.Store
	deployments depstore.Store
	extensions  projectstore.ExtensionCounter
	interval    time.Duration
	log         logr.Logger
}

func New(projects projectstore.Store, deployments depstore.Store, extensions projectstore.ExtensionCounter, interval time.Duration, log logr.Logger) *Controller {
	return &Controller{
		projects:    projects,
		deployments: deployments,
		extensions:  extensions,
		interval:    interval,
		log:         log.WithName("project-deletion-controller"),
	}
}

func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			c.tick(ctx)
			metrics.LoopDuration.WithLabelValues("project-deletion").Observe(time.Since(start).Seconds())
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	rows, err := c.projects.FindByStatus(ctx, apiproject.StatusDeleting)
	if err != nil {
		c.log.Error(err, "listing deleting projects")
		return
	}
	for _, p := range rows {
		c.stepOne(ctx, p)
	}
}

// stepOne performs the spec's 5-step per-project drain. A tick that finds
// non-terminal deployments marks them and returns; otherwise the finalizer,
// extension, and terminate-and-delete steps run in that same tick, each
// returning early if its gate is not clear. Draining deployments is
// idempotent (an already Cancelling/Terminating row is simply skipped), so
// repeated ticks never double-issue cancel/terminate requests.
func (c *Controller) stepOne(ctx context.Context, p *apiproject.Project) {
	// FindNonTerminal is project-wide and group-agnostic: a project may run
	// deployments across several groups, and all of them gate deletion.
	all, err := c.deployments.FindNonTerminal(ctx, 0)
	if err != nil {
		c.log.Error(err, "listing non-terminal deployments", "project", p.ID)
		return
	}
	var projectRows []*apideployment.Deployment
	for _, d := range all {
		if d.ProjectID == p.ID {
			projectRows = append(projectRows, d)
		}
	}

	if len(projectRows) > 0 {
		for _, d := range projectRows {
			if d.Status == statemachine.Cancelling || d.Status == statemachine.Terminating {
				continue
			}
			if statemachine.IsPreInfrastructure(d.Status) {
				if err := c.deployments.MarkCancelling(ctx, d.ID); err != nil {
					c.log.Error(err, "marking deployment cancelling for project deletion", "deployment", d.ID)
				}
				continue
			}
			if err := c.deployments.MarkTerminating(ctx, d.ID, apideployment.ReasonUserStopped); err != nil {
				c.log.Error(err, "marking deployment terminating for project deletion", "deployment", d.ID)
			}
		}
		return // step 2: non-terminal deployments remain, wait for the next tick
	}

	if len(p.Finalizers) > 0 {
		return // step 3: owning controllers (registry, namespace) still hold finalizers
	}

	extCount, err := c.extensions.CountActiveExtensions(ctx, p.ID)
	if err != nil {
		c.log.Error(err, "counting active extensions", "project", p.ID)
		return
	}
	if extCount > 0 {
		return // step 4
	}

	if err := c.projects.MarkTerminated(ctx, p.ID); err != nil {
		c.log.Error(err, "marking project terminated", "project", p.ID)
		return
	}
	if err := c.projects.Delete(ctx, p.ID); err != nil {
		c.log.Error(err, "deleting terminated project", "project", p.ID)
	}
}
