package deployment

import (
	"context"
	"time"

	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/metrics"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// reconcileTick is one pass of the reconcile loop (spec §4.6): the
// stuck-in-build sweep, then one backend.reconcile call per non-terminal
// deployment, persisting status/metadata/URL/error and running the
// activation protocol on transition to Healthy.
func (c *Controller) reconcileTick(ctx context.Context) {
	rows, err := c.deployments.FindNonTerminal(ctx, findLimit)
	if err != nil {
		c.log.Error(err, "listing non-terminal deployments")
		return
	}
	for _, d := range rows {
		c.reconcileOne(ctx, d)
	}
}

func (c *Controller) reconcileOne(ctx context.Context, d *apideployment.Deployment) {
	if d.Status == statemachine.Terminating || d.Status == statemachine.Cancelling {
		return
	}

	if d.Status == statemachine.Deploying && time.Since(d.UpdatedAt) > deployingTimeout {
		if err := c.deployments.MarkTerminating(ctx, d.ID, apideployment.ReasonFailed); err != nil {
			c.log.Error(err, "marking timed-out deployment terminating", "deployment", d.ID)
		}
		c.recomputeProjectStatus(ctx, d.ProjectID)
		return
	}
	if isStuckPreBuild(d.Status) && time.Since(d.UpdatedAt) > stuckBuildAge {
		if err := c.deployments.MarkFailed(ctx, d.ID, "client interrupted"); err != nil {
			c.log.Error(err, "marking stuck build failed", "deployment", d.ID)
		}
		c.recomputeProjectStatus(ctx, d.ProjectID)
		return
	}

	p, err := c.projects.Get(ctx, d.ProjectID)
	if err != nil {
		c.log.Error(err, "loading project for reconcile", "deployment", d.ID)
		return
	}

	result, err := c.backend.Reconcile(ctx, d, p)
	if err != nil {
		c.log.Error(err, "backend reconcile failed", "deployment", d.ID)
		return
	}
	metrics.ReconcileTotal.WithLabelValues(string(result.Status)).Inc()

	if err := c.deployments.UpdateControllerMetadata(ctx, d.ID, result.ControllerMetadata); err != nil {
		c.log.Error(err, "persisting controller metadata", "deployment", d.ID)
	}
	if result.DeploymentURL != "" {
		if err := c.deployments.UpdateDeploymentURL(ctx, d.ID, result.DeploymentURL); err != nil {
			c.log.Error(err, "persisting deployment URL", "deployment", d.ID)
		}
	}

	becameHealthy := result.Status == statemachine.Healthy && d.Status != statemachine.Healthy
	switch {
	case result.Status == statemachine.Failed:
		logMarkErr(c.log, "mark-failed", d, c.deployments.MarkFailed(ctx, d.ID, result.ErrorMessage))
	case result.Status != d.Status:
		logMarkErr(c.log, "update-status", d, c.deployments.UpdateStatus(ctx, d.ID, result.Status))
	}

	if becameHealthy {
		c.runActivationProtocol(ctx, d)
	}
	c.recomputeProjectStatus(ctx, d.ProjectID)
}

func isStuckPreBuild(s statemachine.Status) bool {
	switch s {
	case statemachine.Pending, statemachine.Building, statemachine.Pushing:
		return true
	default:
		return false
	}
}

// runActivationProtocol implements spec §4.6's activation protocol,
// executed once a deployment transitions to Healthy. MarkAsActive itself
// returns the previously active row, read in the same atomic step that
// clears its flag and excluding d, so no separate lookup is made first.
func (c *Controller) runActivationProtocol(ctx context.Context, d *apideployment.Deployment) {
	group := d.NormalizedGroup()
	previouslyActive, err := c.deployments.MarkAsActive(ctx, d.ID, d.ProjectID, group)
	if err != nil {
		c.log.Error(err, "marking deployment active", "deployment", d.ID)
		return
	}
	metrics.ActivationsTotal.Inc()

	if previouslyActive != nil && previouslyActive.ID != d.ID && !statemachine.IsTerminal(previouslyActive.Status) {
		logMarkErr(c.log, "supersede-previous-active", previouslyActive,
			c.deployments.MarkTerminating(ctx, previouslyActive.ID, apideployment.ReasonSuperseded))
	}

	c.supersedeStrayActiveDeployments(ctx, d.ProjectID, group, d.ID)

	if group == "default" {
		if err := c.projects.SetActiveDeployment(ctx, d.ProjectID, uuidPtr(d.ID), d.DeploymentURL); err != nil {
			c.log.Error(err, "updating project active deployment convenience fields", "project", d.ProjectID)
		}
	}
}

// supersedeStrayActiveDeployments is step 4 of the activation protocol: any
// other deployment in the group that is still Healthy|Unhealthy (and
// therefore wasn't caught by MarkAsActive's single is_active flip) gets
// marked Terminating(Superseded) too. Deployments still in a pre-Healthy
// status are left alone per spec §4.6.
func (c *Controller) supersedeStrayActiveDeployments(ctx context.Context, projectID uuid.UUID, group string, keep uuid.UUID) {
	rows, err := c.deployments.FindNonTerminalForProjectAndGroup(ctx, projectID, group)
	if err != nil {
		c.log.Error(err, "listing group deployments for activation sweep", "project", projectID, "group", group)
		return
	}
	for _, d := range rows {
		if d.ID == keep || !statemachine.IsActive(d.Status) {
			continue
		}
		logMarkErr(c.log, "sweep-supersede", d, c.deployments.MarkTerminating(ctx, d.ID, apideployment.ReasonSuperseded))
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
