package deployment

import (
	"context"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// healthTick is one pass of the health loop (spec §4.6): probe every
// Healthy and Unhealthy deployment, flipping status on a transition.
// Unhealthy deployments are never timed out to Failed — they persist until
// the backend reports them healthy again or a user explicitly terminates.
func (c *Controller) healthTick(ctx context.Context) {
	for _, status := range []statemachine.Status{statemachine.Healthy, statemachine.Unhealthy} {
		rows, err := c.deployments.FindByStatus(ctx, status)
		if err != nil {
			c.log.Error(err, "listing deployments for health check", "status", status)
			continue
		}
		for _, d := range rows {
			c.healthCheckOne(ctx, d)
		}
	}
}

func (c *Controller) healthCheckOne(ctx context.Context, d *apideployment.Deployment) {
	result, err := c.backend.HealthCheck(ctx, d)
	if err != nil {
		c.log.Error(err, "backend health check failed", "deployment", d.ID)
		return
	}
	switch {
	case d.Status == statemachine.Healthy && !result.Healthy:
		logMarkErr(c.log, "mark-unhealthy", d, c.deployments.MarkUnhealthy(ctx, d.ID, result.Message))
		c.recomputeProjectStatus(ctx, d.ProjectID)
	case d.Status == statemachine.Unhealthy && result.Healthy:
		logMarkErr(c.log, "mark-healthy", d, c.deployments.MarkHealthy(ctx, d.ID))
		c.recomputeProjectStatus(ctx, d.ProjectID)
	}
}
