package deployment

import (
	"context"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// terminateTick is one pass of the terminate loop (spec §4.6): call
// backend.terminate on every Terminating deployment, then mark the terminal
// status its termination_reason indicates.
func (c *Controller) terminateTick(ctx context.Context) {
	rows, err := c.deployments.FindByStatus(ctx, statemachine.Terminating)
	if err != nil {
		c.log.Error(err, "listing terminating deployments")
		return
	}
	for _, d := range rows {
		c.terminateOne(ctx, d)
	}
}

func (c *Controller) terminateOne(ctx context.Context, d *apideployment.Deployment) {
	if err := c.backend.Terminate(ctx, d); err != nil {
		c.log.Error(err, "backend terminate failed", "deployment", d.ID)
		return
	}
	switch d.TerminationReason.TerminalStatus() {
	case statemachine.Failed:
		logMarkErr(c.log, "terminate-failed", d, c.deployments.MarkFailed(ctx, d.ID, "terminated"))
	case statemachine.Superseded:
		logMarkErr(c.log, "terminate-superseded", d, c.deployments.MarkSuperseded(ctx, d.ID))
	case statemachine.Expired:
		logMarkErr(c.log, "terminate-expired", d, c.deployments.MarkExpired(ctx, d.ID))
	default:
		logMarkErr(c.log, "terminate-stopped", d, c.deployments.MarkStopped(ctx, d.ID))
	}
	c.recomputeProjectStatus(ctx, d.ProjectID)
}
