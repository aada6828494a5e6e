package deployment

import (
	"context"

	"github.com/risedev/deployctl/pkg/statemachine"
)

// cancelTick is one pass of the cancel loop (spec §4.6): call backend.cancel
// on every Cancelling deployment, then mark it Cancelled.
func (c *Controller) cancelTick(ctx context.Context) {
	rows, err := c.deployments.FindByStatus(ctx, statemachine.Cancelling)
	if err != nil {
		c.log.Error(err, "listing cancelling deployments")
		return
	}
	for _, d := range rows {
		if err := c.backend.Cancel(ctx, d); err != nil {
			c.log.Error(err, "backend cancel failed", "deployment", d.ID)
			continue
		}
		logMarkErr(c.log, "cancel", d, c.deployments.MarkCancelled(ctx, d.ID))
		c.recomputeProjectStatus(ctx, d.ProjectID)
	}
}
