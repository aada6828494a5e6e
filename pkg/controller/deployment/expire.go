package deployment

import (
	"context"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
)

// expireTick is one pass of the expire loop (spec §4.6): find rows past
// expires_at and mark them Terminating(Expired); the terminate loop does
// the actual backend cleanup on the next tick.
func (c *Controller) expireTick(ctx context.Context) {
	rows, err := c.deployments.FindExpired(ctx, findExpiredLimit)
	if err != nil {
		c.log.Error(err, "listing expired deployments")
		return
	}
	for _, d := range rows {
		logMarkErr(c.log, "expire", d, c.deployments.MarkTerminating(ctx, d.ID, apideployment.ReasonExpired))
		c.recomputeProjectStatus(ctx, d.ProjectID)
	}
}
