package project

import "github.com/risedev/deployctl/pkg/statemachine"

// DeriveStatus recomputes a project's status from the default group's active
// and last deployment statuses (spec §4.7). It must not be called for a
// project already Deleting or Terminated — the orchestrator checks that
// before calling, and the store refuses to overwrite those sentinels anyway.
func DeriveStatus(activeStatus *statemachine.Status, lastStatus *statemachine.Status) Status {
	if activeStatus != nil {
		switch *activeStatus {
		case statemachine.Healthy:
			return StatusRunning
		case statemachine.Unhealthy:
			return StatusFailed
		case statemachine.Terminating, statemachine.Cancelling:
			return StatusDeploying
		case statemachine.Pending, statemachine.Building, statemachine.Pushing,
			statemachine.Pushed, statemachine.Deploying:
			return StatusDeploying
		default:
			return StatusStopped
		}
	}
	if lastStatus == nil {
		return StatusStopped
	}
	switch *lastStatus {
	case statemachine.Pending, statemachine.Building, statemachine.Pushing,
		statemachine.Pushed, statemachine.Deploying, statemachine.Cancelling, statemachine.Terminating:
		return StatusDeploying
	default:
		return StatusStopped
	}
}
