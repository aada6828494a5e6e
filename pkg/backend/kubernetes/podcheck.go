package kubernetes

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/risedev/deployctl/pkg/deployerr"
)

var irrecoverableWaitingReasons = map[string]bool{
	"InvalidImageName":            true,
	"ErrImagePull":                 true,
	"ImageInspectError":            true,
	"CrashLoopBackOff":             true,
	"CreateContainerConfigError":   true,
	"CreateContainerError":         true,
	"RunContainerError":            true,
}

const minRestartsForTerminatedFailure = 3

// checkPodErrors scans pods matching the deployment-id label and reports the
// first irrecoverable error found (spec §4.5's check_pod_errors).
func (b *Backend) checkPodErrors(ctx context.Context, namespace, deploymentID string) (bool, string, error) {
	pods, err := b.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelDeploymentID + "=" + sanitizeLabel(deploymentID),
	})
	if err != nil {
		return false, "", deployerr.Wrap(deployerr.KindTransientBackend, "listing pods", err)
	}
	for _, pod := range pods.Items {
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil && irrecoverableWaitingReasons[cs.State.Waiting.Reason] {
				return true, fmt.Sprintf("%s: %s", cs.State.Waiting.Reason, cs.State.Waiting.Message), nil
			}
			if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 && cs.RestartCount >= minRestartsForTerminatedFailure {
				return true, fmt.Sprintf("container terminated with exit code %d after %d restarts: %s",
					cs.State.Terminated.ExitCode, cs.RestartCount, cs.State.Terminated.Reason), nil
			}
		}
	}
	return false, "", nil
}
