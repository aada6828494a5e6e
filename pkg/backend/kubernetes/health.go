package kubernetes

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/deployerr"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// reconcileWaitingForReplicaSet runs check_pod_errors first; on an
// irrecoverable pod error it returns status=Failed immediately. Otherwise it
// waits for ready_replicas >= spec_replicas before advancing (spec §4.5
// phase 5).
func (b *Backend) reconcileWaitingForReplicaSet(ctx context.Context, meta *Metadata) (backend.ReconcileResult, bool, error) {
	failed, message, err := b.checkPodErrors(ctx, meta.Namespace, meta.DeploymentID)
	if err != nil {
		return backend.ReconcileResult{}, false, err
	}
	if failed {
		return backend.ReconcileResult{Status: statemachine.Failed, ErrorMessage: message}, false, nil
	}
	rs, err := b.client.AppsV1().ReplicaSets(meta.Namespace).Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
	if err != nil {
		return backend.ReconcileResult{}, false, deployerr.Wrap(deployerr.KindTransientBackend, "getting replicaset", err)
	}
	specReplicas := int32(1)
	if rs.Spec.Replicas != nil {
		specReplicas = *rs.Spec.Replicas
	}
	if rs.Status.ReadyReplicas < specReplicas {
		return backend.ReconcileResult{Status: statemachine.Deploying}, false, nil
	}
	meta.ReconcilePhase = PhaseUpdatingIngress
	return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil
}

func (b *Backend) reconcileWaitingForHealth(ctx context.Context, meta *Metadata) (backend.ReconcileResult, bool, error) {
	healthy, message, err := b.checkHealth(ctx, *meta)
	if err != nil {
		return backend.ReconcileResult{}, false, err
	}
	if !healthy {
		return backend.ReconcileResult{Status: statemachine.Deploying, ErrorMessage: message}, false, nil
	}
	meta.ReconcilePhase = PhaseSwitchingTraffic
	return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil
}

// reconcileDriftScan is the Completed phase: re-apply Service and Ingress,
// re-check the ReplicaSet for drift or absence (spec §4.5 phase 9).
func (b *Backend) reconcileDriftScan(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta *Metadata) (backend.ReconcileResult, bool, error) {
	if err := b.reconcileService(ctx, d, p, meta, true); err != nil {
		return backend.ReconcileResult{}, false, err
	}
	if err := b.reconcileIngress(ctx, d, p, meta); err != nil {
		return backend.ReconcileResult{}, false, err
	}
	desired := b.desiredReplicaSet(d, p, meta)
	existing, err := b.client.AppsV1().ReplicaSets(meta.Namespace).Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		meta.ReconcilePhase = PhaseCreatingReplicaSet
		return backend.ReconcileResult{Status: statemachine.Healthy}, false, nil
	}
	if err != nil {
		return backend.ReconcileResult{}, false, deployerr.Wrap(deployerr.KindTransientBackend, "getting replicaset during drift scan", err)
	}
	if replicaSetDrifted(existing, desired) {
		if err := b.reconcileReplicaSet(ctx, d, p, meta); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseWaitingForReplicaSet
		return backend.ReconcileResult{Status: statemachine.Healthy}, false, nil
	}
	return backend.ReconcileResult{Status: statemachine.Healthy}, false, nil
}

// checkHealth is the two-step, errors-as-unhealthy health check (spec §4.5):
// pod errors first, then ReplicaSet readiness; a missing ReplicaSet or
// namespace is unhealthy, never an error.
func (b *Backend) checkHealth(ctx context.Context, meta Metadata) (healthy bool, message string, err error) {
	failed, reason, err := b.checkPodErrors(ctx, meta.Namespace, meta.DeploymentID)
	if err != nil {
		if isNamespaceGone(err) {
			return false, "namespace missing", nil
		}
		return false, "", err
	}
	if failed {
		return false, reason, nil
	}
	rs, err := b.client.AppsV1().ReplicaSets(meta.Namespace).Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, "replicaset missing", nil
	}
	if err != nil {
		if isNamespaceGone(err) {
			return false, "namespace missing", nil
		}
		return false, "", deployerr.Wrap(deployerr.KindTransientBackend, "getting replicaset for health check", err)
	}
	specReplicas := int32(1)
	if rs.Spec.Replicas != nil {
		specReplicas = *rs.Spec.Replicas
	}
	return rs.Status.ReadyReplicas >= specReplicas, "", nil
}

// recoverUnhealthy resets the phase to CreatingReplicaSet when entering a
// post-reconcile phase in status Unhealthy and the ReplicaSet is absent
// (spec §4.5's Unhealthy recovery), or to CreatingNamespace when the
// namespace itself is gone (spec §4.5's namespace-missing recovery).
func (b *Backend) recoverUnhealthy(ctx context.Context, meta Metadata) (Metadata, error) {
	_, err := b.client.CoreV1().Namespaces().Get(ctx, meta.Namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		meta.ReconcilePhase = PhaseCreatingNamespace
		return meta, nil
	}
	if err != nil {
		return meta, deployerr.Wrap(deployerr.KindTransientBackend, "getting namespace during recovery", err)
	}
	_, err = b.client.AppsV1().ReplicaSets(meta.Namespace).Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		meta.ReconcilePhase = PhaseCreatingReplicaSet
	}
	return meta, nil
}
