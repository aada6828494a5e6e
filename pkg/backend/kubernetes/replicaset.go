package kubernetes

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

const replicaSetDeletionPollCap = 30 * time.Second

func (b *Backend) desiredReplicaSet(d *apideployment.Deployment, p *apiproject.Project, meta *Metadata) *appsv1.ReplicaSet {
	var replicas int32 = 1
	labels := labelsFor(p.Name, d.NormalizedGroup(), d.ID.String())
	matchLabels := map[string]string{LabelDeploymentID: sanitizeLabel(d.ID.String())}
	return &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      meta.ReplicaSetName,
			Namespace: meta.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.ReplicaSetSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: matchLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					NodeSelector:     b.opts.NodeSelector,
					ImagePullSecrets: []corev1.LocalObjectReference{{Name: pullSecretName}},
					Containers: []corev1.Container{
						{
							Name:  "app",
							Image: meta.ImageTag,
							Ports: []corev1.ContainerPort{{ContainerPort: int32(meta.HTTPPort)}},
						},
					},
				},
			},
		},
	}
}

// replicaSetDrifted compares the three fields spec §4.5 calls out: replica
// count, first container image, selector.matchLabels.
func replicaSetDrifted(existing, desired *appsv1.ReplicaSet) bool {
	if existing.Spec.Replicas == nil || desired.Spec.Replicas == nil || *existing.Spec.Replicas != *desired.Spec.Replicas {
		return true
	}
	if len(existing.Spec.Template.Spec.Containers) == 0 || len(desired.Spec.Template.Spec.Containers) == 0 {
		return true
	}
	if existing.Spec.Template.Spec.Containers[0].Image != desired.Spec.Template.Spec.Containers[0].Image {
		return true
	}
	if existing.Spec.Selector == nil || desired.Spec.Selector == nil {
		return true
	}
	return !mapsEqual(existing.Spec.Selector.MatchLabels, desired.Spec.Selector.MatchLabels)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// reconcileReplicaSet creates the ReplicaSet if absent; on drift, deletes and
// waits for deletion (polled, capped) then recreates (spec §4.5 phase 4).
func (b *Backend) reconcileReplicaSet(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta *Metadata) error {
	desired := b.desiredReplicaSet(d, p, meta)
	rsClient := b.client.AppsV1().ReplicaSets(meta.Namespace)

	existing, err := rsClient.Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, createErr := rsClient.Create(ctx, desired, metav1.CreateOptions{})
		if createErr != nil {
			return deployerr.Wrap(deployerr.KindTransientBackend, "creating replicaset", createErr)
		}
		return nil
	}
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "getting replicaset", err)
	}
	if !replicaSetDrifted(existing, desired) {
		return nil
	}
	if err := rsClient.Delete(ctx, meta.ReplicaSetName, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "deleting drifted replicaset", err)
	}
	deadline := time.Now().Add(replicaSetDeletionPollCap)
	for time.Now().Before(deadline) {
		_, getErr := rsClient.Get(ctx, meta.ReplicaSetName, metav1.GetOptions{})
		if apierrors.IsNotFound(getErr) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if _, err := rsClient.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "recreating replicaset after drift", err)
	}
	return nil
}
