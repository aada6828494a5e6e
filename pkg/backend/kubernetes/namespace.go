package kubernetes

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// reconcileNamespace creates the namespace if absent, otherwise patches its
// annotations to match desired, then adds the namespace finalizer to the
// project (idempotent) (spec §4.5 phase 1).
func (b *Backend) reconcileNamespace(ctx context.Context, p *apiproject.Project, meta *Metadata) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:        meta.Namespace,
			Labels:      map[string]string{LabelManagedBy: managedByValue, LabelProject: sanitizeLabel(p.Name)},
			Annotations: b.opts.NamespaceAnnotations,
		},
	}
	_, err := b.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "creating namespace", err)
	}
	if apierrors.IsAlreadyExists(err) {
		existing, getErr := b.client.CoreV1().Namespaces().Get(ctx, meta.Namespace, metav1.GetOptions{})
		if getErr != nil {
			return deployerr.Wrap(deployerr.KindTransientBackend, "getting namespace", getErr)
		}
		if !annotationsEqual(existing.Annotations, b.opts.NamespaceAnnotations) {
			existing.Annotations = mergeAnnotations(existing.Annotations, b.opts.NamespaceAnnotations)
			if _, err := b.client.CoreV1().Namespaces().Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
				return deployerr.Wrap(deployerr.KindTransientBackend, "patching namespace annotations", err)
			}
		}
	}
	return b.projects.AddFinalizer(ctx, p.ID, namespaceFinalizer)
}

func annotationsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

func mergeAnnotations(existing, desired map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range desired {
		out[k] = v
	}
	return out
}

// namespaceCleanupTick is one pass of the namespace cleanup loop (spec
// §4.5): find projects Deleting that carry the namespace finalizer, delete
// the namespace (404 tolerated), remove the finalizer.
func (b *Backend) namespaceCleanupTick(ctx context.Context) error {
	projects, err := b.projects.FindByStatus(ctx, apiproject.StatusDeleting)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if !p.HasFinalizer(namespaceFinalizer) {
			continue
		}
		ns := namespaceName(b.opts.NamespaceFormat, p.Name)
		err := b.client.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			b.log.Error(err, "deleting namespace during cleanup", "namespace", ns, "project", p.ID)
			continue
		}
		if err := b.projects.RemoveFinalizer(ctx, p.ID, namespaceFinalizer); err != nil {
			b.log.Error(err, "removing namespace finalizer", "project", p.ID)
		}
	}
	return nil
}
