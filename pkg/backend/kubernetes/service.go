package kubernetes

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	intstr "k8s.io/apimachinery/pkg/util/intstr"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// reconcileService applies a ClusterIP service for the deployment's group
// (spec §4.5 phase 3 and 8). pinToDeployment selects the traffic-switch
// selector (full deployment label set) used by SwitchingTraffic; otherwise
// the selector targets the group as a whole so the Service exists before any
// single deployment owns it.
func (b *Backend) reconcileService(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta *Metadata, pinToDeployment bool) error {
	selector := map[string]string{
		LabelManagedBy:       managedByValue,
		LabelProject:         sanitizeLabel(p.Name),
		LabelDeploymentGroup: groupResourceName(d.NormalizedGroup()),
	}
	if pinToDeployment {
		selector[LabelDeploymentID] = sanitizeLabel(d.ID.String())
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      meta.ServiceName,
			Namespace: meta.Namespace,
			Labels:    labelsFor(p.Name, d.NormalizedGroup(), d.ID.String()),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: selector,
			Ports: []corev1.ServicePort{
				{
					Port:       80,
					TargetPort: intstr.FromInt(meta.HTTPPort),
				},
			},
		},
	}
	existing, err := b.client.CoreV1().Services(meta.Namespace).Get(ctx, meta.ServiceName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, createErr := b.client.CoreV1().Services(meta.Namespace).Create(ctx, svc, metav1.CreateOptions{})
		if createErr != nil {
			return deployerr.Wrap(deployerr.KindTransientBackend, "creating service", createErr)
		}
		return nil
	}
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "getting service", err)
	}
	svc.ResourceVersion = existing.ResourceVersion
	svc.Spec.ClusterIP = existing.Spec.ClusterIP
	if _, err := b.client.CoreV1().Services(meta.Namespace).Update(ctx, svc, metav1.UpdateOptions{}); err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "updating service", err)
	}
	return nil
}
