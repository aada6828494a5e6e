package kubernetes

import (
	"context"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// reconcileIngress applies the group's Ingress with visibility-derived
// annotations (spec §4.5 phase 6).
func (b *Backend) reconcileIngress(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta *Metadata) error {
	annotations := map[string]string{}
	for k, v := range b.opts.IngressAnnotations {
		annotations[k] = v
	}
	annotations["nginx.ingress.kubernetes.io/rewrite-target"] = "/$2"
	annotations["nginx.ingress.kubernetes.io/x-forwarded-prefix"] = "/"
	if p.Visibility == apiproject.VisibilityPrivate {
		annotations["nginx.ingress.kubernetes.io/auth-url"] = b.opts.AuthBackendURL
		annotations["nginx.ingress.kubernetes.io/auth-signin"] = b.opts.AuthSigninURL
	}

	pathType := networkingv1.PathTypeImplementationSpecific
	ingressClass := b.opts.IngressClass
	spec := networkingv1.IngressSpec{
		IngressClassName: &ingressClass,
		Rules: []networkingv1.IngressRule{
			{
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{
							{
								Path:     "/()(.*)",
								PathType: &pathType,
								Backend: networkingv1.IngressBackend{
									Service: &networkingv1.IngressServiceBackend{
										Name: meta.ServiceName,
										Port: networkingv1.ServiceBackendPort{Number: 80},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	if b.opts.TLSSecretName != "" {
		spec.TLS = []networkingv1.IngressTLS{{SecretName: b.opts.TLSSecretName}}
	}

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        meta.IngressName,
			Namespace:   meta.Namespace,
			Labels:      labelsFor(p.Name, d.NormalizedGroup(), d.ID.String()),
			Annotations: annotations,
		},
		Spec: spec,
	}

	existing, err := b.client.NetworkingV1().Ingresses(meta.Namespace).Get(ctx, meta.IngressName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, createErr := b.client.NetworkingV1().Ingresses(meta.Namespace).Create(ctx, ingress, metav1.CreateOptions{})
		if createErr != nil {
			return deployerr.Wrap(deployerr.KindTransientBackend, "creating ingress", createErr)
		}
		return nil
	}
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "getting ingress", err)
	}
	ingress.ResourceVersion = existing.ResourceVersion
	if _, err := b.client.NetworkingV1().Ingresses(meta.Namespace).Update(ctx, ingress, metav1.UpdateOptions{}); err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "updating ingress", err)
	}
	return nil
}
