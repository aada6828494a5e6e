// Package kubernetes implements the Kubernetes backend (spec §4.5), grounded
// on the teacher's client-go wiring (cmd/controller/main.go's
// `kubernetes.NewForConfigOrDie(config)`, kwok/operator/operator.go's
// `kubernetes.Interface` parameter style): one typed clientset, held by the
// backend, with one method per reconcile phase.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/config"
	"github.com/risedev/deployctl/pkg/deployerr"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	projectstore "github.com/risedev/deployctl/pkg/store/project"

	"github.com/go-logr/logr"

	"github.com/risedev/deployctl/pkg/envvars"
	"github.com/risedev/deployctl/pkg/registry"
	"github.com/risedev/deployctl/pkg/secrets"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// Backend drives a single Kubernetes cluster's core/apps/networking APIs
// (spec §4.5, §6). It holds no per-deployment state: everything needed to
// resume after a restart lives in the deployment's own ControllerMetadata.
type Backend struct {
	client      kubernetes.Interface
	opts        config.KubernetesOptions
	projects    projectstore.Store
	deployments depstore.Store
	registry    registry.Provider
	envvars     envvars.Store
	secrets     secrets.Provider
	log         logr.Logger
}

func New(client kubernetes.Interface, opts config.KubernetesOptions, projects projectstore.Store, deployments depstore.Store, reg registry.Provider, ev envvars.Store, sec secrets.Provider, log logr.Logger) *Backend {
	return &Backend{client: client, opts: opts, projects: projects, deployments: deployments, registry: reg, envvars: ev, secrets: sec, log: log}
}

func isNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// resolveImageTag mirrors the local backend's resolveImageTag: prefer the
// digest pinned at push time, else derive the registry's client-facing tag.
func (b *Backend) resolveImageTag(d *apideployment.Deployment, p *apiproject.Project) string {
	if d.ImageDigest != "" {
		return d.ImageDigest
	}
	if b.registry != nil {
		return b.registry.GetImageTag(p.Name, d.ShortID, registry.KindClientFacing)
	}
	return fmt.Sprintf("%s:%s", p.Name, d.ShortID)
}

// isNamespaceGone reports whether err is a NotFound for the namespace itself
// (as opposed to some other resource within it), matching spec §4.5's
// "any API call that returns 'namespace ... not found'".
func isNamespaceGone(err error) bool {
	if !apierrors.IsNotFound(err) {
		return false
	}
	var status apierrors.APIStatus
	if !errors.As(err, &status) {
		return false
	}
	details := status.Status().Details
	return details != nil && details.Kind == "namespaces"
}

// Reconcile runs phases through step() until one must wait on cluster state
// (spec §4.5), so a single call may advance several phases.
// Gating: only status ∈ {Pushed, Deploying, Healthy, Unhealthy} reach here;
// earlier statuses mean the image is not yet in the registry.
func (b *Backend) Reconcile(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.ReconcileResult, error) {
	switch d.Status {
	case statemachine.Pushed, statemachine.Deploying, statemachine.Healthy, statemachine.Unhealthy:
	default:
		return backend.ReconcileResult{Status: d.Status}, nil
	}

	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return backend.ReconcileResult{}, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding kubernetes backend metadata", err)
	}
	if meta.Namespace == "" {
		meta.Namespace = namespaceName(b.opts.NamespaceFormat, p.Name)
	}
	if meta.ServiceName == "" {
		meta.ServiceName = groupResourceName(d.NormalizedGroup())
	}
	if meta.IngressName == "" {
		meta.IngressName = groupResourceName(d.NormalizedGroup())
	}
	if meta.ReplicaSetName == "" {
		meta.ReplicaSetName = replicaSetName(p.Name, d.ID.String())
	}
	if meta.DeploymentID == "" {
		meta.DeploymentID = d.ID.String()
	}
	if meta.ImageTag == "" {
		meta.ImageTag = b.resolveImageTag(d, p)
	}

	if d.Status == statemachine.Unhealthy {
		meta, err = b.recoverUnhealthy(ctx, meta)
		if err != nil {
			return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
		}
	}

	for {
		result, advance, err := b.step(ctx, d, p, &meta)
		if err != nil {
			return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
		}
		if !advance {
			return result, nil
		}
		d = cloneWithStatus(d, result.Status)
	}
}

// cloneWithStatus is used internally to thread the in-progress status
// through per-call fallthrough phases without mutating the caller's record.
func cloneWithStatus(d *apideployment.Deployment, status statemachine.Status) *apideployment.Deployment {
	cp := *d
	cp.Status = status
	return &cp
}

// step executes exactly one phase. advance=true means the phase was cheap
// (create/verify/apply) and reconcile should immediately run the next phase
// within the same call (spec §4.5's "per-call loop"); advance=false means
// the phase must wait for external state and control returns to the caller.
func (b *Backend) step(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta *Metadata) (backend.ReconcileResult, bool, error) {
	switch meta.ReconcilePhase {
	case PhaseNotStarted:
		meta.ReconcilePhase = PhaseCreatingNamespace
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseCreatingNamespace:
		if err := b.reconcileNamespace(ctx, p, meta); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseCreatingImagePullSecret
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseCreatingImagePullSecret:
		if err := b.reconcileImagePullSecret(ctx, meta); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseCreatingService
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseCreatingService:
		if err := b.reconcileService(ctx, d, p, meta, false); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseCreatingReplicaSet
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseCreatingReplicaSet:
		if err := b.reconcileReplicaSet(ctx, d, p, meta); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseWaitingForReplicaSet
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseWaitingForReplicaSet:
		return b.reconcileWaitingForReplicaSet(ctx, meta)

	case PhaseUpdatingIngress:
		if err := b.reconcileIngress(ctx, d, p, meta); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseWaitingForHealth
		return backend.ReconcileResult{Status: statemachine.Deploying}, true, nil

	case PhaseWaitingForHealth:
		return b.reconcileWaitingForHealth(ctx, meta)

	case PhaseSwitchingTraffic:
		if err := b.reconcileService(ctx, d, p, meta, true); err != nil {
			return backend.ReconcileResult{}, false, err
		}
		meta.ReconcilePhase = PhaseCompleted
		url := b.deploymentURL(p, d)
		return backend.ReconcileResult{Status: statemachine.Healthy, DeploymentURL: url}, false, nil

	case PhaseCompleted:
		return b.reconcileDriftScan(ctx, d, p, meta)

	default:
		return backend.ReconcileResult{}, false, deployerr.New(deployerr.KindInvalidConfig, fmt.Sprintf("unknown kubernetes backend phase %q", meta.ReconcilePhase))
	}
}

func (b *Backend) deploymentURL(p *apiproject.Project, d *apideployment.Deployment) string {
	if d.NormalizedGroup() == "default" || b.opts.StagingURLTemplate == "" {
		return renderTemplate(b.opts.ProductionURLTemplate, p.Name, d.NormalizedGroup())
	}
	return renderTemplate(b.opts.StagingURLTemplate, p.Name, d.NormalizedGroup())
}

func renderTemplate(tmpl, project, group string) string {
	out := strings.ReplaceAll(tmpl, "{project_name}", project)
	out = strings.ReplaceAll(out, "{deployment_group}", group)
	return "https://" + out
}

func (b *Backend) HealthCheck(ctx context.Context, d *apideployment.Deployment) (backend.HealthCheckResult, error) {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return backend.HealthCheckResult{}, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding kubernetes backend metadata", err)
	}
	healthy, message, err := b.checkHealth(ctx, meta)
	if err != nil {
		return backend.HealthCheckResult{}, err
	}
	return backend.HealthCheckResult{Healthy: healthy, Message: message}, nil
}

// Cancel cleans up a pre-infrastructure deployment. Since Kubernetes
// resources are only gated in once status reaches Pushed, a cancelled
// deployment may have created nothing; terminate covers the rest.
func (b *Backend) Cancel(ctx context.Context, d *apideployment.Deployment) error {
	return b.Terminate(ctx, d)
}

// Terminate deletes only the ReplicaSet (spec §4.5: "Never delete Service,
// Ingress, pull secret, or namespace — these are shared across groups"). For
// a non-default group, if this was the last active deployment in the group,
// the group's Service and Ingress are deleted too (404 tolerated).
func (b *Backend) Terminate(ctx context.Context, d *apideployment.Deployment) error {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return deployerr.Wrap(deployerr.KindInvalidConfig, "decoding kubernetes backend metadata", err)
	}
	if meta.Namespace == "" || meta.ReplicaSetName == "" {
		return nil
	}
	err = b.client.AppsV1().ReplicaSets(meta.Namespace).Delete(ctx, meta.ReplicaSetName, metav1.DeleteOptions{})
	if err != nil && !isNotFound(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "deleting replicaset", err)
	}

	group := d.NormalizedGroup()
	if group == "default" || b.deployments == nil {
		return nil
	}
	remaining, err := b.deployments.FindNonTerminalForProjectAndGroup(ctx, d.ProjectID, group)
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "checking remaining deployments in group", err)
	}
	remaining = slices.DeleteFunc(remaining, func(r *apideployment.Deployment) bool { return r.ID == d.ID })
	if len(remaining) > 0 {
		return nil
	}
	name := groupResourceName(group)
	if err := b.client.CoreV1().Services(meta.Namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !isNotFound(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "deleting group service", err)
	}
	if err := b.client.NetworkingV1().Ingresses(meta.Namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !isNotFound(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "deleting group ingress", err)
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, d *apideployment.Deployment) error {
	return b.Terminate(ctx, d)
}

var _ backend.Backend = (*Backend)(nil)
