// Package local implements the local-container backend (spec §4.4) against
// a Docker daemon, grounded on the teacher's cloud-client wrapper idiom
// (pkg/aws/awsclient.go): a thin struct around a generated client, with one
// method per external operation the reconciler needs.
package local

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/go-logr/logr"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/deployerr"
	"github.com/risedev/deployctl/pkg/envvars"
	"github.com/risedev/deployctl/pkg/registry"
	"github.com/risedev/deployctl/pkg/secrets"
	"github.com/risedev/deployctl/pkg/statemachine"
)

const (
	minAssignedPort = 49152
	maxAssignedPort = 65535
)

// Backend drives containers on a single Docker daemon (spec §4.4). It holds
// no per-deployment state of its own: everything it needs to resume after a
// restart lives in the deployment's own ControllerMetadata.
type Backend struct {
	docker   dockerAPI
	registry registry.Provider
	envvars  envvars.Store
	secrets  secrets.Provider
	log      logr.Logger
}

// dockerAPI is the subset of *dockerclient.Client the backend calls,
// narrowed so tests can supply a fake (spec §6: "image pull, container
// create/inspect/start/stop/remove, and log streaming").
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform interface{}, containerName string) (container.CreateResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
}

func New(docker *dockerclient.Client, reg registry.Provider, ev envvars.Store, sec secrets.Provider, log logr.Logger) *Backend {
	return &Backend{docker: docker, registry: reg, envvars: ev, secrets: sec, log: log}
}

func containerName(project string, d *apideployment.Deployment) string {
	return fmt.Sprintf("rise-%s-%s", project, d.ShortID)
}

func isConflict(err error) bool {
	return err != nil && !dockerclient.IsErrNotFound(err) && strings.Contains(err.Error(), "Conflict")
}

func isNotFound(err error) bool {
	return err != nil && dockerclient.IsErrNotFound(err)
}

func (b *Backend) Reconcile(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.ReconcileResult, error) {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return backend.ReconcileResult{}, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding local backend metadata", err)
	}

	if d.Status == statemachine.Unhealthy && meta.ReconcilePhase == PhaseCompleted {
		meta = b.recoverUnhealthy(ctx, d, meta)
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode()}, nil
	}

	switch meta.ReconcilePhase {
	case PhaseNotStarted:
		meta.ReconcilePhase = PhaseCreatingContainer
		return backend.ReconcileResult{Status: statemachine.Deploying, ControllerMetadata: meta.encode()}, nil

	case PhaseCreatingContainer:
		return b.reconcileCreatingContainer(ctx, d, p, meta)

	case PhaseStartingContainer:
		return b.reconcileStartingContainer(ctx, d, meta)

	case PhaseWaitingForHealth:
		return b.reconcileWaitingForHealth(ctx, d, meta)

	case PhaseCompleted:
		return backend.ReconcileResult{Status: statemachine.Healthy, ControllerMetadata: meta.encode()}, nil

	default:
		return backend.ReconcileResult{}, deployerr.New(deployerr.KindInvalidConfig, fmt.Sprintf("unknown local backend phase %q", meta.ReconcilePhase))
	}
}

func (b *Backend) reconcileCreatingContainer(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project, meta Metadata) (backend.ReconcileResult, error) {
	if meta.AssignedPort == 0 {
		meta.AssignedPort = minAssignedPort + rand.Intn(maxAssignedPort-minAssignedPort+1)
	}
	if meta.ImageTag == "" {
		meta.ImageTag = resolveImageTag(d, p, b.registry)
	}

	pullCreds, err := b.registry.GetPullCredentials(ctx)
	if err != nil {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}
	if err := b.pullImage(ctx, meta.ImageTag, pullCreds); err != nil {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}

	envVars, err := b.envvars.ListDeploymentEnvVars(ctx, d.ID.String())
	if err != nil {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}
	env := make([]string, 0, len(envVars))
	for _, v := range envVars {
		value := v.Value
		if v.IsSecret {
			plain, err := b.secrets.Decrypt([]byte(value))
			if err != nil {
				return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
			}
			value = string(plain)
		}
		env = append(env, v.Key+"="+value)
	}

	name := containerName(p.Name, d)
	resp, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image: meta.ImageTag,
			Env:   env,
		},
		&container.HostConfig{
			PortBindings: natPortMap(meta.AssignedPort, meta.InternalPort),
		},
		nil, nil, name)
	if err != nil {
		if isConflict(err) {
			existing, inspectErr := b.docker.ContainerInspect(ctx, name)
			if inspectErr != nil {
				return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: inspectErr.Error()}, nil
			}
			meta.ContainerID = existing.ID
			meta.ContainerName = name
			meta.ReconcilePhase = PhaseStartingContainer
			return backend.ReconcileResult{Status: statemachine.Deploying, ControllerMetadata: meta.encode()}, nil
		}
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}

	meta.ContainerID = resp.ID
	meta.ContainerName = name
	meta.ReconcilePhase = PhaseStartingContainer
	return backend.ReconcileResult{Status: statemachine.Deploying, ControllerMetadata: meta.encode()}, nil
}

func (b *Backend) reconcileStartingContainer(ctx context.Context, d *apideployment.Deployment, meta Metadata) (backend.ReconcileResult, error) {
	err := b.docker.ContainerStart(ctx, meta.ContainerID, types.ContainerStartOptions{})
	if err != nil && !strings.Contains(err.Error(), "already started") {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}
	meta.ReconcilePhase = PhaseWaitingForHealth
	return backend.ReconcileResult{Status: statemachine.Deploying, ControllerMetadata: meta.encode()}, nil
}

func (b *Backend) reconcileWaitingForHealth(ctx context.Context, d *apideployment.Deployment, meta Metadata) (backend.ReconcileResult, error) {
	healthy, _, err := b.checkHealth(ctx, meta.ContainerID)
	if err != nil {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode(), ErrorMessage: err.Error()}, nil
	}
	if !healthy {
		return backend.ReconcileResult{Status: d.Status, ControllerMetadata: meta.encode()}, nil
	}
	meta.ReconcilePhase = PhaseCompleted
	return backend.ReconcileResult{Status: statemachine.Healthy, ControllerMetadata: meta.encode()}, nil
}

// recoverUnhealthy implements the recovery table of spec §4.4: running stays
// Unhealthy pending reclassification by HealthCheck, stopped triggers a
// restart attempt, and missing (or a missing container_id) resets the phase
// to CreatingContainer so the next tick rebuilds it, preserving the port.
func (b *Backend) recoverUnhealthy(ctx context.Context, d *apideployment.Deployment, meta Metadata) Metadata {
	if meta.ContainerID == "" {
		meta.ReconcilePhase = PhaseCreatingContainer
		return meta
	}
	info, err := b.docker.ContainerInspect(ctx, meta.ContainerID)
	if isNotFound(err) {
		meta.ContainerID = ""
		meta.ReconcilePhase = PhaseCreatingContainer
		return meta
	}
	if err != nil {
		return meta
	}
	if info.State != nil && info.State.Running {
		return meta
	}
	_ = b.docker.ContainerStart(ctx, meta.ContainerID, types.ContainerStartOptions{})
	return meta
}

func (b *Backend) checkHealth(ctx context.Context, containerID string) (healthy bool, message string, err error) {
	if containerID == "" {
		return false, "container not yet created", nil
	}
	info, inspectErr := b.docker.ContainerInspect(ctx, containerID)
	if isNotFound(inspectErr) {
		return false, "container missing", nil
	}
	if inspectErr != nil {
		return false, "", deployerr.Wrap(deployerr.KindTransientBackend, "inspecting container", inspectErr)
	}
	if info.State == nil {
		return false, "no state reported", nil
	}
	return info.State.Running && !info.State.Restarting, info.State.Status, nil
}

func (b *Backend) HealthCheck(ctx context.Context, d *apideployment.Deployment) (backend.HealthCheckResult, error) {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return backend.HealthCheckResult{}, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding local backend metadata", err)
	}
	healthy, message, err := b.checkHealth(ctx, meta.ContainerID)
	if err != nil {
		return backend.HealthCheckResult{}, err
	}
	return backend.HealthCheckResult{Healthy: healthy, Message: message, LastCheck: time.Now()}, nil
}

// Cancel is a no-op: a deployment still in a pre-infrastructure phase has
// created nothing the daemon needs to clean up (spec §4.4).
func (b *Backend) Cancel(ctx context.Context, d *apideployment.Deployment) error {
	return nil
}

func (b *Backend) Terminate(ctx context.Context, d *apideployment.Deployment) error {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return deployerr.Wrap(deployerr.KindInvalidConfig, "decoding local backend metadata", err)
	}
	if meta.ContainerID == "" {
		return nil
	}
	stopErr := b.docker.ContainerStop(ctx, meta.ContainerID, container.StopOptions{})
	if stopErr != nil && !isNotFound(stopErr) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "stopping container", stopErr)
	}
	removeErr := b.docker.ContainerRemove(ctx, meta.ContainerID, types.ContainerRemoveOptions{Force: true})
	if removeErr != nil && !isNotFound(removeErr) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "removing container", removeErr)
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, d *apideployment.Deployment) error {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return deployerr.Wrap(deployerr.KindInvalidConfig, "decoding local backend metadata", err)
	}
	if meta.ContainerID == "" {
		return nil
	}
	if err := b.docker.ContainerStop(ctx, meta.ContainerID, container.StopOptions{}); err != nil && !isNotFound(err) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "stopping container", err)
	}
	return nil
}

func (b *Backend) StreamLogs(ctx context.Context, d *apideployment.Deployment, opts backend.LogOptions) (io.ReadCloser, error) {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding local backend metadata", err)
	}
	if meta.ContainerID == "" {
		return nil, deployerr.New(deployerr.KindNotFound, "container not yet created")
	}
	tail := "all"
	if opts.Tail > 0 {
		tail = fmt.Sprintf("%d", opts.Tail)
	}
	return b.docker.ContainerLogs(ctx, meta.ContainerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
		Timestamps: opts.Timestamps,
	})
}

func (b *Backend) GetDeploymentURLs(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.DeploymentURLs, error) {
	return backend.DeploymentURLs{PrimaryURL: d.DeploymentURL}, nil
}

func (b *Backend) pullImage(ctx context.Context, ref string, creds registry.PullCredentials) error {
	opts := types.ImagePullOptions{}
	if creds.User != "" {
		opts.RegistryAuth = encodeAuth(creds)
	}
	rc, err := b.docker.ImagePull(ctx, ref, opts)
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "pulling image "+ref, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func resolveImageTag(d *apideployment.Deployment, p *apiproject.Project, reg registry.Provider) string {
	if d.ImageDigest != "" {
		return d.ImageDigest
	}
	if reg != nil {
		return reg.GetImageTag(p.Name, d.ShortID, registry.KindClientFacing)
	}
	return fmt.Sprintf("%s:%s", p.Name, d.ShortID)
}

var _ backend.Backend = (*Backend)(nil)
