package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/envvars"
	"github.com/risedev/deployctl/pkg/registry/oci"
	"github.com/risedev/deployctl/pkg/secrets"
	"github.com/risedev/deployctl/pkg/statemachine"
)

type notFoundError struct{}

func (notFoundError) Error() string   { return "no such container" }
func (notFoundError) NotFound()       {}

type fakeDocker struct {
	containers map[string]*types.ContainerJSON
	nextID     int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{containers: map[string]*types.ContainerJSON{}}
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform interface{}, containerName string) (container.CreateResponse, error) {
	f.nextID++
	id := uuid.New().String()
	f.containers[id] = &types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    id,
			Name:  containerName,
			State: &types.ContainerState{Running: false},
		},
	}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	if c, ok := f.containers[containerID]; ok {
		return *c, nil
	}
	for _, c := range f.containers {
		if c.Name == containerID {
			return *c, nil
		}
	}
	return types.ContainerJSON{}, notFoundError{}
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	c, ok := f.containers[containerID]
	if !ok {
		return notFoundError{}
	}
	c.State.Running = true
	return nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	c, ok := f.containers[containerID]
	if !ok {
		return notFoundError{}
	}
	c.State.Running = false
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	delete(f.containers, containerID)
	return nil
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("log line\n")), nil
}

func newTestBackend(docker dockerAPI) *Backend {
	reg := oci.New(oci.Options{Host: "registry.example.com", RepositoryFmt: "{project}"})
	ev := envvars.NewMemStore()
	key, _ := secrets.NewRandomKey()
	sec, _ := secrets.NewAESGCM(key)
	return &Backend{docker: docker, registry: reg, envvars: ev, secrets: sec, log: logr.Discard()}
}

func testDeployment() *apideployment.Deployment {
	return &apideployment.Deployment{
		ID:      uuid.New(),
		ShortID: "20260101-000000",
		Status:  statemachine.Pending,
	}
}

func testProject() *apiproject.Project {
	return &apiproject.Project{ID: uuid.New(), Name: "myapp"}
}

func TestReconcileDrivesThroughPhases(t *testing.T) {
	docker := newFakeDocker()
	b := newTestBackend(docker)
	d := testDeployment()
	p := testProject()
	ctx := context.Background()

	// NotStarted -> CreatingContainer
	res, err := b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.ControllerMetadata = res.ControllerMetadata
	d.Status = res.Status

	// CreatingContainer -> StartingContainer
	res, err = b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, _ := decodeMetadata(res.ControllerMetadata)
	if meta.ContainerID == "" {
		t.Fatalf("expected container id to be set")
	}
	if meta.AssignedPort < minAssignedPort || meta.AssignedPort > maxAssignedPort {
		t.Fatalf("assigned port %d out of range", meta.AssignedPort)
	}
	d.ControllerMetadata = res.ControllerMetadata
	d.Status = res.Status

	// StartingContainer -> WaitingForHealth
	res, err = b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.ControllerMetadata = res.ControllerMetadata
	d.Status = res.Status

	// WaitingForHealth -> Completed (container now running)
	res, err = b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != statemachine.Healthy {
		t.Fatalf("expected Healthy, got %v", res.Status)
	}
	meta, _ = decodeMetadata(res.ControllerMetadata)
	if meta.ReconcilePhase != PhaseCompleted {
		t.Fatalf("expected Completed phase, got %v", meta.ReconcilePhase)
	}
}

func TestReconcileCreatingContainerConflictRecoversID(t *testing.T) {
	docker := newFakeDocker()
	existingID := uuid.New().String()
	docker.containers[existingID] = &types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    existingID,
			Name:  "rise-myapp-20260101-000000",
			State: &types.ContainerState{Running: false},
		},
	}
	conflict := &conflictOnceDocker{fakeDocker: docker, name: "rise-myapp-20260101-000000", id: existingID}
	b := newTestBackend(conflict)
	d := testDeployment()
	p := testProject()
	ctx := context.Background()

	meta := Metadata{ReconcilePhase: PhaseCreatingContainer, InternalPort: defaultInternalPort, AssignedPort: 52345}
	d.ControllerMetadata = meta.encode()

	res, err := b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := decodeMetadata(res.ControllerMetadata)
	if got.ContainerID != existingID {
		t.Fatalf("expected recovered container id %q, got %q", existingID, got.ContainerID)
	}
	if got.AssignedPort != 52345 {
		t.Fatalf("expected port preserved at 52345, got %d", got.AssignedPort)
	}
}

// conflictOnceDocker simulates the "already exists" 409 a crash-then-restart
// reconcile observes (spec §8 scenario 5).
type conflictOnceDocker struct {
	*fakeDocker
	name string
	id   string
}

func (c *conflictOnceDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform interface{}, containerName string) (container.CreateResponse, error) {
	return container.CreateResponse{}, errors.New("Conflict. The container name is already in use")
}

func TestHealthCheckMissingContainerIsUnhealthyNotError(t *testing.T) {
	docker := newFakeDocker()
	b := newTestBackend(docker)
	d := testDeployment()
	meta := Metadata{ReconcilePhase: PhaseCompleted, ContainerID: "does-not-exist", InternalPort: defaultInternalPort}
	d.ControllerMetadata = meta.encode()

	result, err := b.HealthCheck(context.Background(), d)
	if err != nil {
		t.Fatalf("expected no error for a missing container, got %v", err)
	}
	if result.Healthy {
		t.Fatalf("expected Healthy=false for a missing container")
	}
}

func TestRecoverUnhealthyMissingContainerResetsPhase(t *testing.T) {
	docker := newFakeDocker()
	b := newTestBackend(docker)
	d := testDeployment()
	d.Status = statemachine.Unhealthy
	meta := Metadata{ReconcilePhase: PhaseCompleted, ContainerID: "does-not-exist", InternalPort: defaultInternalPort, AssignedPort: 50000}
	d.ControllerMetadata = meta.encode()

	res, err := b.Reconcile(context.Background(), d, testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := decodeMetadata(res.ControllerMetadata)
	if got.ReconcilePhase != PhaseCreatingContainer {
		t.Fatalf("expected reset to CreatingContainer, got %v", got.ReconcilePhase)
	}
	if got.AssignedPort != 50000 {
		t.Fatalf("expected port preserved across recovery, got %d", got.AssignedPort)
	}
}

func TestCancelIsNoOp(t *testing.T) {
	b := newTestBackend(newFakeDocker())
	if err := b.Cancel(context.Background(), testDeployment()); err != nil {
		t.Fatalf("expected Cancel to be a no-op, got %v", err)
	}
}

func TestTerminateOnMissingResourcesSucceeds(t *testing.T) {
	b := newTestBackend(newFakeDocker())
	d := testDeployment()
	meta := Metadata{ReconcilePhase: PhaseCompleted, ContainerID: "", InternalPort: defaultInternalPort}
	d.ControllerMetadata = meta.encode()
	if err := b.Terminate(context.Background(), d); err != nil {
		t.Fatalf("expected Terminate with no container to succeed, got %v", err)
	}
}

var _ backend.Backend = (*Backend)(nil)
