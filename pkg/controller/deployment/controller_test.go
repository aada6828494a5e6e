package deployment

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/config"
	"github.com/risedev/deployctl/pkg/statemachine"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

// fakeBackend lets each test script exactly what Reconcile/HealthCheck
// should return next, the way pkg/backend/local's tests script a fakeDocker.
type fakeBackend struct {
	reconcileResult backend.ReconcileResult
	reconcileErr    error
	healthResult    backend.HealthCheckResult
	healthErr       error
	terminated      []uuid.UUID
	cancelled       []uuid.UUID
}

func (f *fakeBackend) Reconcile(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.ReconcileResult, error) {
	return f.reconcileResult, f.reconcileErr
}
func (f *fakeBackend) HealthCheck(ctx context.Context, d *apideployment.Deployment) (backend.HealthCheckResult, error) {
	return f.healthResult, f.healthErr
}
func (f *fakeBackend) Cancel(ctx context.Context, d *apideployment.Deployment) error {
	f.cancelled = append(f.cancelled, d.ID)
	return nil
}
func (f *fakeBackend) Terminate(ctx context.Context, d *apideployment.Deployment) error {
	f.terminated = append(f.terminated, d.ID)
	return nil
}
func (f *fakeBackend) Stop(ctx context.Context, d *apideployment.Deployment) error { return nil }
func (f *fakeBackend) StreamLogs(ctx context.Context, d *apideployment.Deployment, opts backend.LogOptions) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeBackend) GetDeploymentURLs(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.DeploymentURLs, error) {
	return backend.DeploymentURLs{}, nil
}

var _ backend.Backend = (*fakeBackend)(nil)

func newTestController(b *fakeBackend) (*Controller, *depstore.MemStore, *projectstore.MemStore) {
	deployments := depstore.NewMemStore()
	projects := projectstore.NewMemStore()
	intervals := config.Intervals{Reconcile: time.Second, HealthCheck: time.Second, Termination: time.Second, Cancellation: time.Second, Expiration: time.Second}
	c := New(deployments, projects, b, intervals, logr.Discard())
	return c, deployments, projects
}

func mustCreateProject(t *testing.T, projects *projectstore.MemStore) *apiproject.Project {
	t.Helper()
	p, err := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p
}

func mustCreateDeployment(t *testing.T, deployments *depstore.MemStore, projectID uuid.UUID, shortID, group string, initial statemachine.Status) *apideployment.Deployment {
	t.Helper()
	d, err := deployments.Create(context.Background(), apideployment.CreateParams{
		ProjectID: projectID, ShortID: shortID, Group: group, InitialStatus: initial,
	})
	if err != nil {
		t.Fatalf("creating deployment: %v", err)
	}
	return d
}

func TestReconcileTickAdvancesStatusAndActivates(t *testing.T) {
	fb := &fakeBackend{reconcileResult: backend.ReconcileResult{Status: statemachine.Healthy, DeploymentURL: "https://myapp.apps.example.com", ControllerMetadata: []byte(`{}`)}}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Deploying)

	c.reconcileTick(context.Background())

	reloaded, err := deployments.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("reloading deployment: %v", err)
	}
	if reloaded.Status != statemachine.Healthy {
		t.Fatalf("expected Healthy, got %v", reloaded.Status)
	}
	if !reloaded.IsActive {
		t.Fatalf("expected activation protocol to mark the deployment active")
	}
	if reloaded.DeploymentURL == "" {
		t.Fatalf("expected deployment URL to be persisted")
	}

	reloadedProject, err := projects.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("reloading project: %v", err)
	}
	if reloadedProject.Status != apiproject.StatusRunning {
		t.Fatalf("expected project status Running, got %v", reloadedProject.Status)
	}
	if reloadedProject.ActiveDeploymentID == nil || *reloadedProject.ActiveDeploymentID != d.ID {
		t.Fatalf("expected project active_deployment_id to be set to the new deployment")
	}
}

func TestActivationSupersedesPreviousActive(t *testing.T) {
	fb := &fakeBackend{reconcileResult: backend.ReconcileResult{Status: statemachine.Healthy, ControllerMetadata: []byte(`{}`)}}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)

	a := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Healthy)
	if _, err := deployments.MarkAsActive(context.Background(), a.ID, p.ID, "default"); err != nil {
		t.Fatalf("activating A: %v", err)
	}
	b := mustCreateDeployment(t, deployments, p.ID, "20260101-010000", "", statemachine.Deploying)

	c.reconcileOne(context.Background(), b)

	reloadedA, err := deployments.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("reloading A: %v", err)
	}
	if reloadedA.Status != statemachine.Terminating || reloadedA.TerminationReason != apideployment.ReasonSuperseded {
		t.Fatalf("expected A Terminating(Superseded), got status=%v reason=%v", reloadedA.Status, reloadedA.TerminationReason)
	}
	if reloadedA.IsActive {
		t.Fatalf("expected A to no longer be active")
	}

	reloadedB, err := deployments.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("reloading B: %v", err)
	}
	if !reloadedB.IsActive {
		t.Fatalf("expected B to be active")
	}
}

func TestReconcileTickSkipsTerminatingAndCancelling(t *testing.T) {
	fb := &fakeBackend{reconcileErr: nil}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Pushed)
	if err := deployments.MarkTerminating(context.Background(), d.ID, apideployment.ReasonUserStopped); err != nil {
		t.Fatalf("marking terminating: %v", err)
	}

	c.reconcileTick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Terminating {
		t.Fatalf("expected reconcile to skip a Terminating row, got %v", reloaded.Status)
	}
}

func TestReconcileTickStuckBuildSweep(t *testing.T) {
	fb := &fakeBackend{}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Building)
	deployments.TestSetUpdatedAt(d.ID, time.Now().Add(-stuckBuildAge-time.Minute))

	c.reconcileTick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Failed {
		t.Fatalf("expected stuck-build sweep to mark Failed, got %v", reloaded.Status)
	}
}

func TestHealthTickFlipsHealthyToUnhealthy(t *testing.T) {
	fb := &fakeBackend{healthResult: backend.HealthCheckResult{Healthy: false, Message: "replicaset missing"}}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Healthy)

	c.healthTick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Unhealthy {
		t.Fatalf("expected Unhealthy, got %v", reloaded.Status)
	}
	if reloaded.ErrorMessage != "replicaset missing" {
		t.Fatalf("expected health message to be persisted, got %q", reloaded.ErrorMessage)
	}
}

func TestTerminateTickCallsBackendAndMarksStopped(t *testing.T) {
	fb := &fakeBackend{}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Healthy)
	if err := deployments.MarkTerminating(context.Background(), d.ID, apideployment.ReasonUserStopped); err != nil {
		t.Fatalf("marking terminating: %v", err)
	}

	c.terminateTick(context.Background())

	if len(fb.terminated) != 1 || fb.terminated[0] != d.ID {
		t.Fatalf("expected backend.Terminate to be called once for %s, got %v", d.ID, fb.terminated)
	}
	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Stopped {
		t.Fatalf("expected Stopped, got %v", reloaded.Status)
	}
}

func TestExpireTickMarksTerminatingExpired(t *testing.T) {
	fb := &fakeBackend{}
	c, deployments, projects := newTestController(fb)
	p := mustCreateProject(t, projects)
	d := mustCreateDeployment(t, deployments, p.ID, "20260101-000000", "", statemachine.Healthy)
	past := time.Now().Add(-time.Minute)
	deployments.TestSetExpiresAt(d.ID, &past)

	c.expireTick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Terminating || reloaded.TerminationReason != apideployment.ReasonExpired {
		t.Fatalf("expected Terminating(Expired), got status=%v reason=%v", reloaded.Status, reloaded.TerminationReason)
	}
}
