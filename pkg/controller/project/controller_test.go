package project

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/statemachine"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

func newTestController() (*Controller, *projectstore.MemStore, *depstore.MemStore, *projectstore.MemExtensionCounter) {
	projects := projectstore.NewMemStore()
	deployments := depstore.NewMemStore()
	extensions := projectstore.NewMemExtensionCounter()
	c := New(projects, deployments, extensions, time.Second, logr.Discard())
	return c, projects, deployments, extensions
}

func mustCreateDeletingProject(t *testing.T, projects *projectstore.MemStore) *apiproject.Project {
	t.Helper()
	p, err := projects.Create(context.Background(), projectstore.CreateParams{Name: "deleteme", Visibility: apiproject.VisibilityPrivate})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	if err := projects.MarkDeleting(context.Background(), p.ID); err != nil {
		t.Fatalf("marking project deleting: %v", err)
	}
	return p
}

func TestStepOneDrainsPreInfraDeploymentAsCancelling(t *testing.T) {
	c, projects, deployments, _ := newTestController()
	p := mustCreateDeletingProject(t, projects)
	d, err := deployments.Create(context.Background(), apideployment.CreateParams{ProjectID: p.ID, ShortID: "a", InitialStatus: statemachine.Building})
	if err != nil {
		t.Fatalf("creating deployment: %v", err)
	}

	c.tick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Cancelling {
		t.Fatalf("expected pre-infra deployment to be marked Cancelling, got %v", reloaded.Status)
	}
	reloadedProject, _ := projects.Get(context.Background(), p.ID)
	if reloadedProject.Status != apiproject.StatusDeleting {
		t.Fatalf("project should remain Deleting while a deployment drains")
	}
}

func TestStepOneDrainsPostInfraDeploymentAsTerminatingUserStopped(t *testing.T) {
	c, projects, deployments, _ := newTestController()
	p := mustCreateDeletingProject(t, projects)
	d, err := deployments.Create(context.Background(), apideployment.CreateParams{ProjectID: p.ID, ShortID: "a", InitialStatus: statemachine.Healthy})
	if err != nil {
		t.Fatalf("creating deployment: %v", err)
	}

	c.tick(context.Background())

	reloaded, _ := deployments.Get(context.Background(), d.ID)
	if reloaded.Status != statemachine.Terminating || reloaded.TerminationReason != apideployment.ReasonUserStopped {
		t.Fatalf("expected Terminating(UserStopped), got status=%v reason=%v", reloaded.Status, reloaded.TerminationReason)
	}
}

func TestStepOneWaitsOnFinalizers(t *testing.T) {
	c, projects, _, _ := newTestController()
	p := mustCreateDeletingProject(t, projects)
	if err := projects.AddFinalizer(context.Background(), p.ID, "registry.rise.dev"); err != nil {
		t.Fatalf("adding finalizer: %v", err)
	}

	c.tick(context.Background())

	reloaded, _ := projects.Get(context.Background(), p.ID)
	if reloaded.Status != apiproject.StatusDeleting {
		t.Fatalf("expected project to remain Deleting while finalizers are held")
	}
}

func TestStepOneWaitsOnExtensions(t *testing.T) {
	c, projects, _, extensions := newTestController()
	p := mustCreateDeletingProject(t, projects)
	extensions.Set(p.ID, 1)

	c.tick(context.Background())

	_, err := projects.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("project should not yet be deleted: %v", err)
	}
}

func TestStepOneTerminatesAndDeletesWhenClear(t *testing.T) {
	c, projects, _, _ := newTestController()
	p := mustCreateDeletingProject(t, projects)

	c.tick(context.Background())

	if _, err := projects.Get(context.Background(), p.ID); err == nil {
		t.Fatalf("expected project row to be physically deleted once clear")
	}
}
