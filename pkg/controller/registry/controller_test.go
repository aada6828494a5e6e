package registry

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/registry"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

type fakeProvider struct {
	ensured []string
	deleted []string
	orphaned []string
}

func (f *fakeProvider) GetCredentials(ctx context.Context, repo string) (registry.PushCredentials, error) {
	return registry.PushCredentials{}, nil
}
func (f *fakeProvider) GetPullCredentials(ctx context.Context) (registry.PullCredentials, error) {
	return registry.PullCredentials{}, nil
}
func (f *fakeProvider) RegistryHost() string { return "registry.example.com" }
func (f *fakeProvider) GetImageTag(project, deploymentID string, kind registry.ImageKind) string {
	return "registry.example.com/" + project + ":" + deploymentID
}
func (f *fakeProvider) RepositoryName(project string) string { return project }
func (f *fakeProvider) EnsureRepository(ctx context.Context, project string) error {
	f.ensured = append(f.ensured, project)
	return nil
}
func (f *fakeProvider) DeleteRepository(ctx context.Context, project string) error {
	f.deleted = append(f.deleted, project)
	return nil
}
func (f *fakeProvider) OrphanRepository(ctx context.Context, project string) error {
	f.orphaned = append(f.orphaned, project)
	return nil
}

var _ registry.Provider = (*fakeProvider)(nil)

func TestProvisionTickAddsFinalizerToActiveProject(t *testing.T) {
	projects := projectstore.NewMemStore()
	fp := &fakeProvider{}
	c := New(projects, fp, true, time.Second, time.Second, logr.Discard())

	p, err := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	c.provisionTick(context.Background())

	if len(fp.ensured) != 1 || fp.ensured[0] != "myapp" {
		t.Fatalf("expected EnsureRepository to be called once for myapp, got %v", fp.ensured)
	}
	reloaded, _ := projects.Get(context.Background(), p.ID)
	if !reloaded.HasFinalizer(FinalizerName) {
		t.Fatalf("expected registry finalizer to be added")
	}

	// second tick is a no-op: the finalizer is already present.
	c.provisionTick(context.Background())
	if len(fp.ensured) != 1 {
		t.Fatalf("expected provisioning to be idempotent, got %d calls", len(fp.ensured))
	}
}

func TestCleanupTickAutoRemoveDeletesAndReleasesFinalizer(t *testing.T) {
	projects := projectstore.NewMemStore()
	fp := &fakeProvider{}
	c := New(projects, fp, true, time.Second, time.Second, logr.Discard())

	p, _ := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	_ = projects.AddFinalizer(context.Background(), p.ID, FinalizerName)
	_ = projects.MarkDeleting(context.Background(), p.ID)

	c.cleanupTick(context.Background())

	if len(fp.deleted) != 1 || fp.deleted[0] != "myapp" {
		t.Fatalf("expected DeleteRepository to be called once for myapp, got %v", fp.deleted)
	}
	reloaded, _ := projects.Get(context.Background(), p.ID)
	if reloaded.HasFinalizer(FinalizerName) {
		t.Fatalf("expected registry finalizer to be removed")
	}
}

func TestCleanupTickOrphanModeTagsInsteadOfDeleting(t *testing.T) {
	projects := projectstore.NewMemStore()
	fp := &fakeProvider{}
	c := New(projects, fp, false, time.Second, time.Second, logr.Discard())

	p, _ := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	_ = projects.AddFinalizer(context.Background(), p.ID, FinalizerName)
	_ = projects.MarkDeleting(context.Background(), p.ID)

	c.cleanupTick(context.Background())

	if len(fp.orphaned) != 1 || len(fp.deleted) != 0 {
		t.Fatalf("expected OrphanRepository (not DeleteRepository) to be called, orphaned=%v deleted=%v", fp.orphaned, fp.deleted)
	}
	reloaded, _ := projects.Get(context.Background(), p.ID)
	if reloaded.HasFinalizer(FinalizerName) {
		t.Fatalf("expected registry finalizer to be removed after orphaning")
	}
}

func TestCleanupTickSkipsProjectsWithoutFinalizer(t *testing.T) {
	projects := projectstore.NewMemStore()
	fp := &fakeProvider{}
	c := New(projects, fp, true, time.Second, time.Second, logr.Discard())

	p, _ := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	_ = projects.MarkDeleting(context.Background(), p.ID)

	c.cleanupTick(context.Background())

	if len(fp.deleted) != 0 || len(fp.orphaned) != 0 {
		t.Fatalf("expected no cleanup calls for a project never holding the finalizer")
	}
}
