package kubernetes

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakeclientset "k8s.io/client-go/kubernetes/fake"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/config"
	"github.com/risedev/deployctl/pkg/envvars"
	"github.com/risedev/deployctl/pkg/registry/oci"
	"github.com/risedev/deployctl/pkg/secrets"
	"github.com/risedev/deployctl/pkg/statemachine"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

func testOpts() config.KubernetesOptions {
	return config.KubernetesOptions{
		IngressClass:          "nginx",
		ProductionURLTemplate: "{project_name}.apps.example.com",
		NamespaceFormat:       "rise-{project}",
	}
}

func newTestBackend() (*Backend, *fakeclientset.Clientset, *projectstore.MemStore, *depstore.MemStore) {
	client := fakeclientset.NewSimpleClientset()
	projects := projectstore.NewMemStore()
	deployments := depstore.NewMemStore()
	reg := oci.New(oci.Options{Host: "registry.example.com", RepositoryFmt: "{project}"})
	ev := envvars.NewMemStore()
	key, _ := secrets.NewRandomKey()
	sec, _ := secrets.NewAESGCM(key)
	b := New(client, testOpts(), projects, deployments, reg, ev, sec, logr.Discard())
	return b, client, projects, deployments
}

func testDeployment(group string) *apideployment.Deployment {
	return &apideployment.Deployment{
		ID:      uuid.New(),
		ShortID: "20260101-000000",
		Group:   group,
		Status:  statemachine.Pushed,
	}
}

func markReplicaSetReady(t *testing.T, client *fakeclientset.Clientset, namespace, name string) {
	t.Helper()
	rs, err := client.AppsV1().ReplicaSets(namespace).Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting replicaset: %v", err)
	}
	rs.Status.ReadyReplicas = 1
	if _, err := client.AppsV1().ReplicaSets(namespace).UpdateStatus(context.Background(), rs, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("updating replicaset status: %v", err)
	}
}

func TestReconcileDrivesThroughAllPhases(t *testing.T) {
	b, client, projects, _ := newTestBackend()
	p, err := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	d := testDeployment("")
	ctx := context.Background()

	// NotStarted -> CreatingNamespace -> CreatingImagePullSecret ->
	// CreatingService -> CreatingReplicaSet -> WaitingForReplicaSet (parked).
	res, err := b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	d.ControllerMetadata = res.ControllerMetadata
	d.Status = res.Status
	meta, _ := decodeMetadata(d.ControllerMetadata)
	if meta.ReconcilePhase != PhaseWaitingForReplicaSet {
		t.Fatalf("expected to park at WaitingForReplicaSet, got %v", meta.ReconcilePhase)
	}

	reloaded, err := projects.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("reloading project: %v", err)
	}
	if !reloaded.HasFinalizer(namespaceFinalizer) {
		t.Fatalf("expected namespace finalizer to be added")
	}

	// Still not ready.
	res, err = b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Status != statemachine.Deploying {
		t.Fatalf("expected to stay Deploying while unready, got %v", res.Status)
	}
	d.ControllerMetadata = res.ControllerMetadata

	markReplicaSetReady(t, client, meta.Namespace, meta.ReplicaSetName)

	// WaitingForReplicaSet -> UpdatingIngress -> WaitingForHealth ->
	// SwitchingTraffic -> Completed in one call: the fake already reports the
	// ReplicaSet ready, so the health check passes and nothing parks.
	res, err = b.Reconcile(ctx, d, p)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	d.ControllerMetadata = res.ControllerMetadata
	d.Status = res.Status
	meta, _ = decodeMetadata(d.ControllerMetadata)
	if meta.ReconcilePhase != PhaseCompleted {
		t.Fatalf("expected Completed, got %v", meta.ReconcilePhase)
	}

	// Drive until Completed or a bounded number of extra ticks.
	for i := 0; i < 5 && meta.ReconcilePhase != PhaseCompleted; i++ {
		res, err = b.Reconcile(ctx, d, p)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		d.ControllerMetadata = res.ControllerMetadata
		d.Status = res.Status
		meta, _ = decodeMetadata(d.ControllerMetadata)
	}
	if meta.ReconcilePhase != PhaseCompleted {
		t.Fatalf("expected Completed, got %v", meta.ReconcilePhase)
	}
	if d.Status != statemachine.Healthy {
		t.Fatalf("expected Healthy, got %v", d.Status)
	}

	svc, err := client.CoreV1().Services(meta.Namespace).Get(ctx, meta.ServiceName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("getting service: %v", err)
	}
	if svc.Spec.Selector[LabelDeploymentID] != sanitizeLabel(d.ID.String()) {
		t.Fatalf("expected service selector pinned to deployment after SwitchingTraffic")
	}
}

func TestReconcileGatesOnStatus(t *testing.T) {
	b, _, projects, _ := newTestBackend()
	p, _ := projects.Create(context.Background(), projectstore.CreateParams{Name: "myapp", Visibility: apiproject.VisibilityPublic})
	d := testDeployment("")
	d.Status = statemachine.Building
	res, err := b.Reconcile(context.Background(), d, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ControllerMetadata != nil {
		t.Fatalf("expected no metadata to be written before gating status is reached")
	}
}

func TestHealthCheckMissingReplicaSetIsUnhealthyNotError(t *testing.T) {
	b, _, _, _ := newTestBackend()
	d := testDeployment("")
	meta := Metadata{Namespace: "rise-myapp", ReplicaSetName: "myapp-x", DeploymentID: d.ID.String(), HTTPPort: defaultHTTPPort, ReconcilePhase: PhaseCompleted}
	d.ControllerMetadata = meta.encode()

	_, err := newClientsetNamespace(b, "rise-myapp")
	if err != nil {
		t.Fatalf("creating namespace: %v", err)
	}
	result, err := b.HealthCheck(context.Background(), d)
	if err != nil {
		t.Fatalf("expected no error for a missing replicaset, got %v", err)
	}
	if result.Healthy {
		t.Fatalf("expected Healthy=false for a missing replicaset")
	}
}

func newClientsetNamespace(b *Backend, name string) (*corev1.Namespace, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	return b.client.CoreV1().Namespaces().Create(context.Background(), ns, metav1.CreateOptions{})
}

func TestReplicaSetDriftDetection(t *testing.T) {
	replicas1 := int32(1)
	replicas2 := int32(2)
	a := &appsv1.ReplicaSet{Spec: appsv1.ReplicaSetSpec{
		Replicas: &replicas1,
		Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"a": "1"}},
		Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{Containers: []corev1.Container{{Image: "img:v1"}}}},
	}}
	b := &appsv1.ReplicaSet{Spec: appsv1.ReplicaSetSpec{
		Replicas: &replicas2,
		Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"a": "1"}},
		Template: corev1.PodTemplateSpec{Spec: corev1.PodSpec{Containers: []corev1.Container{{Image: "img:v1"}}}},
	}}
	if !replicaSetDrifted(a, b) {
		t.Fatalf("expected replica count mismatch to be drift")
	}
	if replicaSetDrifted(a, a) {
		t.Fatalf("expected identical specs to not be drift")
	}
}

func TestTerminateOnMissingResourcesSucceeds(t *testing.T) {
	b, _, _, _ := newTestBackend()
	d := testDeployment("")
	meta := Metadata{Namespace: "rise-myapp", ReplicaSetName: "myapp-x", ReconcilePhase: PhaseCompleted}
	d.ControllerMetadata = meta.encode()
	if err := b.Terminate(context.Background(), d); err != nil {
		t.Fatalf("expected Terminate on missing resources to succeed, got %v", err)
	}
}

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"My_App":    "my--app",
		"-leading":  "leading",
		"trailing-": "trailing",
		"plain":     "plain",
	}
	for in, want := range cases {
		if got := sanitizeLabel(in); got != want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
