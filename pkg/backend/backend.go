// Package backend defines the contract every deployment backend implements
// (spec §4.3), grounded on the teacher's CloudProvider interface
// (kwok/cloudprovider/cloudprovider.go, cmd/controller-kwok/kwok/cloudprovider.go):
// one trait, multiple interchangeable drivers selected by a factory.
package backend

import (
	"context"
	"io"
	"time"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// ReconcileResult is the outcome of one reconcile call (spec §4.3).
type ReconcileResult struct {
	Status             statemachine.Status
	DeploymentURL      string // empty if unchanged
	ControllerMetadata []byte // always returned, even when status is unchanged
	ErrorMessage       string // set alongside an unchanged status on a transient failure
}

// HealthCheckResult is the outcome of a health probe (spec §4.3). Healthy is
// false, never an error, when the underlying resource is simply missing.
type HealthCheckResult struct {
	Healthy   bool
	Message   string
	LastCheck time.Time
}

// DeploymentURLs is returned by GetDeploymentURLs (spec §4.3).
type DeploymentURLs struct {
	PrimaryURL      string
	CustomDomainURLs []string
}

// Backend is the contract every deployment target implements (spec §4.3).
// Every method must be idempotent and interruption-safe: reconcile resumes
// from its own prior ControllerMetadata, and cancel/terminate/stop complete
// without error when the resource they target is already gone.
type Backend interface {
	// Reconcile advances the deployment by one or more phases, returning when
	// a phase must wait on external state; it accepts its own prior
	// ControllerMetadata and resumes from it. Transient, retry-safe
	// failures are reported as an unchanged Status plus ErrorMessage, never
	// as a returned error; hard failures are reported as Status=Failed.
	Reconcile(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (ReconcileResult, error)

	// HealthCheck may be called on Healthy or Unhealthy deployments. It
	// returns Healthy=false, not an error, when the underlying resource is
	// missing, so the orchestrator can decide policy.
	HealthCheck(ctx context.Context, d *apideployment.Deployment) (HealthCheckResult, error)

	// Cancel cleans up a pre-infrastructure deployment; idempotent, may be
	// partial if nothing was created yet.
	Cancel(ctx context.Context, d *apideployment.Deployment) error

	// Terminate cleans up a post-infrastructure deployment; idempotent.
	// Must never touch resources shared with other deployments in the same
	// project (namespaces, pull secrets).
	Terminate(ctx context.Context, d *apideployment.Deployment) error

	// Stop is a best-effort quiesce; may be a no-op.
	Stop(ctx context.Context, d *apideployment.Deployment) error

	// StreamLogs returns a lazy byte-chunk reader; finite unless follow is
	// set. Both backends return a NOT_FOUND error if the pod/container is not
	// yet addressable; there is no separate not-ready error kind.
	StreamLogs(ctx context.Context, d *apideployment.Deployment, opts LogOptions) (io.ReadCloser, error)

	GetDeploymentURLs(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (DeploymentURLs, error)
}

// LogOptions controls StreamLogs (spec §4.3).
type LogOptions struct {
	Follow     bool
	Tail       int
	Timestamps bool
	SinceSeconds int64
}

// Kind selects a Backend implementation (spec §6).
type Kind string

const (
	KindLocalContainer Kind = "local-container"
	KindKubernetes      Kind = "kubernetes"
)
