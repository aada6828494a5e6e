// Package project provides the persistent project store (spec §3, §4.7, §4.8).
package project

import (
	"context"

	"github.com/google/uuid"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
)

// CreateParams is the subset of fields supplied when creating a project row.
type CreateParams struct {
	Name       string
	Visibility apiproject.Visibility
	OwnerKind  apiproject.OwnerKind
	OwnerID    uuid.UUID
}

// Store is the narrow interface the deletion controller, the registry
// controller, and the deployment orchestrator's project-status recompute
// step depend on.
type Store interface {
	Create(ctx context.Context, params CreateParams) (*apiproject.Project, error)
	Get(ctx context.Context, id uuid.UUID) (*apiproject.Project, error)
	GetByName(ctx context.Context, name string) (*apiproject.Project, error)
	FindByStatus(ctx context.Context, status apiproject.Status) ([]*apiproject.Project, error)

	// FindNotDeleting lists every project not in Deleting or Terminated,
	// used by finalizer-owning controllers' provision loop (spec §4.9) to
	// find "active" projects that may still be missing their finalizer.
	FindNotDeleting(ctx context.Context) ([]*apiproject.Project, error)

	// UpdateCalculatedStatus sets a non-sentinel status (spec §4.7): never
	// Deleting or Terminated, which are controller-owned sentinels set via
	// MarkDeleting/MarkTerminated instead.
	UpdateCalculatedStatus(ctx context.Context, id uuid.UUID, status apiproject.Status) error
	MarkDeleting(ctx context.Context, id uuid.UUID) error
	MarkTerminated(ctx context.Context, id uuid.UUID) error

	// Delete physically removes the row. Callers must have already verified
	// Deletable() (spec §3 invariant); the store does not re-check finalizers
	// or extensions itself since those concerns live outside this package.
	Delete(ctx context.Context, id uuid.UUID) error

	AddFinalizer(ctx context.Context, id uuid.UUID, name string) error
	RemoveFinalizer(ctx context.Context, id uuid.UUID, name string) error

	SetActiveDeployment(ctx context.Context, id uuid.UUID, deploymentID *uuid.UUID, projectURL string) error
}

// ExtensionCounter is the narrow interface onto the (out-of-scope) extensions
// table: the project deletion controller needs only a count of live
// extension rows per project (spec §4.8 step 4), never their contents.
type ExtensionCounter interface {
	CountActiveExtensions(ctx context.Context, projectID uuid.UUID) (int, error)
}
