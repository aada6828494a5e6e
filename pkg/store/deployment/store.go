// Package deployment provides the persistent deployment store (spec §4.2).
package deployment

import (
	"context"

	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// Store is the narrow interface the orchestrator and controllers depend on.
// PostgresStore is the production implementation; MemStore (memstore.go,
// same package) backs unit tests the way the teacher's kwok package backs
// CloudProvider tests.
type Store interface {
	Create(ctx context.Context, params apideployment.CreateParams) (*apideployment.Deployment, error)
	Get(ctx context.Context, id uuid.UUID) (*apideployment.Deployment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus statemachine.Status) error

	// MarkAsActive atomically verifies status=Healthy, clears is_active on
	// every other row in (project, group), and sets is_active on id. It
	// returns the previously-active row, if any (spec §4.2).
	MarkAsActive(ctx context.Context, id, projectID uuid.UUID, group string) (previouslyActive *apideployment.Deployment, err error)

	FindNonTerminal(ctx context.Context, limit int) ([]*apideployment.Deployment, error)
	FindByStatus(ctx context.Context, status statemachine.Status) ([]*apideployment.Deployment, error)
	FindExpired(ctx context.Context, limit int) ([]*apideployment.Deployment, error)
	FindActiveForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error)
	FindLastForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error)
	FindNonTerminalForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) ([]*apideployment.Deployment, error)

	MarkTerminating(ctx context.Context, id uuid.UUID, reason apideployment.TerminationReason) error
	MarkCancelling(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	MarkStopped(ctx context.Context, id uuid.UUID) error
	MarkSuperseded(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	MarkHealthy(ctx context.Context, id uuid.UUID) error
	MarkUnhealthy(ctx context.Context, id uuid.UUID, msg string) error

	UpdateControllerMetadata(ctx context.Context, id uuid.UUID, blob []byte) error
	UpdateDeploymentURL(ctx context.Context, id uuid.UUID, url string) error
}
