package deployment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/deployerr"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// MemStore is an in-memory Store used by controller/backend tests, the way
// the teacher stands up a kwok fake in place of a real cloud API. It
// preserves the same invariants (at-most-one active per group, validated
// transitions) as PostgresStore.
type MemStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*apideployment.Deployment
}

func NewMemStore() *MemStore {
	return &MemStore{rows: map[uuid.UUID]*apideployment.Deployment{}}
}

func (s *MemStore) Create(ctx context.Context, p apideployment.CreateParams) (*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group := p.Group
	if group == "" {
		group = "default"
	}
	status := p.InitialStatus
	if status == "" {
		status = statemachine.Pending
	}
	for _, d := range s.rows {
		if d.ProjectID == p.ProjectID && d.ShortID == p.ShortID {
			return nil, deployerr.New(deployerr.KindDuplicate, fmt.Sprintf("deployment %s already exists", p.ShortID))
		}
	}
	now := time.Now()
	d := &apideployment.Deployment{
		ID:                         uuid.New(),
		ProjectID:                  p.ProjectID,
		ShortID:                    p.ShortID,
		CreatedBy:                  p.CreatedBy,
		Status:                     status,
		Group:                      group,
		Port:                       p.Port,
		ImageRef:                   p.ImageRef,
		ImageDigest:                p.ImageDigest,
		ExpiresAt:                  p.ExpiresAt,
		RolledBackFromDeploymentID: p.RolledBackFromDeploymentID,
		ControllerMetadata:         []byte("{}"),
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	s.rows[d.ID] = d
	return clone(d), nil
}

func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	return clone(d), nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus statemachine.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	if !statemachine.IsValidTransition(d.Status, newStatus) {
		return deployerr.New(deployerr.KindInvalidTransition,
			fmt.Sprintf("cannot move deployment %s from %s to %s", id, d.Status, newStatus))
	}
	d.Status = newStatus
	d.UpdatedAt = time.Now()
	if statemachine.IsTerminal(newStatus) {
		now := d.UpdatedAt
		d.CompletedAt = &now
	}
	return nil
}

func (s *MemStore) MarkAsActive(ctx context.Context, id, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	if d.Status != statemachine.Healthy {
		return nil, deployerr.New(deployerr.KindInvalidTransition,
			fmt.Sprintf("deployment %s is %s, not Healthy; cannot mark active", id, d.Status))
	}
	var previouslyActive *apideployment.Deployment
	for _, other := range s.rows {
		if other.ID == id || other.ProjectID != projectID || other.Group != group {
			continue
		}
		if other.IsActive {
			previouslyActive = clone(other)
			other.IsActive = false
			other.UpdatedAt = time.Now()
		}
	}
	d.IsActive = true
	d.UpdatedAt = time.Now()
	return previouslyActive, nil
}

func (s *MemStore) FindNonTerminal(ctx context.Context, limit int) ([]*apideployment.Deployment, error) {
	return s.find(limit, func(d *apideployment.Deployment) bool { return !statemachine.IsTerminal(d.Status) })
}

func (s *MemStore) FindByStatus(ctx context.Context, status statemachine.Status) ([]*apideployment.Deployment, error) {
	return s.find(0, func(d *apideployment.Deployment) bool { return d.Status == status })
}

func (s *MemStore) FindExpired(ctx context.Context, limit int) ([]*apideployment.Deployment, error) {
	now := time.Now()
	return s.find(limit, func(d *apideployment.Deployment) bool {
		return d.ExpiresAt != nil && !d.ExpiresAt.After(now) &&
			d.Status != statemachine.Terminating && !statemachine.IsTerminal(d.Status)
	})
}

func (s *MemStore) FindActiveForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.rows {
		if d.ProjectID == projectID && d.Group == group && d.IsActive {
			return clone(d), nil
		}
	}
	return nil, nil
}

func (s *MemStore) FindLastForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *apideployment.Deployment
	for _, d := range s.rows {
		if d.ProjectID != projectID || d.Group != group {
			continue
		}
		if last == nil || d.CreatedAt.After(last.CreatedAt) {
			last = d
		}
	}
	if last == nil {
		return nil, nil
	}
	return clone(last), nil
}

func (s *MemStore) FindNonTerminalForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) ([]*apideployment.Deployment, error) {
	return s.find(0, func(d *apideployment.Deployment) bool {
		return d.ProjectID == projectID && d.Group == group && !statemachine.IsTerminal(d.Status)
	})
}

func (s *MemStore) find(limit int, pred func(*apideployment.Deployment) bool) ([]*apideployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*apideployment.Deployment
	for _, d := range s.rows {
		if pred(d) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkTerminating(ctx context.Context, id uuid.UUID, reason apideployment.TerminationReason) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Terminating); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].TerminationReason = reason
	return nil
}

func (s *MemStore) MarkCancelling(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Cancelling)
}

func (s *MemStore) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Failed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].ErrorMessage = msg
	return nil
}

func (s *MemStore) MarkCancelled(ctx context.Context, id uuid.UUID) error  { return s.UpdateStatus(ctx, id, statemachine.Cancelled) }
func (s *MemStore) MarkStopped(ctx context.Context, id uuid.UUID) error    { return s.UpdateStatus(ctx, id, statemachine.Stopped) }
func (s *MemStore) MarkSuperseded(ctx context.Context, id uuid.UUID) error { return s.UpdateStatus(ctx, id, statemachine.Superseded) }
func (s *MemStore) MarkExpired(ctx context.Context, id uuid.UUID) error    { return s.UpdateStatus(ctx, id, statemachine.Expired) }
func (s *MemStore) MarkHealthy(ctx context.Context, id uuid.UUID) error    { return s.UpdateStatus(ctx, id, statemachine.Healthy) }

func (s *MemStore) MarkUnhealthy(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Unhealthy); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].ErrorMessage = msg
	return nil
}

func (s *MemStore) UpdateControllerMetadata(ctx context.Context, id uuid.UUID, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	d.ControllerMetadata = blob
	d.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) UpdateDeploymentURL(ctx context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	d.DeploymentURL = url
	d.UpdatedAt = time.Now()
	return nil
}

// TestSetUpdatedAt backdates a row's updated_at for exercising the
// stuck-build and Deploying-timeout sweeps without a real clock.
func (s *MemStore) TestSetUpdatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[id]; ok {
		d.UpdatedAt = at
	}
}

// TestSetExpiresAt overrides a row's expires_at for exercising the expire loop.
func (s *MemStore) TestSetExpiresAt(id uuid.UUID, at *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.rows[id]; ok {
		d.ExpiresAt = at
	}
}

func clone(d *apideployment.Deployment) *apideployment.Deployment {
	cp := *d
	meta := make([]byte, len(d.ControllerMetadata))
	copy(meta, d.ControllerMetadata)
	cp.ControllerMetadata = meta
	return &cp
}

var _ Store = (*MemStore)(nil)
var _ Store = (*PostgresStore)(nil)
