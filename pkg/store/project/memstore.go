package project

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// MemStore is an in-memory Store used by controller tests.
type MemStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*apiproject.Project
}

func NewMemStore() *MemStore {
	return &MemStore{rows: map[uuid.UUID]*apiproject.Project{}}
}

func (s *MemStore) Create(ctx context.Context, p CreateParams) (*apiproject.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.Name == p.Name {
			return nil, deployerr.New(deployerr.KindDuplicate, fmt.Sprintf("project %q already exists", p.Name))
		}
	}
	now := time.Now()
	proj := &apiproject.Project{
		ID:         uuid.New(),
		Name:       p.Name,
		Visibility: p.Visibility,
		OwnerKind:  p.OwnerKind,
		OwnerID:    p.OwnerID,
		Status:     apiproject.StatusStopped,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.rows[proj.ID] = proj
	return clone(proj), nil
}

func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*apiproject.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	return clone(p), nil
}

func (s *MemStore) GetByName(ctx context.Context, name string) (*apiproject.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.Name == name {
			return clone(p), nil
		}
	}
	return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %q not found", name))
}

func (s *MemStore) FindByStatus(ctx context.Context, status apiproject.Status) ([]*apiproject.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*apiproject.Project
	for _, p := range s.rows {
		if p.Status == status {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *MemStore) FindNotDeleting(ctx context.Context) ([]*apiproject.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*apiproject.Project
	for _, p := range s.rows {
		if p.Status != apiproject.StatusDeleting && p.Status != apiproject.StatusTerminated {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *MemStore) UpdateCalculatedStatus(ctx context.Context, id uuid.UUID, status apiproject.Status) error {
	if status == apiproject.StatusDeleting || status == apiproject.StatusTerminated {
		return deployerr.New(deployerr.KindBadRequest, "use MarkDeleting/MarkTerminated for sentinel statuses")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	if p.Status == apiproject.StatusDeleting || p.Status == apiproject.StatusTerminated {
		return nil
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) MarkDeleting(ctx context.Context, id uuid.UUID) error {
	return s.setSentinel(id, apiproject.StatusDeleting)
}

func (s *MemStore) MarkTerminated(ctx context.Context, id uuid.UUID) error {
	return s.setSentinel(id, apiproject.StatusTerminated)
}

func (s *MemStore) setSentinel(id uuid.UUID, status apiproject.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemStore) AddFinalizer(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	p.AddFinalizer(name)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) RemoveFinalizer(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	p.RemoveFinalizer(name)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SetActiveDeployment(ctx context.Context, id uuid.UUID, deploymentID *uuid.UUID, projectURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	p.ActiveDeploymentID = deploymentID
	p.ProjectURL = projectURL
	p.UpdatedAt = time.Now()
	return nil
}

func clone(p *apiproject.Project) *apiproject.Project {
	cp := *p
	cp.Finalizers = append([]string{}, p.Finalizers...)
	return &cp
}

var _ Store = (*MemStore)(nil)

// MemExtensionCounter is a trivial ExtensionCounter fake for tests; it always
// reports zero live extensions unless explicitly seeded.
type MemExtensionCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func NewMemExtensionCounter() *MemExtensionCounter {
	return &MemExtensionCounter{counts: map[uuid.UUID]int{}}
}

func (c *MemExtensionCounter) Set(projectID uuid.UUID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[projectID] = n
}

func (c *MemExtensionCounter) CountActiveExtensions(ctx context.Context, projectID uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[projectID], nil
}

var _ ExtensionCounter = (*MemExtensionCounter)(nil)
