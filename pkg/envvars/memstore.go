package envvars

import (
	"context"
	"sync"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// MemStore is an in-memory Store used by backend and controller tests.
type MemStore struct {
	mu      sync.Mutex
	byDep   map[string][]Var
	project map[string][]Var
}

func NewMemStore() *MemStore {
	return &MemStore{byDep: map[string][]Var{}, project: map[string][]Var{}}
}

// SeedProjectVars lets tests populate a project's env vars for copying.
func (s *MemStore) SeedProjectVars(projectID string, vars []Var) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project[projectID] = append([]Var{}, vars...)
}

func (s *MemStore) ListDeploymentEnvVars(ctx context.Context, deploymentID string) ([]Var, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Var{}, s.byDep[deploymentID]...), nil
}

func (s *MemStore) CopyProjectEnvVarsToDeployment(ctx context.Context, projectID, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDep[deploymentID] = append([]Var{}, s.project[projectID]...)
	return nil
}

func (s *MemStore) CopyDeploymentEnvVarsToDeployment(ctx context.Context, sourceDeploymentID, targetDeploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byDep[sourceDeploymentID]
	if !ok {
		return deployerr.New(deployerr.KindNotFound, "source deployment has no env vars recorded")
	}
	s.byDep[targetDeploymentID] = append([]Var{}, src...)
	return nil
}

func (s *MemStore) UpsertDeploymentEnvVar(ctx context.Context, deploymentID, key, value string, isSecret, isRetrievable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := s.byDep[deploymentID]
	for i := range vars {
		if vars[i].Key == key {
			vars[i].Value = value
			vars[i].IsSecret = isSecret
			vars[i].IsRetrievable = isRetrievable
			s.byDep[deploymentID] = vars
			return nil
		}
	}
	s.byDep[deploymentID] = append(vars, Var{Key: key, Value: value, IsSecret: isSecret, IsRetrievable: isRetrievable})
	return nil
}

var _ Store = (*MemStore)(nil)
