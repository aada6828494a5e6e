package project

import (
	"database/sql"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// PostgresStore is the production Store backed by a `projects` table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type row struct {
	ID                 uuid.UUID      `db:"id"`
	Name               string         `db:"name"`
	Visibility         string         `db:"visibility"`
	OwnerKind          string         `db:"owner_kind"`
	OwnerID            uuid.UUID      `db:"owner_id"`
	Status             string         `db:"status"`
	Finalizers         pq.StringArray `db:"finalizers"`
	ActiveDeploymentID uuid.NullUUID  `db:"active_deployment_id"`
	ProjectURL         sql.NullString `db:"project_url"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *row) toDomain() *apiproject.Project {
	p := &apiproject.Project{
		ID:         r.ID,
		Name:       r.Name,
		Visibility: apiproject.Visibility(r.Visibility),
		OwnerKind:  apiproject.OwnerKind(r.OwnerKind),
		OwnerID:    r.OwnerID,
		Status:     apiproject.Status(r.Status),
		Finalizers: append([]string{}, r.Finalizers...),
		ProjectURL: r.ProjectURL.String,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ActiveDeploymentID.Valid {
		id := r.ActiveDeploymentID.UUID
		p.ActiveDeploymentID = &id
	}
	return p
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*apiproject.Project, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM projects WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", id, err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (*apiproject.Project, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM projects WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("project %q not found", name))
	}
	if err != nil {
		return nil, fmt.Errorf("getting project %q: %w", name, err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) Create(ctx context.Context, p CreateParams) (*apiproject.Project, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, visibility, owner_kind, owner_id, status, finalizers, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'{}',now(),now())`,
		id, p.Name, string(p.Visibility), string(p.OwnerKind), p.OwnerID, string(apiproject.StatusStopped))
	if err != nil {
		if strings.Contains(err.Error(), "23505") {
			return nil, deployerr.Wrap(deployerr.KindDuplicate, fmt.Sprintf("project %q already exists", p.Name), err)
		}
		return nil, fmt.Errorf("creating project: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status apiproject.Status) ([]*apiproject.Project, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM projects WHERE status = $1`, string(status)); err != nil {
		return nil, fmt.Errorf("querying projects by status: %w", err)
	}
	out := make([]*apiproject.Project, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// PostgresExtensionCounter counts live (not soft-deleted) rows in the
// extensions table, out of scope to model beyond this count (spec §4.8 step
// 4: "the project still has any extension rows (soft-deleted count)").
type PostgresExtensionCounter struct {
	db *sqlx.DB
}

func NewPostgresExtensionCounter(db *sqlx.DB) *PostgresExtensionCounter {
	return &PostgresExtensionCounter{db: db}
}

func (c *PostgresExtensionCounter) CountActiveExtensions(ctx context.Context, projectID uuid.UUID) (int, error) {
	var n int
	err := c.db.GetContext(ctx, &n,
		`SELECT count(*) FROM extensions WHERE project_id = $1 AND deleted_at IS NULL`, projectID)
	if err != nil {
		return 0, fmt.Errorf("counting active extensions for project %s: %w", projectID, err)
	}
	return n, nil
}

var _ ExtensionCounter = (*PostgresExtensionCounter)(nil)

func (s *PostgresStore) FindNotDeleting(ctx context.Context) ([]*apiproject.Project, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM projects WHERE status NOT IN ($1, $2)`,
		string(apiproject.StatusDeleting), string(apiproject.StatusTerminated)); err != nil {
		return nil, fmt.Errorf("querying non-deleting projects: %w", err)
	}
	out := make([]*apiproject.Project, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *PostgresStore) UpdateCalculatedStatus(ctx context.Context, id uuid.UUID, status apiproject.Status) error {
	if status == apiproject.StatusDeleting || status == apiproject.StatusTerminated {
		return deployerr.New(deployerr.KindBadRequest, "Deleting/Terminated are controller-owned sentinels, use MarkDeleting/MarkTerminated")
	}
	// Never recalculate a project that is already Deleting or Terminated
	// (spec §4.7: "never recalculated (controller-owned)").
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = $1, updated_at = now()
		 WHERE id = $2 AND status NOT IN ($3, $4)`,
		string(status), id, string(apiproject.StatusDeleting), string(apiproject.StatusTerminated))
	if err != nil {
		return fmt.Errorf("updating calculated status of %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkDeleting(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET status = $1, updated_at = now() WHERE id = $2`,
		string(apiproject.StatusDeleting), id)
	if err != nil {
		return fmt.Errorf("marking project %s deleting: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkTerminated(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET status = $1, updated_at = now() WHERE id = $2`,
		string(apiproject.StatusTerminated), id)
	if err != nil {
		return fmt.Errorf("marking project %s terminated: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", id, err)
	}
	return nil
}

// AddFinalizer is idempotent: it appends name only if not already present,
// using Postgres array_append after a membership check inside the same
// statement (spec §3: "Adds are idempotent").
func (s *PostgresStore) AddFinalizer(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET finalizers = array_append(finalizers, $1), updated_at = now()
		WHERE id = $2 AND NOT ($1 = ANY(finalizers))`, name, id)
	if err != nil {
		return fmt.Errorf("adding finalizer %q to project %s: %w", name, id, err)
	}
	return nil
}

func (s *PostgresStore) RemoveFinalizer(ctx context.Context, id uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET finalizers = array_remove(finalizers, $1), updated_at = now()
		WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("removing finalizer %q from project %s: %w", name, id, err)
	}
	return nil
}

func (s *PostgresStore) SetActiveDeployment(ctx context.Context, id uuid.UUID, deploymentID *uuid.UUID, projectURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET active_deployment_id = $1, project_url = $2, updated_at = now() WHERE id = $3`,
		deploymentID, projectURL, id)
	if err != nil {
		return fmt.Errorf("setting active deployment on project %s: %w", id, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
