package deployment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	"github.com/risedev/deployctl/pkg/deployerr"
	"github.com/risedev/deployctl/pkg/statemachine"
)

// PostgresStore is the production Store backed by a `deployments` table with
// secondary indexes on (status), (expires_at), (status, updated_at), and a
// partial unique index on (project_id, deployment_group) WHERE is_active.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type row struct {
	ID                         uuid.UUID      `db:"id"`
	ProjectID                  uuid.UUID      `db:"project_id"`
	ShortID                    string         `db:"short_id"`
	CreatedBy                  uuid.UUID      `db:"created_by"`
	Status                     string         `db:"status"`
	DeploymentGroup            string         `db:"deployment_group"`
	ExpiresAt                  sql.NullTime   `db:"expires_at"`
	TerminationReason          sql.NullString `db:"termination_reason"`
	ImageRef                   sql.NullString `db:"image_ref"`
	ImageDigest                sql.NullString `db:"image_digest"`
	RolledBackFromDeploymentID uuid.NullUUID  `db:"rolled_back_from_deployment_id"`
	Port                       int            `db:"port"`
	IsActive                   bool           `db:"is_active"`
	ControllerMetadata         []byte         `db:"controller_metadata"`
	DeploymentURL              sql.NullString `db:"deployment_url"`
	ErrorMessage               sql.NullString `db:"error_message"`
	CreatedAt                  time.Time      `db:"created_at"`
	UpdatedAt                  time.Time      `db:"updated_at"`
	CompletedAt                sql.NullTime   `db:"completed_at"`
}

func (r *row) toDomain() *apideployment.Deployment {
	d := &apideployment.Deployment{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		ShortID:            r.ShortID,
		CreatedBy:          r.CreatedBy,
		Status:             statemachine.Status(r.Status),
		Group:              r.DeploymentGroup,
		TerminationReason:  apideployment.TerminationReason(r.TerminationReason.String),
		ImageRef:           r.ImageRef.String,
		ImageDigest:        r.ImageDigest.String,
		Port:               r.Port,
		IsActive:           r.IsActive,
		ControllerMetadata: r.ControllerMetadata,
		DeploymentURL:      r.DeploymentURL.String,
		ErrorMessage:       r.ErrorMessage.String,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.ExpiresAt.Valid {
		d.ExpiresAt = &r.ExpiresAt.Time
	}
	if r.CompletedAt.Valid {
		d.CompletedAt = &r.CompletedAt.Time
	}
	if r.RolledBackFromDeploymentID.Valid {
		id := r.RolledBackFromDeploymentID.UUID
		d.RolledBackFromDeploymentID = &id
	}
	return d
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*apideployment.Deployment, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM deployments WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, deployerr.New(deployerr.KindNotFound, fmt.Sprintf("deployment %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("getting deployment %s: %w", id, err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) Create(ctx context.Context, p apideployment.CreateParams) (*apideployment.Deployment, error) {
	group := p.Group
	if group == "" {
		group = "default"
	}
	status := p.InitialStatus
	if status == "" {
		status = statemachine.Pending
	}
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments
			(id, project_id, short_id, created_by, status, deployment_group, port,
			 image_ref, image_digest, expires_at, rolled_back_from_deployment_id,
			 is_active, controller_metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,'{}',now(),now())`,
		id, p.ProjectID, p.ShortID, p.CreatedBy, string(status), group, p.Port,
		p.ImageRef, p.ImageDigest, p.ExpiresAt, p.RolledBackFromDeploymentID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, deployerr.Wrap(deployerr.KindDuplicate, fmt.Sprintf("deployment %s already exists", p.ShortID), err)
		}
		return nil, fmt.Errorf("creating deployment: %w", err)
	}
	return s.Get(ctx, id)
}

// UpdateStatus rejects transitions the state machine disallows (spec §4.2).
// Terminal rows are never touched again: the WHERE clause only matches rows
// whose current status still permits the requested edge.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus statemachine.Status) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !statemachine.IsValidTransition(existing.Status, newStatus) {
		return deployerr.New(deployerr.KindInvalidTransition,
			fmt.Sprintf("cannot move deployment %s from %s to %s", id, existing.Status, newStatus))
	}
	completedClause := ""
	if statemachine.IsTerminal(newStatus) {
		completedClause = ", completed_at = now()"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = $1, updated_at = now()`+completedClause+` WHERE id = $2 AND status = $3`,
		string(newStatus), id, string(existing.Status))
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return deployerr.New(deployerr.KindInvalidTransition,
			fmt.Sprintf("deployment %s moved concurrently, retry", id))
	}
	return nil
}

// MarkAsActive runs inside a single SERIALIZABLE transaction: verify
// status=Healthy, clear is_active elsewhere in (project, group), set
// is_active here, returning the row that was previously active (spec §4.2).
func (s *PostgresStore) MarkAsActive(ctx context.Context, id, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var r row
	if err := tx.GetContext(ctx, &r, `SELECT * FROM deployments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, fmt.Errorf("locking deployment %s: %w", id, err)
	}
	if statemachine.Status(r.Status) != statemachine.Healthy {
		return nil, deployerr.New(deployerr.KindInvalidTransition,
			fmt.Sprintf("deployment %s is %s, not Healthy; cannot mark active", id, r.Status))
	}

	var prev row
	prevErr := tx.GetContext(ctx, &prev, `
		SELECT * FROM deployments
		WHERE project_id = $1 AND deployment_group = $2 AND is_active = true AND id != $3
		FOR UPDATE`, projectID, group, id)
	var previouslyActive *apideployment.Deployment
	if prevErr == nil {
		previouslyActive = prev.toDomain()
	} else if prevErr != sql.ErrNoRows {
		return nil, fmt.Errorf("finding previously active deployment: %w", prevErr)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deployments SET is_active = false, updated_at = now()
		 WHERE project_id = $1 AND deployment_group = $2 AND is_active = true AND id != $3`,
		projectID, group, id); err != nil {
		return nil, fmt.Errorf("clearing previous active flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE deployments SET is_active = true, updated_at = now() WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("setting active flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing mark-as-active transaction: %w", err)
	}
	return previouslyActive, nil
}

func (s *PostgresStore) FindNonTerminal(ctx context.Context, limit int) ([]*apideployment.Deployment, error) {
	if limit <= 0 {
		return s.findWhere(ctx, `status NOT IN ('Cancelled','Stopped','Superseded','Failed','Expired')
		ORDER BY updated_at ASC`)
	}
	return s.findWhere(ctx, `status NOT IN ('Cancelled','Stopped','Superseded','Failed','Expired')
		ORDER BY updated_at ASC LIMIT $1`, limit)
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status statemachine.Status) ([]*apideployment.Deployment, error) {
	return s.findWhere(ctx, `status = $1 ORDER BY updated_at ASC`, string(status))
}

func (s *PostgresStore) FindExpired(ctx context.Context, limit int) ([]*apideployment.Deployment, error) {
	return s.findWhere(ctx, `expires_at IS NOT NULL AND expires_at <= now()
		AND status NOT IN ('Cancelled','Stopped','Superseded','Failed','Expired','Terminating')
		ORDER BY expires_at ASC LIMIT $1`, limit)
}

func (s *PostgresStore) FindActiveForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM deployments WHERE project_id = $1 AND deployment_group = $2 AND is_active = true`,
		projectID, group)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding active deployment: %w", err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) FindLastForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) (*apideployment.Deployment, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM deployments WHERE project_id = $1 AND deployment_group = $2
		 ORDER BY created_at DESC LIMIT 1`, projectID, group)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding last deployment: %w", err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) FindNonTerminalForProjectAndGroup(ctx context.Context, projectID uuid.UUID, group string) ([]*apideployment.Deployment, error) {
	return s.findWhere(ctx, `project_id = $1 AND deployment_group = $2
		AND status NOT IN ('Cancelled','Stopped','Superseded','Failed','Expired')
		ORDER BY updated_at ASC`, projectID, group)
}

func (s *PostgresStore) findWhere(ctx context.Context, whereAndTail string, args ...interface{}) ([]*apideployment.Deployment, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM deployments WHERE `+whereAndTail, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	out := make([]*apideployment.Deployment, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *PostgresStore) MarkTerminating(ctx context.Context, id uuid.UUID, reason apideployment.TerminationReason) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Terminating); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET termination_reason = $1, updated_at = now() WHERE id = $2`,
		string(reason), id)
	if err != nil {
		return fmt.Errorf("setting termination reason on %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkCancelling(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Cancelling)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Failed); err != nil {
		return err
	}
	return s.setErrorMessage(ctx, id, msg)
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Cancelled)
}

func (s *PostgresStore) MarkStopped(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Stopped)
}

func (s *PostgresStore) MarkSuperseded(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Superseded)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Expired)
}

func (s *PostgresStore) MarkHealthy(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, statemachine.Healthy)
}

func (s *PostgresStore) MarkUnhealthy(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.UpdateStatus(ctx, id, statemachine.Unhealthy); err != nil {
		return err
	}
	return s.setErrorMessage(ctx, id, msg)
}

func (s *PostgresStore) setErrorMessage(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET error_message = $1, updated_at = now() WHERE id = $2`, msg, id)
	if err != nil {
		return fmt.Errorf("setting error message on %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateControllerMetadata(ctx context.Context, id uuid.UUID, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET controller_metadata = $1, updated_at = now() WHERE id = $2`, blob, id)
	if err != nil {
		return fmt.Errorf("updating controller_metadata on %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateDeploymentURL(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET deployment_url = $1, updated_at = now() WHERE id = $2`, url, id)
	if err != nil {
		return fmt.Errorf("updating deployment_url on %s: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// pgx/lib/pq both surface SQLSTATE 23505 for unique_violation; checked by
	// substring to avoid importing both drivers' error types here.
	return err != nil && strings.Contains(err.Error(), "23505")
}
