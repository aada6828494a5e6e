// Package deployment holds the Deployment data model (spec §3).
package deployment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/risedev/deployctl/pkg/statemachine"
)

// TerminationReason is the closed enum of reasons a deployment moved to
// Terminating (spec §6: "closed enum {UserStopped, Superseded, Cancelled,
// Failed, Expired}").
type TerminationReason string

const (
	ReasonNone       TerminationReason = ""
	ReasonUserStopped TerminationReason = "UserStopped"
	ReasonSuperseded  TerminationReason = "Superseded"
	ReasonCancelled   TerminationReason = "Cancelled"
	ReasonFailed      TerminationReason = "Failed"
	ReasonExpired     TerminationReason = "Expired"
)

// TerminalStatus maps a termination reason to the terminal status the
// terminate loop assigns once backend.terminate succeeds (spec §4.6's
// Terminate loop row).
func (r TerminationReason) TerminalStatus() statemachine.Status {
	switch r {
	case ReasonUserStopped:
		return statemachine.Stopped
	case ReasonSuperseded:
		return statemachine.Superseded
	case ReasonExpired:
		return statemachine.Expired
	case ReasonFailed:
		return statemachine.Failed
	default:
		// Cancelled/None -> Stopped, per spec §4.6.
		return statemachine.Stopped
	}
}

// Deployment is identified by (project, short ID) per spec §3.
type Deployment struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	ShortID   string

	CreatedBy uuid.UUID
	Status    statemachine.Status
	Group     string // free-form tag, default "default"

	ExpiresAt         *time.Time
	TerminationReason TerminationReason

	ImageRef    string
	ImageDigest string

	RolledBackFromDeploymentID *uuid.UUID

	Port     int
	IsActive bool

	ControllerMetadata json.RawMessage // opaque, backend-private

	DeploymentURL string
	ErrorMessage  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CreateParams is the subset of fields supplied when creating a new row;
// the rest are computed or defaulted by the store (spec §4.2 create).
type CreateParams struct {
	ProjectID                  uuid.UUID
	ShortID                    string
	CreatedBy                  uuid.UUID
	Group                      string
	Port                       int
	ImageRef                   string
	ImageDigest                string
	ExpiresAt                  *time.Time
	RolledBackFromDeploymentID *uuid.UUID
	InitialStatus              statemachine.Status // Pending, or Pushed for a rollback (spec §8 scenario 6)
}

// NormalizedGroup returns "default" when Group is empty, matching spec §3's
// "default 'default'" rule for the deployment group tag.
func (d *Deployment) NormalizedGroup() string {
	if d.Group == "" {
		return "default"
	}
	return d.Group
}
