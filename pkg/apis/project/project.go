// Package project holds the Project data model (spec §3).
package project

import (
	"time"

	"github.com/google/uuid"
)

// Visibility follows spec §9's decision to use the enum-based visibility
// model rather than the alternate free-form access_class field.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Status is derived by the controller, never set directly by a handler,
// except for the two controller-owned sentinels Deleting and Terminated
// (spec §3, §4.7).
type Status string

const (
	StatusRunning   Status = "Running"
	StatusDeploying Status = "Deploying"
	StatusFailed    Status = "Failed"
	StatusStopped   Status = "Stopped"
	StatusDeleting  Status = "Deleting"
	StatusTerminated Status = "Terminated"
)

// OwnerKind distinguishes the two mutually exclusive owner references.
type OwnerKind string

const (
	OwnerUser OwnerKind = "user"
	OwnerTeam OwnerKind = "team"
)

// Project is the per-project record (spec §3).
type Project struct {
	ID         uuid.UUID
	Name       string
	Visibility Visibility

	OwnerKind OwnerKind
	OwnerID   uuid.UUID

	Status Status

	// Finalizers is a duplicate-free set of controller-owned tags; see
	// AddFinalizer/RemoveFinalizer/HasFinalizer below for the only
	// sanctioned mutation operations (spec §3, §4.9, GLOSSARY "Finalizer").
	Finalizers []string

	ActiveDeploymentID *uuid.UUID // convenience pointer, default group only
	ProjectURL         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFinalizer reports whether name is already present.
func (p *Project) HasFinalizer(name string) bool {
	for _, f := range p.Finalizers {
		if f == name {
			return true
		}
	}
	return false
}

// AddFinalizer is idempotent: adding an already-present finalizer is a no-op
// (spec §3: "Adds are idempotent").
func (p *Project) AddFinalizer(name string) {
	if p.HasFinalizer(name) {
		return
	}
	p.Finalizers = append(p.Finalizers, name)
}

// RemoveFinalizer removes name if present; removing an absent finalizer is
// a no-op.
func (p *Project) RemoveFinalizer(name string) {
	out := p.Finalizers[:0]
	for _, f := range p.Finalizers {
		if f != name {
			out = append(out, f)
		}
	}
	p.Finalizers = out
}

// Deletable reports whether the project may be physically removed from the
// store: no finalizers, no extension rows, no non-terminal deployments
// (spec §3 invariant). extensionCount and nonTerminalDeployments are
// supplied by the caller (project deletion controller), which alone knows
// about extensions and the deployment store.
func (p *Project) Deletable(extensionCount int, nonTerminalDeployments int) bool {
	return len(p.Finalizers) == 0 && extensionCount == 0 && nonTerminalDeployments == 0
}
