// Package registry defines the contract backends use to push and pull
// deployment images (spec §6), grounded on the teacher's AWS SDK client
// wrapper idiom (pkg/aws/awsclient.go): a small interface in front of a
// cloud-specific client, selected by kind at process start.
package registry

import "context"

// ImageKind distinguishes the two tags a deployment may need (spec §6).
type ImageKind string

const (
	KindClientFacing ImageKind = "ClientFacing"
	KindInternal     ImageKind = "Internal"
)

// PushCredentials are scoped to a single repository and may expire.
type PushCredentials struct {
	URL       string
	User      string
	Password  string
	ExpiresIn int // seconds, 0 if the provider does not expire credentials
}

// PullCredentials authenticate an image pull; both fields empty means
// anonymous pull (spec §4.4: "anonymous if registry host is Docker Hub or no
// credentials available").
type PullCredentials struct {
	User     string
	Password string
}

// Provider is the dependency backends use to resolve image locations and
// credentials (spec §6).
type Provider interface {
	GetCredentials(ctx context.Context, repo string) (PushCredentials, error)
	GetPullCredentials(ctx context.Context) (PullCredentials, error)
	RegistryHost() string
	GetImageTag(project string, deploymentID string, kind ImageKind) string

	// RepositoryName returns the provider's repository identifier for a
	// project, derived the same way GetImageTag derives one (spec §4.9's
	// registry finalizer controller needs the bare name, without a tag).
	RepositoryName(project string) string

	// EnsureRepository creates the project's repository if absent; a
	// provider-reported "already exists" counts as success (spec §4.9).
	EnsureRepository(ctx context.Context, project string) error

	// DeleteRepository removes the project's repository outright
	// (auto-remove mode); missing is success (spec §4.9).
	DeleteRepository(ctx context.Context, project string) error

	// OrphanRepository tags the project's repository `orphaned=true` instead
	// of deleting it (non-auto-remove mode, spec §4.9).
	OrphanRepository(ctx context.Context, project string) error
}
