// Package oci implements registry.Provider for any plain OCI registry that
// relies on the operator having already run `docker login` out of band
// (spec §6: "an OCI provider that relies on client-side docker login
// (returns empty credentials)").
package oci

import (
	"context"
	"fmt"
	"strings"

	"github.com/risedev/deployctl/pkg/registry"
)

type Options struct {
	Host          string
	RepositoryFmt string // e.g. "{project}", may contain "{project}"
}

type Provider struct {
	opts Options
}

func New(opts Options) *Provider {
	return &Provider{opts: opts}
}

func (p *Provider) GetCredentials(ctx context.Context, repo string) (registry.PushCredentials, error) {
	return registry.PushCredentials{URL: p.RegistryHost() + "/" + repo}, nil
}

func (p *Provider) GetPullCredentials(ctx context.Context) (registry.PullCredentials, error) {
	return registry.PullCredentials{}, nil
}

func (p *Provider) RegistryHost() string {
	return p.opts.Host
}

func (p *Provider) GetImageTag(project string, deploymentID string, kind registry.ImageKind) string {
	repo := p.RepositoryName(project)
	tag := deploymentID
	if kind == registry.KindInternal {
		tag = deploymentID + "-internal"
	}
	return fmt.Sprintf("%s/%s:%s", p.opts.Host, repo, tag)
}

func (p *Provider) RepositoryName(project string) string {
	return strings.ReplaceAll(p.opts.RepositoryFmt, "{project}", project)
}

// A plain OCI registry has no repository-object API reachable without a
// registry-specific client (Docker Hub, GHCR, Harbor each differ); the
// repository is created implicitly by the first push. These are no-ops so
// the registry controller can still provision/clean up the finalizer itself.
func (p *Provider) EnsureRepository(ctx context.Context, project string) error  { return nil }
func (p *Provider) DeleteRepository(ctx context.Context, project string) error  { return nil }
func (p *Provider) OrphanRepository(ctx context.Context, project string) error  { return nil }

var _ registry.Provider = (*Provider)(nil)
