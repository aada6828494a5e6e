package kubernetes

import (
	"context"
	"time"

	"github.com/risedev/deployctl/pkg/statemachine"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
)

// RunSecretRefreshLoop ticks every interval, finding the namespaces of every
// Healthy/Unhealthy deployment and refreshing their pull secret if its
// credential is past half its nominal lifetime (spec §4.5's "secret refresh
// loop"), following the teacher's ticker-plus-cancellation-token task shape
// (spec §9).
func (b *Backend) RunSecretRefreshLoop(ctx context.Context, deployments depstore.Store, interval time.Duration, credentialLifetime time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			namespaces, err := b.activeNamespaces(ctx, deployments)
			if err != nil {
				b.log.Error(err, "listing active namespaces for secret refresh")
				continue
			}
			if err := b.secretRefreshTick(ctx, credentialLifetime/2, namespaces); err != nil {
				b.log.Error(err, "secret refresh tick failed")
			}
		}
	}
}

func (b *Backend) activeNamespaces(ctx context.Context, deployments depstore.Store) ([]string, error) {
	seen := map[string]bool{}
	var namespaces []string
	for _, status := range []statemachine.Status{statemachine.Healthy, statemachine.Unhealthy} {
		rows, err := deployments.FindByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, d := range rows {
			meta, err := decodeMetadata(d.ControllerMetadata)
			if err != nil || meta.Namespace == "" {
				continue
			}
			if !seen[meta.Namespace] {
				seen[meta.Namespace] = true
				namespaces = append(namespaces, meta.Namespace)
			}
		}
	}
	return namespaces, nil
}

// RunNamespaceCleanupLoop ticks every interval, deleting namespaces of projects
// that are Deleting and still carry the namespace finalizer (spec §4.5's
// "namespace cleanup loop").
func (b *Backend) RunNamespaceCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.namespaceCleanupTick(ctx); err != nil {
				b.log.Error(err, "namespace cleanup tick failed")
			}
		}
	}
}
