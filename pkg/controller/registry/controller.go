// Package registry implements the registry cleanup controller (spec §4.9),
// the worked example of a "finalizer-owning controller": a provision loop
// that creates a project's repository and claims the finalizer, and a
// cleanup loop that releases it once the project is deleting. The same
// two-loop shape generalizes to any future per-resource controller (the
// Kubernetes namespace finalizer is the other instance: the backend's
// reconcile adds it and its RunNamespaceCleanupLoop removes it).
package registry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/metrics"
	"github.com/risedev/deployctl/pkg/registry"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

// FinalizerName is the string this controller holds on a project's
// Finalizers slice until the repository it owns is cleaned up.
const FinalizerName = "ecr.aws/repository"

// Controller runs the provision and cleanup loops over one registry.Provider.
// AutoRemove selects delete-on-cleanup vs tag-orphaned-and-keep (spec §4.9).
type Controller struct {
	projects   projectstore.Store
	provider   registry.Provider
	autoRemove bool

	provisionInterval time.Duration
	cleanupInterval   time.Duration

	log logr.Logger
}

func New(projects projectstore.Store, provider registry.Provider, autoRemove bool, provisionInterval, cleanupInterval time.Duration, log logr.Logger) *Controller {
	return &Controller{
		projects:          projects,
		provider:          provider,
		autoRemove:        autoRemove,
		provisionInterval: provisionInterval,
		cleanupInterval:   cleanupInterval,
		log:               log.WithName("registry-controller"),
	}
}

func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.runLoop(ctx, "registry-provision", c.provisionInterval, c.provisionTick)
		return nil
	})
	g.Go(func() error {
		c.runLoop(ctx, "registry-cleanup", c.cleanupInterval, c.cleanupTick)
		return nil
	})
	return g.Wait()
}

func (c *Controller) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			tick(ctx)
			metrics.LoopDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func (c *Controller) provisionTick(ctx context.Context) {
	rows, err := c.projects.FindNotDeleting(ctx)
	if err != nil {
		c.log.Error(err, "listing non-deleting projects for registry provisioning")
		return
	}
	for _, p := range rows {
		if p.HasFinalizer(FinalizerName) {
			continue
		}
		if err := c.provider.EnsureRepository(ctx, p.Name); err != nil {
			c.log.Error(err, "ensuring registry repository", "project", p.ID)
			continue
		}
		if err := c.projects.AddFinalizer(ctx, p.ID, FinalizerName); err != nil {
			c.log.Error(err, "adding registry finalizer", "project", p.ID)
		}
	}
}

func (c *Controller) cleanupTick(ctx context.Context) {
	rows, err := c.projects.FindByStatus(ctx, apiproject.StatusDeleting)
	if err != nil {
		c.log.Error(err, "listing deleting projects for registry cleanup")
		return
	}
	for _, p := range rows {
		if !p.HasFinalizer(FinalizerName) {
			continue
		}
		var err error
		if c.autoRemove {
			err = c.provider.DeleteRepository(ctx, p.Name)
		} else {
			err = c.provider.OrphanRepository(ctx, p.Name)
		}
		if err != nil {
			c.log.Error(err, "cleaning up registry repository", "project", p.ID)
			continue
		}
		if err := c.projects.RemoveFinalizer(ctx, p.ID, FinalizerName); err != nil {
			c.log.Error(err, "removing registry finalizer", "project", p.ID)
		}
	}
}
