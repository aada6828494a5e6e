// Package config loads the recognized configuration options (spec §6) from
// the process environment, following the teacher's Options-struct-plus-
// Validate idiom (sigs.k8s.io/karpenter/pkg/operator/options), simplified to
// env vars only since deployctl has no CLI flags of its own.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// BackendKind selects which Backend implementation the orchestrator runs.
type BackendKind string

const (
	BackendLocalContainer BackendKind = "local-container"
	BackendKubernetes     BackendKind = "kubernetes"
)

// RegistryKind selects the registry provider implementation.
type RegistryKind string

const (
	RegistryECR RegistryKind = "ecr"
	RegistryOCI RegistryKind = "oci"
)

// Intervals holds the five deployment loop periods plus the secret-refresh
// sweep, the project-deletion loop, and the two registry controller loops.
type Intervals struct {
	Reconcile      time.Duration
	HealthCheck    time.Duration
	Termination    time.Duration
	Cancellation   time.Duration
	Expiration     time.Duration
	SecretRefresh  time.Duration
	ProjectDeletion   time.Duration
	RegistryProvision time.Duration
	RegistryCleanup   time.Duration
}

// KubernetesOptions holds the Kubernetes-backend-specific settings of §6.
type KubernetesOptions struct {
	IngressClass          string
	ProductionURLTemplate string // must contain "{project_name}"
	StagingURLTemplate    string // may contain "{project_name}", "{deployment_group}"
	NamespaceFormat       string // must contain "{project}", default "rise-{project}"
	IngressAnnotations    map[string]string
	NamespaceAnnotations  map[string]string
	TLSSecretName         string
	NodeSelector          map[string]string
	AuthBackendURL        string
	AuthSigninURL         string
}

// RegistryOptions holds the registry provider kind plus its provider-specific
// fields (spec §6).
type RegistryOptions struct {
	Kind RegistryKind

	// ECR
	ECRRegion        string
	ECRAccountID     string
	ECRRoleARN       string
	ECRAccounts      []string
	ECRRepositoryFmt string // e.g. "rise/{project}"
	ECRAutoRemove    bool   // spec §4.9: delete vs tag-orphaned on project deletion

	// OCI has no credentials of its own; relies on client-side `docker login`.
	OCIRegistryHost       string
	OCIRepositoryFmt      string
	OCIAutoRemove         bool
}

// Options is the full set of recognized configuration (spec §6).
type Options struct {
	Backend    BackendKind
	LogLevel   string
	DatabaseURL string
	MetricsAddr string
	Intervals  Intervals
	Kubernetes KubernetesOptions
	Registry   RegistryOptions
}

// Load reads Options from the environment, applying spec §6's defaults for
// any interval left unset.
func Load() (*Options, error) {
	o := &Options{
		Backend:     BackendKind(getEnvDefault("DEPLOYCTL_BACKEND", string(BackendLocalContainer))),
		LogLevel:    getEnvDefault("DEPLOYCTL_LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DEPLOYCTL_DATABASE_URL"),
		MetricsAddr: getEnvDefault("DEPLOYCTL_METRICS_ADDR", ":9090"),
		Intervals: Intervals{
			Reconcile:     envDurationSeconds("DEPLOYCTL_RECONCILE_INTERVAL_SECONDS", 5),
			HealthCheck:   envDurationSeconds("DEPLOYCTL_HEALTH_CHECK_INTERVAL_SECONDS", 5),
			Termination:   envDurationSeconds("DEPLOYCTL_TERMINATION_INTERVAL_SECONDS", 5),
			Cancellation:  envDurationSeconds("DEPLOYCTL_CANCELLATION_INTERVAL_SECONDS", 5),
			Expiration:    envDurationSeconds("DEPLOYCTL_EXPIRATION_INTERVAL_SECONDS", 60),
			SecretRefresh: envDurationSeconds("DEPLOYCTL_SECRET_REFRESH_INTERVAL_SECONDS", 3600),
			ProjectDeletion:   envDurationSeconds("DEPLOYCTL_PROJECT_DELETION_INTERVAL_SECONDS", 5),
			RegistryProvision: envDurationSeconds("DEPLOYCTL_REGISTRY_PROVISION_INTERVAL_SECONDS", 10),
			RegistryCleanup:   envDurationSeconds("DEPLOYCTL_REGISTRY_CLEANUP_INTERVAL_SECONDS", 5),
		},
		Kubernetes: KubernetesOptions{
			IngressClass:          getEnvDefault("DEPLOYCTL_K8S_INGRESS_CLASS", "nginx"),
			ProductionURLTemplate: getEnvDefault("DEPLOYCTL_K8S_PRODUCTION_URL_TEMPLATE", "{project_name}.apps.example.com"),
			StagingURLTemplate:    os.Getenv("DEPLOYCTL_K8S_STAGING_URL_TEMPLATE"),
			NamespaceFormat:       getEnvDefault("DEPLOYCTL_K8S_NAMESPACE_FORMAT", "rise-{project}"),
			TLSSecretName:         os.Getenv("DEPLOYCTL_K8S_TLS_SECRET_NAME"),
			AuthBackendURL:        os.Getenv("DEPLOYCTL_K8S_AUTH_BACKEND_URL"),
			AuthSigninURL:         os.Getenv("DEPLOYCTL_K8S_AUTH_SIGNIN_URL"),
			IngressAnnotations:    map[string]string{},
			NamespaceAnnotations:  map[string]string{},
			NodeSelector:          map[string]string{},
		},
		Registry: RegistryOptions{
			Kind:             RegistryKind(getEnvDefault("DEPLOYCTL_REGISTRY_KIND", string(RegistryOCI))),
			ECRRegion:        os.Getenv("DEPLOYCTL_ECR_REGION"),
			ECRAccountID:     os.Getenv("DEPLOYCTL_ECR_ACCOUNT_ID"),
			ECRRoleARN:       os.Getenv("DEPLOYCTL_ECR_ROLE_ARN"),
			ECRRepositoryFmt: getEnvDefault("DEPLOYCTL_ECR_REPOSITORY_FORMAT", "rise/{project}"),
			ECRAutoRemove:    getEnvDefault("DEPLOYCTL_ECR_AUTO_REMOVE", "true") == "true",
			OCIRegistryHost:  os.Getenv("DEPLOYCTL_OCI_REGISTRY_HOST"),
			OCIRepositoryFmt: getEnvDefault("DEPLOYCTL_OCI_REPOSITORY_FORMAT", "{project}"),
			OCIAutoRemove:    getEnvDefault("DEPLOYCTL_OCI_AUTO_REMOVE", "true") == "true",
		},
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate rejects configurations missing a required URL placeholder or
// naming an unsupported backend/registry kind (spec §7 INVALID_CONFIG).
func (o *Options) Validate() error {
	if o.Backend != BackendLocalContainer && o.Backend != BackendKubernetes {
		return deployerr.New(deployerr.KindInvalidConfig, "backend must be local-container or kubernetes")
	}
	if !strings.Contains(o.Kubernetes.ProductionURLTemplate, "{project_name}") {
		return deployerr.New(deployerr.KindInvalidConfig, "production URL template must contain {project_name}")
	}
	if o.Kubernetes.StagingURLTemplate != "" && !strings.Contains(o.Kubernetes.StagingURLTemplate, "{project_name}") {
		return deployerr.New(deployerr.KindInvalidConfig, "staging URL template must contain {project_name} when set")
	}
	if !strings.Contains(o.Kubernetes.NamespaceFormat, "{project}") {
		return deployerr.New(deployerr.KindInvalidConfig, "namespace format must contain {project}")
	}
	if o.Registry.Kind != RegistryECR && o.Registry.Kind != RegistryOCI {
		return deployerr.New(deployerr.KindInvalidConfig, "registry kind must be ecr or oci")
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationSeconds(key string, def int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}
