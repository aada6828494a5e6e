// Package envvars defines the environment-variable store contract (spec §6)
// and the fixed set of variables the core injects at deployment creation.
package envvars

import "context"

// Injected is the fixed set of variables the core injects on creation
// (spec §6), in addition to whatever the store carries.
var Injected = []string{"PORT", "RISE_PUBLIC_URL", "RISE_ISSUER", "RISE_APP_URL", "RISE_APP_URLS"}

// Var is one environment variable attached to a deployment.
type Var struct {
	Key           string
	Value         string
	IsSecret      bool
	IsRetrievable bool
}

// Store is the environment-variable contract (spec §6). Secret values are
// stored encrypted by the caller via pkg/secrets and decrypted only at
// inject time; this interface passes values through unchanged, so a Var
// with IsSecret set carries ciphertext.
type Store interface {
	ListDeploymentEnvVars(ctx context.Context, deploymentID string) ([]Var, error)
	CopyProjectEnvVarsToDeployment(ctx context.Context, projectID, deploymentID string) error
	CopyDeploymentEnvVarsToDeployment(ctx context.Context, sourceDeploymentID, targetDeploymentID string) error
	UpsertDeploymentEnvVar(ctx context.Context, deploymentID, key, value string, isSecret, isRetrievable bool) error
}
