package kubernetes

import (
	"context"
	"encoding/json"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/risedev/deployctl/pkg/deployerr"
)

type dockerConfigJSON struct {
	Auths map[string]dockerConfigEntry `json:"auths"`
}

type dockerConfigEntry struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

func (b *Backend) buildPullSecret(ctx context.Context, namespace string) (*corev1.Secret, error) {
	creds, err := b.registry.GetPullCredentials(ctx)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindTransientBackend, "fetching pull credentials", err)
	}
	cfg := dockerConfigJSON{Auths: map[string]dockerConfigEntry{
		b.registry.RegistryHost(): {
			Username: creds.User,
			Password: creds.Password,
			Auth:     basicAuth(creds.User, creds.Password),
		},
	}}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindTransientBackend, "marshaling dockerconfigjson", err)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pullSecretName,
			Namespace: namespace,
			Annotations: map[string]string{
				lastRefreshAnnotation: time.Now().UTC().Format(time.RFC3339),
			},
		},
		Type: corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{corev1.DockerConfigJsonKey: data},
	}, nil
}

func basicAuth(user, password string) string {
	if user == "" {
		return ""
	}
	return user + ":" + password
}

// reconcileImagePullSecret materializes the namespace's pull secret from
// fresh pull credentials (spec §4.5 phase 2).
func (b *Backend) reconcileImagePullSecret(ctx context.Context, meta *Metadata) error {
	secret, err := b.buildPullSecret(ctx, meta.Namespace)
	if err != nil {
		return err
	}
	_, err = b.client.CoreV1().Secrets(meta.Namespace).Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = b.client.CoreV1().Secrets(meta.Namespace).Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "reconciling image pull secret", err)
	}
	return nil
}

// secretRefreshTick is one pass of the secret refresh loop (spec §4.5):
// sweep every namespace hosting active Healthy/Unhealthy deployments and
// replace the pull secret if its last-refresh annotation is stale.
func (b *Backend) secretRefreshTick(ctx context.Context, halfLife time.Duration, namespaces []string) error {
	for _, ns := range namespaces {
		existing, err := b.client.CoreV1().Secrets(ns).Get(ctx, pullSecretName, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			b.log.Error(err, "getting pull secret during refresh", "namespace", ns)
			continue
		}
		stale := true
		if ts, ok := existing.Annotations[lastRefreshAnnotation]; ok {
			if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
				stale = time.Since(parsed) > halfLife
			}
		}
		if !stale {
			continue
		}
		secret, err := b.buildPullSecret(ctx, ns)
		if err != nil {
			b.log.Error(err, "building refreshed pull secret", "namespace", ns)
			continue
		}
		if _, err := b.client.CoreV1().Secrets(ns).Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
			b.log.Error(err, "updating pull secret", "namespace", ns)
		}
	}
	return nil
}
