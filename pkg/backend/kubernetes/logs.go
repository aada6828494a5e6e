package kubernetes

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apideployment "github.com/risedev/deployctl/pkg/apis/deployment"
	apiproject "github.com/risedev/deployctl/pkg/apis/project"
	"github.com/risedev/deployctl/pkg/backend"
	"github.com/risedev/deployctl/pkg/deployerr"
)

// StreamLogs tails the first pod matching the deployment's label
// (spec §6: "log streaming"); it returns a NOT_FOUND error until one exists.
func (b *Backend) StreamLogs(ctx context.Context, d *apideployment.Deployment, opts backend.LogOptions) (io.ReadCloser, error) {
	meta, err := decodeMetadata(d.ControllerMetadata)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidConfig, "decoding kubernetes backend metadata", err)
	}
	if meta.Namespace == "" {
		return nil, deployerr.New(deployerr.KindNotFound, "deployment has no namespace yet")
	}
	pods, err := b.client.CoreV1().Pods(meta.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: LabelDeploymentID + "=" + sanitizeLabel(d.ID.String()),
	})
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindTransientBackend, "listing pods for log stream", err)
	}
	if len(pods.Items) == 0 {
		return nil, deployerr.New(deployerr.KindNotFound, "no pod ready to stream logs from")
	}
	var tailLines *int64
	if opts.Tail > 0 {
		n := int64(opts.Tail)
		tailLines = &n
	}
	var sinceSeconds *int64
	if opts.SinceSeconds > 0 {
		sinceSeconds = &opts.SinceSeconds
	}
	req := b.client.CoreV1().Pods(meta.Namespace).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{
		Follow:       opts.Follow,
		Timestamps:   opts.Timestamps,
		TailLines:    tailLines,
		SinceSeconds: sinceSeconds,
	})
	return req.Stream(ctx)
}

func (b *Backend) GetDeploymentURLs(ctx context.Context, d *apideployment.Deployment, p *apiproject.Project) (backend.DeploymentURLs, error) {
	return backend.DeploymentURLs{PrimaryURL: d.DeploymentURL}, nil
}
