// Package ecr implements registry.Provider against Amazon ECR, grounded on
// the teacher's AWS SDK v2 client wrapper idiom (pkg/aws/awsclient.go): a
// thin struct wrapping generated API clients, constructed once from an
// aws.Config and reused for the life of the process.
package ecr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/patrickmn/go-cache"

	"github.com/risedev/deployctl/pkg/deployerr"
	"github.com/risedev/deployctl/pkg/registry"
)

const authTokenCacheKey = "ecr-auth-token"

// Options configures the provider (spec §6: "Registry: provider kind +
// provider-specific fields").
type Options struct {
	Region         string
	AccountID      string
	AssumeRoleARN  string
	RepositoryFmt  string // e.g. "rise/{project}", must contain "{project}"
}

// Provider assumes AssumeRoleARN on every credential request and caches the
// resulting ECR authorization token for its remaining lifetime (tokens are
// valid ~12h; the cache spares a round trip on every reconcile tick).
type Provider struct {
	opts      Options
	stsClient *sts.Client
	ecrClient *ecr.Client
	cache     *cache.Cache
}

func New(cfg aws.Config, opts Options) *Provider {
	return &Provider{
		opts:      opts,
		stsClient: sts.NewFromConfig(cfg),
		ecrClient: ecr.NewFromConfig(cfg),
		cache:     cache.New(10*time.Hour, 30*time.Minute),
	}
}

func (p *Provider) assumedClient(ctx context.Context) (*ecr.Client, error) {
	if p.opts.AssumeRoleARN == "" {
		return p.ecrClient, nil
	}
	out, err := p.stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(p.opts.AssumeRoleARN),
		RoleSessionName: aws.String("deployctl-registry"),
	})
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindTransientBackend, "assuming ECR role", err)
	}
	return ecr.New(ecr.Options{
		Region: p.opts.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
				SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
				SessionToken:    aws.ToString(out.Credentials.SessionToken),
			}, nil
		}),
	}), nil
}

func (p *Provider) GetCredentials(ctx context.Context, repo string) (registry.PushCredentials, error) {
	user, password, expiresIn, err := p.authToken(ctx)
	if err != nil {
		return registry.PushCredentials{}, err
	}
	return registry.PushCredentials{
		URL:       p.RegistryHost() + "/" + repo,
		User:      user,
		Password:  password,
		ExpiresIn: expiresIn,
	}, nil
}

func (p *Provider) GetPullCredentials(ctx context.Context) (registry.PullCredentials, error) {
	user, password, _, err := p.authToken(ctx)
	if err != nil {
		return registry.PullCredentials{}, err
	}
	return registry.PullCredentials{User: user, Password: password}, nil
}

func (p *Provider) authToken(ctx context.Context) (user, password string, expiresIn int, err error) {
	if cached, ok := p.cache.Get(authTokenCacheKey); ok {
		tok := cached.(cachedToken)
		return tok.user, tok.password, tok.expiresIn, nil
	}
	client, err := p.assumedClient(ctx)
	if err != nil {
		return "", "", 0, err
	}
	out, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", 0, deployerr.Wrap(deployerr.KindTransientBackend, "fetching ECR authorization token", err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", 0, deployerr.New(deployerr.KindTransientBackend, "ECR returned no authorization data")
	}
	data := out.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return "", "", 0, deployerr.Wrap(deployerr.KindTransientBackend, "decoding ECR authorization token", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", 0, deployerr.New(deployerr.KindTransientBackend, "malformed ECR authorization token")
	}
	ttl := 12 * time.Hour
	if data.ExpiresAt != nil {
		if d := time.Until(*data.ExpiresAt); d > 0 {
			ttl = d
		}
	}
	tok := cachedToken{user: parts[0], password: parts[1], expiresIn: int(ttl.Seconds())}
	p.cache.Set(authTokenCacheKey, tok, ttl)
	return tok.user, tok.password, tok.expiresIn, nil
}

type cachedToken struct {
	user      string
	password  string
	expiresIn int
}

func (p *Provider) RegistryHost() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", p.opts.AccountID, p.opts.Region)
}

func (p *Provider) GetImageTag(project string, deploymentID string, kind registry.ImageKind) string {
	repo := p.RepositoryName(project)
	tag := deploymentID
	if kind == registry.KindInternal {
		tag = deploymentID + "-internal"
	}
	return fmt.Sprintf("%s/%s:%s", p.RegistryHost(), repo, tag)
}

func (p *Provider) RepositoryName(project string) string {
	return strings.ReplaceAll(p.opts.RepositoryFmt, "{project}", project)
}

// EnsureRepository creates the ECR repository if absent; RepositoryAlreadyExistsException
// is treated as success, matching spec §4.9's "create the repository
// (idempotent; 409/'already exists' counts as success)".
func (p *Provider) EnsureRepository(ctx context.Context, project string) error {
	client, err := p.assumedClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(p.RepositoryName(project)),
	})
	var exists *ecrtypes.RepositoryAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "creating ECR repository", err)
	}
	return nil
}

func (p *Provider) DeleteRepository(ctx context.Context, project string) error {
	client, err := p.assumedClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
		RepositoryName: aws.String(p.RepositoryName(project)),
		Force:          true,
	})
	var notFound *ecrtypes.RepositoryNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return deployerr.Wrap(deployerr.KindTransientBackend, "deleting ECR repository", err)
	}
	return nil
}

func (p *Provider) OrphanRepository(ctx context.Context, project string) error {
	client, err := p.assumedClient(ctx)
	if err != nil {
		return err
	}
	out, err := client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{p.RepositoryName(project)},
	})
	var notFound *ecrtypes.RepositoryNotFoundException
	if err != nil {
		if errors.As(err, &notFound) {
			return nil
		}
		return deployerr.Wrap(deployerr.KindTransientBackend, "describing ECR repository", err)
	}
	if len(out.Repositories) == 0 {
		return nil
	}
	_, err = client.TagResource(ctx, &ecr.TagResourceInput{
		ResourceArn: out.Repositories[0].RepositoryArn,
		Tags: []ecrtypes.Tag{
			{Key: aws.String("orphaned"), Value: aws.String("true")},
		},
	})
	if err != nil {
		return deployerr.Wrap(deployerr.KindTransientBackend, "tagging ECR repository orphaned", err)
	}
	return nil
}

var _ registry.Provider = (*Provider)(nil)
