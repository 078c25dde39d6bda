package passphrase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

func (r *Resolver) loadAWS(ctx context.Context) (awsconfigResult, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if r.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(r.cfg.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsconfigResult{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsconfigResult{ssm: ssm.NewFromConfig(cfg), sm: secretsmanager.NewFromConfig(cfg)}, nil
}

type awsconfigResult struct {
	ssm *ssm.Client
	sm  *secretsmanager.Client
}

func (r *Resolver) ssmClient(ctx context.Context) (SSMClientAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ssm != nil {
		return r.ssm, nil
	}
	c, err := r.loadAWS(ctx)
	if err != nil {
		return nil, err
	}
	r.ssm = c.ssm
	return r.ssm, nil
}

func (r *Resolver) secretsManagerClient(ctx context.Context) (SecretsManagerClientAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sm != nil {
		return r.sm, nil
	}
	c, err := r.loadAWS(ctx)
	if err != nil {
		return nil, err
	}
	r.sm = c.sm
	return r.sm, nil
}

// gcpClient adapts *secretmanager.Client, whose methods take variadic call options
type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.c.AccessSecretVersion(ctx, req)
}

func (r *Resolver) gcpClient(ctx context.Context) (GCPSecretClientAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcp != nil {
		return r.gcp, nil
	}

	var clientOptions []option.ClientOption
	if path := r.cfg.GCPCredentialsFile; path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(path))
	}
	if r.cfg.GCPImpersonate != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: r.cfg.GCPImpersonate,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create impersonated credentials: %w", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	c, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}
	r.gcp = gcpClient{c: c}
	return r.gcp, nil
}

func (r *Resolver) azureClient(vaultURL string) (AzureSecretClientAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.azure[vaultURL]; ok {
		return c, nil
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	if r.cfg.AzureTenantID != "" && r.cfg.AzureClientID != "" && r.cfg.AzureClientSecret != "" {
		cred, err = azidentity.NewClientSecretCredential(r.cfg.AzureTenantID, r.cfg.AzureClientID, r.cfg.AzureClientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	c, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	r.azure[vaultURL] = c
	return c, nil
}
