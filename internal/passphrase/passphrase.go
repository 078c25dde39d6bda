// Package passphrase resolves the encryption passphrase from the environment or
// from a reference into an external secret store.
//
// A reference has the form scheme:value. Supported schemes:
//
//	env:NAME                                   another environment variable
//	file:/path                                 a local file, trailing newline trimmed
//	ssm:/param                                 AWS SSM Parameter Store (decrypted)
//	secretsmanager:name                        AWS Secrets Manager
//	gcpsm:projects/p/secrets/s[/versions/v]    GCP Secret Manager
//	azkv:https://vault.vault.azure.net/name    Azure Key Vault
//	keyring:service/account                    OS keyring
package passphrase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/zalando/go-keyring"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/cookieguard/internal/credential"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/logging"
)

// ErrNotFound is returned when a reference points at a secret that does not exist
var ErrNotFound = errors.New("passphrase reference not found")

// SSMClientAPI is the subset of the SSM client used for ssm: references
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerClientAPI is the subset of the Secrets Manager client used for secretsmanager: references
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GCPSecretClientAPI is the subset of the GCP Secret Manager client used for gcpsm: references
type GCPSecretClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// AzureSecretClientAPI is the subset of the Key Vault client used for azkv: references
type AzureSecretClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// KeyringGetFunc has the signature of keyring.Get
type KeyringGetFunc func(service, account string) (string, error)

// Config carries the cloud settings used when real clients are created lazily
type Config struct {
	Region string

	GCPCredentialsFile string
	GCPImpersonate     string

	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
}

// Resolver turns a direct value or a reference into a passphrase
type Resolver struct {
	cfg    Config
	logger *logging.Logger
	getenv func(string) string

	mu    sync.Mutex
	ssm   SSMClientAPI
	sm    SecretsManagerClientAPI
	gcp   GCPSecretClientAPI
	azure map[string]AzureSecretClientAPI

	keyringGet KeyringGetFunc
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l.Named("passphrase")
		}
	}
}

// WithGetenv replaces os.Getenv for env: references
func WithGetenv(fn func(string) string) Option {
	return func(r *Resolver) { r.getenv = fn }
}

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(c SSMClientAPI) Option {
	return func(r *Resolver) { r.ssm = c }
}

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(c SecretsManagerClientAPI) Option {
	return func(r *Resolver) { r.sm = c }
}

// WithGCPClient sets a custom GCP Secret Manager client (for testing)
func WithGCPClient(c GCPSecretClientAPI) Option {
	return func(r *Resolver) { r.gcp = c }
}

// WithAzureClient sets the Key Vault client used for the given vault URL (for testing)
func WithAzureClient(vaultURL string, c AzureSecretClientAPI) Option {
	return func(r *Resolver) { r.azure[strings.TrimRight(vaultURL, "/")] = c }
}

// WithKeyring replaces keyring.Get
func WithKeyring(fn KeyringGetFunc) Option {
	return func(r *Resolver) { r.keyringGet = fn }
}

// New creates a resolver. Cloud clients are created on first use.
func New(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:        cfg,
		logger:     logging.Discard(),
		getenv:     os.Getenv,
		azure:      make(map[string]AzureSecretClientAPI),
		keyringGet: keyring.Get,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the passphrase. Setting both a direct value and a reference is a
// configuration error so a stale reference cannot silently shadow the value. A direct value is
// used byte for byte; values from a reference lose only a trailing line break.
func (r *Resolver) Resolve(ctx context.Context, direct, ref string) (logging.Secret, error) {
	ref = strings.TrimSpace(ref)

	switch {
	case direct != "" && ref != "":
		return "", cgerrors.ConfigError{
			Field:      "COOKIEGUARD_PASSPHRASE_REF",
			Message:    "both COOKIEGUARD_PASSPHRASE and COOKIEGUARD_PASSPHRASE_REF are set",
			Suggestion: "Unset one of them",
		}
	case direct != "":
		return logging.Secret(direct), nil
	case ref == "":
		return "", cgerrors.ConfigError{
			Field:      "COOKIEGUARD_PASSPHRASE",
			Message:    credential.ErrEmptyPassphrase.Error(),
			Suggestion: "Set COOKIEGUARD_PASSPHRASE or COOKIEGUARD_PASSPHRASE_REF (e.g. ssm:/cookieguard/passphrase)",
		}
	}

	value, err := r.Lookup(ctx, ref)
	if err != nil {
		return "", err
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return "", cgerrors.ConfigError{
			Field:   "COOKIEGUARD_PASSPHRASE_REF",
			Value:   ref,
			Message: "reference resolved to an empty value",
		}
	}
	return logging.Secret(value), nil
}

// Lookup resolves a single scheme:value reference
func (r *Resolver) Lookup(ctx context.Context, ref string) (string, error) {
	scheme, target, ok := strings.Cut(ref, ":")
	if !ok || target == "" {
		return "", cgerrors.ConfigError{
			Field:      "COOKIEGUARD_PASSPHRASE_REF",
			Value:      ref,
			Message:    "reference must have the form scheme:value",
			Suggestion: "Use one of env:, file:, ssm:, secretsmanager:, gcpsm:, azkv:, keyring:",
		}
	}

	r.logger.Debug("Resolving passphrase via %s", scheme)

	var (
		value string
		err   error
	)
	switch strings.ToLower(scheme) {
	case "env":
		value = r.getenv(target)
		if value == "" {
			err = ErrNotFound
		}
	case "file":
		value, err = r.fromFile(target)
	case "ssm":
		value, err = r.fromSSM(ctx, target)
	case "secretsmanager":
		value, err = r.fromSecretsManager(ctx, target)
	case "gcpsm":
		value, err = r.fromGCP(ctx, target)
	case "azkv":
		value, err = r.fromAzure(ctx, target)
	case "keyring":
		value, err = r.fromKeyring(target)
	default:
		return "", cgerrors.ConfigError{
			Field:      "COOKIEGUARD_PASSPHRASE_REF",
			Value:      ref,
			Message:    fmt.Sprintf("unsupported reference scheme %q", scheme),
			Suggestion: "Use one of env:, file:, ssm:, secretsmanager:, gcpsm:, azkv:, keyring:",
		}
	}
	if err != nil {
		return "", fmt.Errorf("resolve passphrase %s: %w", ref, err)
	}
	return value, nil
}

func (r *Resolver) fromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (r *Resolver) fromSSM(ctx context.Context, name string) (string, error) {
	client, err := r.ssmClient(ctx)
	if err != nil {
		return "", err
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, nf.ErrorMessage())
		}
		return "", err
	}
	if out.Parameter == nil {
		return "", ErrNotFound
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (r *Resolver) fromSecretsManager(ctx context.Context, id string) (string, error) {
	client, err := r.secretsManagerClient(ctx)
	if err != nil {
		return "", err
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, nf.ErrorMessage())
		}
		return "", err
	}
	if out.SecretString != nil {
		return aws.ToString(out.SecretString), nil
	}
	return string(out.SecretBinary), nil
}

func (r *Resolver) fromGCP(ctx context.Context, name string) (string, error) {
	if !strings.HasPrefix(name, "projects/") || !strings.Contains(name, "/secrets/") {
		return "", fmt.Errorf("gcpsm reference must look like projects/P/secrets/S[/versions/V]")
	}
	if !strings.Contains(name, "/versions/") {
		name += "/versions/latest"
	}

	client, err := r.gcpClient(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return string(resp.GetPayload().GetData()), nil
}

// parseAzureRef splits https://vault.vault.azure.net/[secrets/]name[/version]
func parseAzureRef(ref string) (vaultURL, name, version string, err error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", "", "", fmt.Errorf("azkv reference must be an https vault URL followed by the secret name")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && parts[0] == "secrets" {
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		return "", "", "", fmt.Errorf("azkv reference %q has no secret name", ref)
	}
	if len(parts) == 2 {
		version = parts[1]
	}
	return u.Scheme + "://" + u.Host, parts[0], version, nil
}

func (r *Resolver) fromAzure(ctx context.Context, ref string) (string, error) {
	vaultURL, name, version, err := parseAzureRef(ref)
	if err != nil {
		return "", err
	}
	client, err := r.azureClient(vaultURL)
	if err != nil {
		return "", err
	}
	resp, err := client.GetSecret(ctx, name, version, nil)
	if err != nil {
		var re *azcore.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	if resp.Value == nil {
		return "", ErrNotFound
	}
	return *resp.Value, nil
}

func (r *Resolver) fromKeyring(target string) (string, error) {
	service, account, ok := strings.Cut(target, "/")
	if !ok || service == "" || account == "" {
		return "", fmt.Errorf("keyring reference must look like service/account")
	}
	value, err := r.keyringGet(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
		}
		return "", err
	}
	return value, nil
}
