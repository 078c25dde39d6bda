package manager

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/cookieguard/internal/config"
	"github.com/systmms/cookieguard/internal/encryption"
	"github.com/systmms/cookieguard/internal/ephemeral"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/metrics"
	"github.com/systmms/cookieguard/internal/objectstore"
	"github.com/systmms/cookieguard/internal/passphrase"
	"github.com/systmms/cookieguard/internal/rotation/history"
	"github.com/systmms/cookieguard/internal/rotation/notifications"
	"github.com/systmms/cookieguard/internal/store"
)

// ConfigFrom extracts the manager tunables from the application configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		CacheTTL:          cfg.CacheTTL(),
		ValidationEnabled: cfg.ValidationEnabled,
		TargetDomains:     cfg.TargetDomains,
		RateLimitWindow:   cfg.RateLimitWindow,
		RateLimitMax:      cfg.RateLimitMax,
		RotationInterval:  cfg.RotationInterval,
		BackupRetention:   cfg.BackupRetention,
		RotateOnFailure:   cfg.RotateOnFailure,
		EphemeralMaxAge:   cfg.EphemeralMaxAge,
		SweepInterval:     cfg.SweepInterval,
	}
}

// Open builds every dependency from the application configuration and returns a manager.
// Background work is not started; call Start.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	metrics.InitMetrics()
	rec := metrics.New()

	client, identity, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resolver := passphrase.New(passphrase.Config{
		Region:             cfg.Region,
		GCPCredentialsFile: cfg.GCPCredentialsFile,
		GCPImpersonate:     cfg.GCPImpersonate,
		AzureTenantID:      cfg.AzureTenantID,
		AzureClientID:      cfg.AzureClientID,
		AzureClientSecret:  cfg.AzureClientSecret,
	}, passphrase.WithLogger(logger))
	secret, err := resolver.Resolve(ctx, cfg.Passphrase, cfg.PassphraseRef)
	if err != nil {
		return nil, err
	}
	engine, err := encryption.New(string(secret), cfg.Salt())
	if err != nil {
		return nil, err
	}
	st := store.New(client, store.Config{
		Prefix:    cfg.Prefix,
		OpTimeout: cfg.OpTimeout,
		Workers:   cfg.Workers,
	}, store.WithLogger(logger), store.WithMetadataKey(engine.MetadataKey()))

	dir := cfg.TempDir
	if dir == "" {
		dir = ephemeral.DefaultDir()
	}
	issuer, err := ephemeral.NewIssuer(dir,
		ephemeral.WithLogger(logger),
		ephemeral.WithMetrics(rec))
	if err != nil {
		return nil, err
	}

	historyDir := cfg.HistoryDir
	if historyDir == "" {
		historyDir = history.DefaultStorageDir()
	}

	notifier, err := notifications.NewFromSettings(notifications.Settings{
		WebhookURL:      cfg.WebhookURL,
		WebhookSecret:   cfg.WebhookSecret,
		SlackWebhookURL: cfg.SlackWebhookURL,
		SlackChannel:    cfg.SlackChannel,
		SlackMentions:   cfg.SlackMentions,
		QueueSize:       cfg.NotifyQueueSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	return New(ConfigFrom(cfg), Deps{
		Store:         st,
		Engine:        engine,
		Issuer:        issuer,
		Logger:        logger,
		Metrics:       rec,
		History:       history.NewFileStorage(historyDir),
		Notifications: notifier,
		Identity:      identity,
	})
}

func openBackend(ctx context.Context, cfg *config.Config) (objectstore.Client, IdentityChecker, error) {
	switch cfg.Backend {
	case config.BackendFilesystem:
		fs, err := objectstore.NewFilesystem(cfg.StoreDir)
		return fs, nil, err
	case config.BackendS3, "":
		s3, err := objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			KMSKeyID:        cfg.KMSKeyID,
			RequestsPerSec:  cfg.StoreRPS,
		})
		if err != nil {
			return nil, nil, err
		}
		// S3-compatible endpoints have no STS
		if cfg.Endpoint != "" {
			return s3, nil, nil
		}
		identity, err := stsIdentity(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s3, identity, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func stsIdentity(ctx context.Context, cfg *config.Config) (IdentityChecker, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return STSIdentity{Client: sts.NewFromConfig(awsCfg)}, nil
}
