// Package config loads cookieguard settings from defaults and COOKIEGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	cgerrors "github.com/systmms/cookieguard/internal/errors"
)

// EnvPrefix is prepended to every setting name
const EnvPrefix = "COOKIEGUARD_"

const (
	// BackendS3 stores slots in an S3 bucket
	BackendS3 = "s3"
	// BackendFilesystem stores slots under a local directory
	BackendFilesystem = "filesystem"
)

// Config holds the runtime configuration
type Config struct {
	Backend         string `koanf:"backend" validate:"oneof=s3 filesystem"`
	Bucket          string `koanf:"bucket" validate:"required_if=Backend s3"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	KMSKeyID        string `koanf:"kms_key_id"`
	StoreDir        string `koanf:"store_dir" validate:"required_if=Backend filesystem"`
	Prefix          string `koanf:"prefix" validate:"required,excludes=.."`

	Passphrase    string `koanf:"passphrase"`
	PassphraseRef string `koanf:"passphrase_ref"`
	KDFSalt       string `koanf:"kdf_salt"`

	GCPCredentialsFile string `koanf:"gcp_credentials_file"`
	GCPImpersonate     string `koanf:"gcp_impersonate"`
	AzureTenantID      string `koanf:"azure_tenant_id"`
	AzureClientID      string `koanf:"azure_client_id"`
	AzureClientSecret  string `koanf:"azure_client_secret"`

	CacheTTLMinutes   int  `koanf:"cache_ttl_minutes" validate:"gte=0"`
	ValidationEnabled bool `koanf:"validation_enabled"`
	BackupRetention   int  `koanf:"backup_retention" validate:"gte=1"`

	TempDir         string        `koanf:"temp_dir"`
	EphemeralMaxAge time.Duration `koanf:"ephemeral_max_age" validate:"gt=0"`
	SweepInterval   time.Duration `koanf:"sweep_interval" validate:"gt=0"`

	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitMax    int           `koanf:"rate_limit_max" validate:"gte=1"`

	RotationInterval time.Duration `koanf:"rotation_interval" validate:"gt=0"`
	RotateOnFailure  bool          `koanf:"rotate_on_failure"`

	OpTimeout time.Duration `koanf:"op_timeout" validate:"gt=0"`
	Workers   int           `koanf:"workers" validate:"gte=1,lte=64"`
	StoreRPS  float64       `koanf:"store_rps" validate:"gte=0"`

	TargetDomains []string `koanf:"target_domains" validate:"min=1,dive,hostname_rfc1123"`

	WebhookURL      string   `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookSecret   string   `koanf:"webhook_secret"`
	SlackWebhookURL string   `koanf:"slack_webhook_url" validate:"omitempty,url"`
	SlackChannel    string   `koanf:"slack_channel"`
	SlackMentions   []string `koanf:"slack_mentions"`
	NotifyQueueSize int      `koanf:"notify_queue_size" validate:"gte=1"`

	HistoryDir  string `koanf:"history_dir"`
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,listen_addr"`
	Debug       bool   `koanf:"debug"`
}

// DefaultConfig is the configuration used when nothing is overridden
var DefaultConfig = Config{
	Backend:           BackendS3,
	Region:            "us-east-1",
	Prefix:            "credentials",
	CacheTTLMinutes:   5,
	ValidationEnabled: true,
	BackupRetention:   10,
	EphemeralMaxAge:   15 * time.Minute,
	SweepInterval:     time.Minute,
	RateLimitWindow:   60 * time.Second,
	RateLimitMax:      10,
	RotationInterval:  168 * time.Hour,
	OpTimeout:         30 * time.Second,
	Workers:           4,
	StoreRPS:          20,
	TargetDomains:     []string{"youtube.com", "google.com"},
	NotifyQueueSize:   100,
	MetricsAddr:       ":9090",
}

// CacheTTL returns the decrypted bundle cache lifetime
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Salt returns the KDF salt, nil meaning the built-in default
func (c Config) Salt() []byte {
	if c.KDFSalt == "" {
		return nil
	}
	return []byte(c.KDFSalt)
}

// EnvName returns the environment variable for a koanf key
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// loaders are variables so tests can force failures
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				value = strings.TrimSpace(value)
				if value == "" {
					return "", nil
				}
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		return v.RegisterValidation("listen_addr", validListenAddr)
	}
)

// Load merges defaults and environment variables, then validates the result
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, cgerrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Check that numeric and duration settings are well formed (e.g. 30s, 15m, 168h)",
		}
	}
	for i, d := range cfg.TargetDomains {
		cfg.TargetDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return EnvName(f.Tag.Get("koanf"))
	})
	if err := v.Struct(&cfg); err != nil {
		return nil, toConfigError(err)
	}
	return &cfg, nil
}

func toConfigError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	ce := cgerrors.ConfigError{
		Field: fe.Field(),
		Value: fe.Value(),
	}
	switch fe.Tag() {
	case "required", "required_if":
		ce.Message = "value is required"
		ce.Value = nil
		if fe.Tag() == "required_if" {
			ce.Suggestion = fmt.Sprintf("Set %s when %s=%s", fe.Field(), EnvName("backend"), strings.Fields(fe.Param())[1])
		}
	case "oneof":
		ce.Message = "must be one of: " + fe.Param()
	case "gt", "gte":
		ce.Message = "must be at least " + fe.Param()
		if fe.Tag() == "gt" {
			ce.Message = "must be greater than " + fe.Param()
		}
	case "lte":
		ce.Message = "must be at most " + fe.Param()
	case "url":
		ce.Message = "must be an absolute URL"
		ce.Value = nil
	case "listen_addr":
		ce.Message = "must be host:port with a port between 1 and 65535"
		ce.Suggestion = "Use :9090 to listen on all interfaces"
	case "hostname_rfc1123", "min":
		ce.Message = "must be a comma-separated list of domain names"
	default:
		ce.Message = fmt.Sprintf("failed %q validation", fe.Tag())
	}
	return ce
}

// validListenAddr accepts [host]:port where host is empty, an IP, or a hostname
func validListenAddr(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s != strings.TrimSpace(s) {
		return false
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil || portStr == "" {
		return false
	}
	if strings.ContainsAny(host, " !") {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return port > 0 && port <= 65535
}
