package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/payload"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "MEDIFY"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "medify.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCookieName      = "app_session"
	defaultSessionIssuer   = "mprlab-auth"
	defaultPublicBaseURL   = "http://localhost:8080"
	defaultPayloadMode     = string(payload.ModeAuto)
	defaultBlobBackend     = BlobBackendFilesystem
	defaultBlobRoot        = "blobs"
	defaultTracingEndpoint = "localhost:4318"
	defaultSampleRate      = 1.0
	defaultIdleTimeout     = 30 * time.Minute
	defaultServiceName     = "medify-api"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Blob store backends.
const (
	BlobBackendFilesystem = "filesystem"
	BlobBackendS3         = "s3"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	ServiceName    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	SessionSigningKey string
	SessionCookieName string
	SessionIssuer     string

	PublicBaseURL string
	PayloadMode   payload.Mode

	BlobBackend   string
	BlobRoot      string
	BlobPublicURL string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string

	TracingEnabled    bool
	TracingEndpoint   string
	TracingInsecure   bool
	TracingSampleRate float64

	EditSessionIdleTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("service.name", defaultServiceName)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("payload.mode", defaultPayloadMode)
	configViper.SetDefault("blobs.backend", defaultBlobBackend)
	configViper.SetDefault("blobs.root", defaultBlobRoot)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.endpoint", defaultTracingEndpoint)
	configViper.SetDefault("tracing.insecure", true)
	configViper.SetDefault("tracing.sample_rate", defaultSampleRate)
	configViper.SetDefault("sessions.idle_timeout", defaultIdleTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	mode, err := payload.ParseMode(configViper.GetString("payload.mode"))
	if err != nil {
		return AppConfig{}, err
	}
	publicBaseURL := strings.TrimRight(strings.TrimSpace(configViper.GetString("public.base_url")), "/")
	blobBackend := strings.ToLower(strings.TrimSpace(configViper.GetString("blobs.backend")))
	blobPublicURL := strings.TrimRight(strings.TrimSpace(configViper.GetString("blobs.public_url")), "/")
	if blobPublicURL == "" && blobBackend == BlobBackendFilesystem && publicBaseURL != "" {
		blobPublicURL = publicBaseURL + "/blobs"
	}

	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		AllowedOrigins:         parseOrigins(configViper.GetStringSlice("http.allowed_origins")),
		ServiceName:            configViper.GetString("service.name"),
		DatabaseDriver:         strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:           configViper.GetString("database.path"),
		DatabaseDSN:            configViper.GetString("database.dsn"),
		LogLevel:               configViper.GetString("log.level"),
		LogFormat:              configViper.GetString("log.format"),
		SessionSigningKey:      configViper.GetString("session.signing_secret"),
		SessionCookieName:      configViper.GetString("session.cookie_name"),
		SessionIssuer:          configViper.GetString("session.issuer"),
		PublicBaseURL:          publicBaseURL,
		PayloadMode:            mode,
		BlobBackend:            blobBackend,
		BlobRoot:               configViper.GetString("blobs.root"),
		BlobPublicURL:          blobPublicURL,
		S3Bucket:               configViper.GetString("blobs.s3.bucket"),
		S3Region:               configViper.GetString("blobs.s3.region"),
		S3Endpoint:             configViper.GetString("blobs.s3.endpoint"),
		TracingEnabled:         configViper.GetBool("tracing.enabled"),
		TracingEndpoint:        configViper.GetString("tracing.endpoint"),
		TracingInsecure:        configViper.GetBool("tracing.insecure"),
		TracingSampleRate:      configViper.GetFloat64("tracing.sample_rate"),
		EditSessionIdleTimeout: configViper.GetDuration("sessions.idle_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		return fmt.Errorf("public.base_url must be an absolute url: %w", err)
	}
	switch c.BlobBackend {
	case BlobBackendFilesystem:
		if strings.TrimSpace(c.BlobRoot) == "" {
			return fmt.Errorf("blobs.root is required")
		}
	case BlobBackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			return fmt.Errorf("blobs.s3.bucket is required for the s3 backend")
		}
		if strings.TrimSpace(c.BlobPublicURL) == "" {
			return fmt.Errorf("blobs.public_url is required for the s3 backend")
		}
	default:
		return fmt.Errorf("blobs.backend %q is not supported", c.BlobBackend)
	}
	for _, origin := range c.AllowedOrigins {
		parsed, err := url.Parse(origin)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" || (parsed.Path != "" && parsed.Path != "/") {
			return fmt.Errorf("http.allowed_origins entry %q must be an http(s) origin", origin)
		}
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if c.EditSessionIdleTimeout <= 0 {
		return fmt.Errorf("sessions.idle_timeout must be positive")
	}
	return nil
}

// parseOrigins accepts space or comma separated entries so the list can come
// from a single environment variable.
func parseOrigins(raw []string) []string {
	var origins []string
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
