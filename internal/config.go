package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects and configures the storage backend.
// Root is a logical prefix inside the backend under which the draft and
// post roots are created.
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Root    string       `yaml:"root"`
	Local   LocalConfig  `yaml:"local"`
	S3      S3Config     `yaml:"s3"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// Validate validates the storage configuration and the section of the
// selected backend.
func (c *StorageConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendLocal, BackendS3, BackendSQLite)),
		validation.Field(&c.Root, validation.By(relativeRoot)),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var err error
	switch c.Backend {
	case BackendLocal:
		err = c.Local.Validate()
	case BackendS3:
		err = c.S3.Validate()
	case BackendSQLite:
		err = c.SQLite.Validate()
	}
	if err != nil {
		return fmt.Errorf("storage.%s: %w", c.Backend, err)
	}
	return nil
}

func relativeRoot(v interface{}) error {
	root, _ := v.(string)
	if strings.HasPrefix(root, "/") || strings.Contains(root, "..") || strings.Contains(root, `\`) {
		return errors.New("must be a relative path without '..'")
	}
	return nil
}

// LocalConfig holds the on-disk storage directory.
type LocalConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the local storage configuration.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// S3Config holds the object storage settings. Endpoint and UsePathStyle
// target S3-compatible services such as MinIO. Empty credentials fall back
// to the default AWS credential chain.
type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.SecretAccessKey, validation.When(c.AccessKeyID != "", validation.Required)),
		validation.Field(&c.AccessKeyID, validation.When(c.SecretAccessKey != "", validation.Required)),
		validation.Field(&c.PresignTTL, validation.Min(time.Second), validation.Max(7*24*time.Hour)),
	)
}

// SQLiteConfig holds the SQLite database file used as blob store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Local: LocalConfig{
				Path: "./data",
			},
			S3: S3Config{
				Region:     "us-east-1",
				PresignTTL: 15 * time.Minute,
			},
			SQLite: SQLiteConfig{
				Path: "./scribe.db",
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
