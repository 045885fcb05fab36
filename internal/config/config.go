package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendDrive = "drive"
	BackendS3    = "s3"

	VideoPolicyPassThrough = "passthrough"
	VideoPolicyReject      = "reject"
)

// GoogleConfig defines the OAuth client and Drive destination.
type GoogleConfig struct {
	ClientId            string `mapstructure:"client_id" validate:"required"`
	ClientSecret        string `mapstructure:"client_secret" validate:"required"`
	RedirectURI         string `mapstructure:"redirect_uri" validate:"required,url"`
	DriveParentFolderId string `mapstructure:"drive_parent_folder_id" validate:"required"`

	// RefreshToken, when set, is used instead of the token file.
	RefreshToken string `mapstructure:"refresh_token"`

	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
}

// S3Config defines an S3-compatible destination. The parent prefix plays the
// role of the Drive parent folder.
type S3Config struct {
	Endpoint     string `mapstructure:"endpoint" validate:"required"`
	AccessKey    string `mapstructure:"access_key" validate:"required"`
	SecretKey    string `mapstructure:"secret_key" validate:"required"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	ParentPrefix string `mapstructure:"parent_prefix" validate:"required"`
}

type StorageConfig struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

// LimitsConfig bounds what one upload request may carry.
type LimitsConfig struct {
	MaxFiles          int   `mapstructure:"max_files" validate:"min=1"`
	MaxFileBytes      int64 `mapstructure:"max_file_bytes" validate:"min=1"`
	UploadConcurrency int   `mapstructure:"upload_concurrency" validate:"min=1"`
}

// ClientConfig drives the upload command. TransportCeiling caps each prepared
// item when a proxy in front of the server limits request bodies; zero means
// no extra cap.
type ClientConfig struct {
	ServerURL        string        `mapstructure:"server_url" validate:"required,url"`
	MaxBatchBytes    int64         `mapstructure:"max_batch_bytes" validate:"min=1"`
	TransportCeiling int64         `mapstructure:"transport_ceiling" validate:"min=0"`
	MaxCount         int           `mapstructure:"max_count" validate:"min=1"`
	MaxDimension     int           `mapstructure:"max_dimension" validate:"min=1"`
	InitialQuality   float64       `mapstructure:"initial_quality" validate:"gt=0,lte=1"`
	VideoPolicy      string        `mapstructure:"video_policy" validate:"oneof=passthrough reject"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Config is the full guestdrive configuration.
type Config struct {
	Port      int    `mapstructure:"port"`
	Debug     bool   `mapstructure:"debug"`
	TokenFile string `mapstructure:"token_file"`

	Google  GoogleConfig  `mapstructure:"google"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Client  ClientConfig  `mapstructure:"client"`

	path string
}

// Path is the config file the values were read from, if any.
func (c *Config) Path() string {
	return c.path
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UsesEnvRefreshToken reports whether the long-lived refresh token mode is active.
func (c *Config) UsesEnvRefreshToken() bool {
	return strings.TrimSpace(c.Google.RefreshToken) != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 4000)
	v.SetDefault("debug", false)
	v.SetDefault("token_file", "tokens.json")

	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_uri", "")
	v.SetDefault("google.drive_parent_folder_id", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.requests_per_second", 5.0)
	v.SetDefault("google.burst", 10)

	v.SetDefault("storage.backend", BackendDrive)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.parent_prefix", "guests")

	v.SetDefault("limits.max_files", 40)
	v.SetDefault("limits.max_file_bytes", 20*1024*1024)
	v.SetDefault("limits.upload_concurrency", 4)

	v.SetDefault("client.server_url", "http://localhost:4000")
	v.SetDefault("client.max_batch_bytes", 4*1024*1024)
	v.SetDefault("client.transport_ceiling", 0)
	v.SetDefault("client.max_count", 20)
	v.SetDefault("client.max_dimension", 2560)
	v.SetDefault("client.initial_quality", 0.8)
	v.SetDefault("client.video_policy", VideoPolicyPassThrough)
	v.SetDefault("client.timeout", "5m")
}

// DefaultConfigPath returns the default path for the guestdrive config file.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user config dir: %w", err)
	}
	return filepath.Join(dir, "guestdrive", "config.toml"), nil
}

// getConfigPath picks the config file to read. An empty result means env and
// defaults only.
func getConfigPath(configPathFlag string) string {
	if configPathFlag != "" {
		return configPathFlag
	}
	if p, err := DefaultConfigPath(); err == nil {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// dotEnvFiles are loaded into the process environment before reading config.
// Variables that are already set win.
var dotEnvFiles = []string{".env"}

func loadDotEnv() error {
	for _, f := range dotEnvFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig reads the optional config file, then applies environment
// overrides (GOOGLE_CLIENT_ID, PORT, LIMITS_MAX_FILES, ...).
func LoadConfig(configPathFlag string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	// Allow users to override config values with environment variables.
	// The key google.client_id maps to GOOGLE_CLIENT_ID.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := getConfigPath(configPathFlag)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading (%s): %w", path, err)
		}
	}

	config := Config{path: path}
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling (%s): %w", path, err)
	}
	return config, nil
}

// Warnings lists missing or invalid server settings. They do not stop the
// server; the affected operations fail when invoked.
func (c *Config) Warnings() []string {
	v := newValidator()

	var out []string
	out = append(out, describe("limits", v.Struct(c.Limits))...)
	switch c.Storage.Backend {
	case BackendDrive:
		g := c.Google
		if c.UsesEnvRefreshToken() && g.RedirectURI == "" {
			// The redirect is only needed for the interactive flow.
			g.RedirectURI = "http://localhost"
		}
		out = append(out, describe("google", v.Struct(g))...)
	case BackendS3:
		out = append(out, describe("storage.s3", v.Struct(c.Storage.S3))...)
	default:
		out = append(out, fmt.Sprintf("storage.backend %q is not one of %s, %s", c.Storage.Backend, BackendDrive, BackendS3))
	}
	return out
}

// ValidateClient checks the settings the upload command depends on.
func (c *Config) ValidateClient() error {
	if err := newValidator().Struct(c.Client); err != nil {
		return fmt.Errorf("invalid client config: %s", strings.Join(describe("client", err), "; "))
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func describe(prefix string, err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := prefix + "." + fe.Field()
		if fe.Tag() == "required" {
			out = append(out, fmt.Sprintf("missing %s", key))
		} else {
			out = append(out, fmt.Sprintf("invalid %s (%s %s)", key, fe.Tag(), fe.Param()))
		}
	}
	return out
}
