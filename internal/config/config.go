// Package config loads bucketdesk settings: defaults, then an optional YAML
// file, then BUCKETDESK_* environment variables (a .env file in the working
// directory is honoured).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/journal"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/notify"
	"github.com/koustreak/bucketdesk/internal/upload"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUCKETDESK"

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig     `yaml:"server"`
	Storage filestore.Config `yaml:"storage"`
	Upload  upload.Config    `yaml:"upload"`
	Listing listing.Config   `yaml:"listing"`
	Actions actions.Config   `yaml:"actions"`
	Notify  NotifyConfig     `yaml:"notify"`
	Log     LogConfig        `yaml:"log"`
	Journal journal.Config   `yaml:"journal"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxSelectionBytes bounds one multipart request adding files.
	MaxSelectionBytes int64 `yaml:"max_selection_bytes"`
	// SessionIdleTimeout drops sessions, and their staged files, after this
	// long without a request.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	// StagingDir holds selected files until they are uploaded. Empty means
	// the system temp directory.
	StagingDir string `yaml:"staging_dir"`
}

// NotifyConfig configures toasts.
type NotifyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig mirrors logger.Config without the output writer.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	TimeFormat string `yaml:"time_format"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeout:        30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			MaxSelectionBytes:  512 << 20,
			SessionIdleTimeout: 2 * time.Hour,
		},
		Storage: filestore.Config{
			Provider: filestore.ProviderS3,
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Upload:  upload.DefaultConfig(),
		Listing: listing.DefaultConfig(),
		Actions: actions.DefaultConfig(),
		Notify:  NotifyConfig{TTL: notify.DefaultTTL},
		Log:     LogConfig{Level: "info", Format: "json", TimeFormat: "rfc3339"},
		Journal: journal.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read .env", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid config file", err)
	}
	return nil
}

// DeskConfig extracts the settings every desk is built with.
func (c *Config) DeskConfig() desk.Config {
	return desk.Config{
		Bucket:    c.Storage.Bucket,
		Upload:    c.Upload,
		Listing:   c.Listing,
		Actions:   c.Actions,
		NotifyTTL: c.Notify.TTL,
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server addr is required")
	}
	if c.Upload.RefreshDelay < 0 {
		return errs.New(errs.ErrKindInvalidInput, "upload refresh_delay must not be negative")
	}
	if c.Listing.PageLimit < 0 || c.Listing.PageLimit > 1000 {
		return errs.New(errs.ErrKindInvalidInput, "listing page_limit must not exceed 1000")
	}
	return nil
}

// ApplyEnv overrides fields from BUCKETDESK_* variables. A key such as
// storage.bucket is read from BUCKETDESK_STORAGE_BUCKET; empty variables
// count as unset.
func (c *Config) ApplyEnv() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, b := range c.bindings() {
		if err := v.BindEnv(b.key); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "cannot bind "+b.key, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		if err := b.set(v.Get(b.key)); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "invalid "+EnvVar(b.key), err)
		}
	}
	return nil
}

// EnvVar names the environment variable overriding key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

type binding struct {
	key string
	set func(any) error
}

func (c *Config) bindings() []binding {
	return []binding{
		{"addr", str(&c.Server.Addr)},
		{"staging_dir", str(&c.Server.StagingDir)},
		{"storage.provider", str(&c.Storage.Provider)},
		{"storage.endpoint", str(&c.Storage.Endpoint)},
		{"storage.access_key", str(&c.Storage.AccessKey)},
		{"storage.secret_key", str(&c.Storage.SecretKey)},
		{"storage.region", str(&c.Storage.Region)},
		{"storage.bucket", str(&c.Storage.Bucket)},
		{"storage.use_ssl", boolean(&c.Storage.UseSSL)},
		{"storage.force_path_style", boolean(&c.Storage.ForcePathStyle)},
		{"upload.prefix", str(&c.Upload.DefaultPrefix)},
		{"upload.refresh_delay", duration(&c.Upload.RefreshDelay)},
		{"listing.page_limit", integer(&c.Listing.PageLimit)},
		{"url_ttl", duration(&c.Actions.URLTTL)},
		{"notify.ttl", duration(&c.Notify.TTL)},
		{"log.level", str(&c.Log.Level)},
		{"log.format", str(&c.Log.Format)},
		{"journal.backend", str(&c.Journal.Backend)},
		{"journal.dsn", str(&c.Journal.Database.DSN)},
		{"journal.table", str(&c.Journal.Table)},
	}
}

func str[T ~string](dst *T) func(any) error {
	return func(v any) error {
		s, err := cast.ToStringE(v)
		if err != nil {
			return err
		}
		*dst = T(strings.TrimSpace(s))
		return nil
	}
}

func boolean(dst *bool) func(any) error {
	return func(v any) error {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func integer(dst *int) func(any) error {
	return func(v any) error {
		n, err := cast.ToIntE(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(any) error {
	return func(v any) error {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// Export renders the configuration as YAML with secrets masked.
func (c Config) Export() ([]byte, error) {
	c.Storage.SecretKey = mask(c.Storage.SecretKey)
	c.Journal.Database.DSN = mask(c.Journal.Database.DSN)

	var sb strings.Builder
	sb.WriteString("# bucketdesk effective configuration\n")
	d, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	sb.Write(d)
	return []byte(sb.String()), nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
