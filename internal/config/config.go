// Package config loads the workspace configuration stored in .figaro/config.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/openmined/figaro/internal/utils"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "FIGARO"

	BackendBox = "box"
	BackendS3  = "s3"

	DefaultRootID       = "0"
	DefaultBoxAPIURL    = "https://api.box.com/2.0"
	DefaultBoxUploadURL = "https://upload.box.com/api/2.0"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Backend     string      `mapstructure:"backend" toml:"backend"`
	Workers     int         `mapstructure:"workers" toml:"workers"`
	Exclude     []string    `mapstructure:"exclude" toml:"exclude,omitempty"`
	Folder      Folder      `mapstructure:"folder" toml:"folder"`
	Credentials Credentials `mapstructure:"credentials" toml:"credentials"`
	Box         Box         `mapstructure:"box" toml:"box"`
	S3          S3          `mapstructure:"s3" toml:"s3"`

	Path string `mapstructure:"-" toml:"-"`
}

type Folder struct {
	BoxID string `mapstructure:"box_id" toml:"box_id"`
}

type Credentials struct {
	ClientID     string `mapstructure:"client_id" toml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" toml:"client_secret"`
	AccessToken  string `mapstructure:"access_token" toml:"access_token"`
}

type Box struct {
	APIURL    string `mapstructure:"api_url" toml:"api_url"`
	UploadURL string `mapstructure:"upload_url" toml:"upload_url"`
}

type S3 struct {
	Bucket    string `mapstructure:"bucket" toml:"bucket"`
	Region    string `mapstructure:"region" toml:"region"`
	Endpoint  string `mapstructure:"endpoint" toml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" toml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" toml:"secret_key,omitempty"`
}

// Default returns a config for the Box backend rooted at the "All Files" folder.
func Default() *Config {
	return &Config{
		Backend: BackendBox,
		Folder:  Folder{BoxID: DefaultRootID},
		Box: Box{
			APIURL:    DefaultBoxAPIURL,
			UploadURL: DefaultBoxUploadURL,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("workers", 0)
	v.SetDefault("exclude", []string{})
	v.SetDefault("folder.box_id", d.Folder.BoxID)
	v.SetDefault("credentials.client_id", "")
	v.SetDefault("credentials.client_secret", "")
	v.SetDefault("credentials.access_token", "")
	v.SetDefault("box.api_url", d.Box.APIURL)
	v.SetDefault("box.upload_url", d.Box.UploadURL)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
}

// Load reads the TOML file at path. FIGARO_* environment variables override
// file values (FIGARO_CREDENTIALS_ACCESS_TOKEN for credentials.access_token),
// and a changed --jobs flag overrides workers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if f := flags.Lookup("jobs"); f != nil {
			if err := v.BindPFlag("workers", f); err != nil {
				return nil, fmt.Errorf("bind jobs flag: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendBox
	}
	if !slices.Contains([]string{BackendBox, BackendS3}, c.Backend) {
		return fmt.Errorf("%w: backend %q must be %q or %q", ErrInvalidConfig, c.Backend, BackendBox, BackendS3)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}

	switch c.Backend {
	case BackendBox:
		if c.Folder.BoxID == "" {
			return fmt.Errorf("%w: folder.box_id is required", ErrInvalidConfig)
		}
		if c.Box.APIURL == "" || c.Box.UploadURL == "" {
			return fmt.Errorf("%w: box.api_url and box.upload_url are required", ErrInvalidConfig)
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required", ErrInvalidConfig)
		}
		if c.Folder.BoxID == DefaultRootID {
			// "0" is the Box root; the bucket root is the empty prefix
			c.Folder.BoxID = ""
		}
		if c.Folder.BoxID != "" && !strings.HasSuffix(c.Folder.BoxID, "/") {
			c.Folder.BoxID += "/"
		}
	}
	return nil
}

// RootID is the remote id the workspace root maps to.
func (c *Config) RootID() string {
	return c.Folder.BoxID
}

// Save writes the config as TOML with owner-only permissions since it may
// carry credentials.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
