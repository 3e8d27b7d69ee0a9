package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/mchmarny/photoguard/pkg/sensitivity"
	"github.com/mchmarny/photoguard/pkg/store"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	objectsDirName = "objects"
	dirMode        = 0700
	fileMode       = 0600

	// EnvPrefix prefixes all environment overrides, e.g. PHOTOGUARD_SERVER_PORT.
	EnvPrefix = "PHOTOGUARD_"

	serverHostDefault     = "127.0.0.1"
	serverPortDefault     = 8080
	uploadMaxBytesDefault = 10 * 1024 * 1024
	fetchMaxBytesDefault  = 20 * 1024 * 1024
)

// Config represents app config object.
type Config struct {
	Classifier sensitivity.Config `yaml:"classifier" envPrefix:"CLASSIFIER_"`
	Storage    store.Options      `yaml:"storage" envPrefix:"STORAGE_"`
	Server     ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Upload     UploadConfig       `yaml:"upload" envPrefix:"UPLOAD_"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

type UploadConfig struct {
	MaxBytes      int64 `yaml:"max_bytes" env:"MAX_BYTES"`
	FetchMaxBytes int64 `yaml:"fetch_max_bytes" env:"FETCH_MAX_BYTES"`
	// FetchToken is sent as a bearer token when fetching remote images.
	FetchToken string `yaml:"-" env:"FETCH_TOKEN"`
}

// Default returns the config used when no file exists yet.
func Default(dirPath string) *Config {
	return &Config{
		Classifier: sensitivity.DefaultConfig(),
		Storage: store.Options{
			Type: store.TypeFile,
			Dir:  filepath.Join(dirPath, objectsDirName),
		},
		Server: ServerConfig{
			Host: serverHostDefault,
			Port: serverPortDefault,
		},
		Upload: UploadConfig{
			MaxBytes:      uploadMaxBytesDefault,
			FetchMaxBytes: fetchMaxBytesDefault,
		},
	}
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config required")
	}
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	switch strings.ToLower(c.Storage.Type) {
	case "", store.TypeFile:
		if c.Storage.Dir == "" {
			return errors.New("storage: dir required for file store")
		}
	case store.TypeS3:
		if c.Storage.Bucket == "" {
			return errors.New("storage: bucket required for s3 store")
		}
	default:
		return fmt.Errorf("storage: unsupported type %q", c.Storage.Type)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload: invalid max bytes %d", c.Upload.MaxBytes)
	}
	return nil
}

// Save writes the config into dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one.
// Environment overrides are applied on top of the file values.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if err := os.MkdirAll(dirPath, dirMode); err != nil {
		return nil, fmt.Errorf("creating dir %s: %w", dirPath, err)
	}

	path := filepath.Join(dirPath, configFileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, Default(dirPath)); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
	}

	return Load(path, Default(dirPath))
}

// Load reads the config file at path over the provided defaults and applies
// environment overrides.
func Load(path string, defaults *Config) (*Config, error) {
	c := defaults
	if c == nil {
		c = Default(filepath.Dir(path))
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("unmarshalling config file %s: %w", path, err)
	}

	if err := ParseEnv(c); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return c, nil
}

// ParseEnv applies PHOTOGUARD_* environment variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("getting user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("creating dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
