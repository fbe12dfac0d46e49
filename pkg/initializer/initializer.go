// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package initializer holds the process-wide default configuration of the
// SDK. Dataset handles that are not given an explicit credential or
// endpoint borrow them from here.
package initializer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/mlplatform/dataset-sdk/pkg/credential"
)

// Configuration keys understood by Init.
const (
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeySessionToken    = "session_token"
	KeyRegion          = "region"
	KeyAPIEndpoint     = "api_endpoint"
	KeyTOSEndpoint     = "tos_endpoint"
	KeyOutput          = "output"
	KeyChunkSize       = "chunk_size"
	KeyStrictDirs      = "strict_dirs"
)

// EnvPrefix is the prefix of environment variables read by Init.
const EnvPrefix = "MLP"

// Defaults.
const (
	DefaultAPIEndpoint = "https://open.volcengineapi.com"
	DefaultTOSEndpoint = "https://tos-s3-cn-beijing.volces.com"
	DefaultOutput      = "Datasets"
	DefaultChunkSize   = 8192
)

// Config is the process-wide SDK configuration.
type Config struct {
	Credential  credential.Credential `json:"credential" yaml:"credential"`
	APIEndpoint string                `json:"api_endpoint" yaml:"api_endpoint"`
	TOSEndpoint string                `json:"tos_endpoint" yaml:"tos_endpoint"`
	Output      string                `json:"output" yaml:"output"`
	ChunkSize   int                   `json:"chunk_size" yaml:"chunk_size"`
	StrictDirs  bool                  `json:"strict_dirs" yaml:"strict_dirs"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Credential:  credential.Credential{Region: credential.DefaultRegion},
		APIEndpoint: DefaultAPIEndpoint,
		TOSEndpoint: DefaultTOSEndpoint,
		Output:      DefaultOutput,
		ChunkSize:   DefaultChunkSize,
	}
}

// Option customizes Init.
type Option func(*initOptions)

type initOptions struct {
	configFile string
	viper      *viper.Viper
	overrides  []func(*Config)
}

// WithConfigFile reads the given file (yaml, json or toml) in addition to
// defaults and environment.
func WithConfigFile(path string) Option {
	return func(o *initOptions) { o.configFile = path }
}

// WithViper uses v instead of a fresh viper instance. Callers use this to
// bind command-line flags before Init resolves values.
func WithViper(v *viper.Viper) Option {
	return func(o *initOptions) { o.viper = v }
}

// WithCredential overrides the credential after all other sources.
func WithCredential(c credential.Credential) Option {
	return func(o *initOptions) {
		o.overrides = append(o.overrides, func(cfg *Config) {
			cfg.Credential = c.Merge(cfg.Credential)
		})
	}
}

// WithAPIEndpoint overrides the metadata API endpoint.
func WithAPIEndpoint(endpoint string) Option {
	return func(o *initOptions) {
		o.overrides = append(o.overrides, func(cfg *Config) { cfg.APIEndpoint = endpoint })
	}
}

// WithTOSEndpoint overrides the object-storage endpoint.
func WithTOSEndpoint(endpoint string) Option {
	return func(o *initOptions) {
		o.overrides = append(o.overrides, func(cfg *Config) { cfg.TOSEndpoint = endpoint })
	}
}

var (
	mu     sync.RWMutex
	global = DefaultConfig()
)

// Init resolves the process-wide configuration from, in increasing
// precedence: built-in defaults, the config file, MLP_* environment
// variables, values bound on the supplied viper instance, and explicit
// options. It replaces the previous global configuration.
func Init(opts ...Option) error {
	o := &initOptions{}
	for _, opt := range opts {
		opt(o)
	}
	v := o.viper
	if v == nil {
		v = viper.New()
	}

	cfg, err := load(v, o.configFile)
	if err != nil {
		return err
	}
	for _, fn := range o.overrides {
		fn(&cfg)
	}

	Set(cfg)
	return nil
}

func load(v *viper.Viper, configFile string) (Config, error) {
	def := DefaultConfig()
	v.SetDefault(KeyRegion, def.Credential.Region)
	v.SetDefault(KeyAPIEndpoint, def.APIEndpoint)
	v.SetDefault(KeyTOSEndpoint, def.TOSEndpoint)
	v.SetDefault(KeyOutput, def.Output)
	v.SetDefault(KeyChunkSize, def.ChunkSize)
	v.SetDefault(KeyStrictDirs, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(configFile)), ".")
		if ext == "yml" {
			ext = "yaml"
		}
		if ext == "" {
			return Config{}, errors.New("configuration file has no extension")
		}
		v.SetConfigType(ext)
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Credential: credential.Credential{
			AccessKeyID:     v.GetString(KeyAccessKeyID),
			SecretAccessKey: v.GetString(KeySecretAccessKey),
			SessionToken:    v.GetString(KeySessionToken),
			Region:          v.GetString(KeyRegion),
		},
		APIEndpoint: v.GetString(KeyAPIEndpoint),
		TOSEndpoint: v.GetString(KeyTOSEndpoint),
		Output:      v.GetString(KeyOutput),
		ChunkSize:   v.GetInt(KeyChunkSize),
		StrictDirs:  v.GetBool(KeyStrictDirs),
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return cfg, nil
}

// Set replaces the process-wide configuration.
func Set(cfg Config) {
	mu.Lock()
	global = cfg
	mu.Unlock()
}

// Reset restores the built-in defaults.
func Reset() {
	Set(DefaultConfig())
}

// Global returns a copy of the process-wide configuration.
func Global() Config {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// GetCredential returns the process-wide default credential.
func GetCredential() credential.Credential {
	return Global().Credential
}
