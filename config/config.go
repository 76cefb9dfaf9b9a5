package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	logcfg "github.com/ncobase/msst/logging/logger/config"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/oss"
	"github.com/ncobase/msst/validator"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MSST_STORAGE_SECRET.
const EnvPrefix = "MSST"

// Config represents the configuration implementation.
type Config struct {
	AppName     string
	Environment string
	Storage     *Storage
	MSST        *msst.Config
	Workflow    *Workflow
	Server      *Server
	Worker      *Worker
	Redis       *Redis
	Logger      *logcfg.Config
	Observes    *Observes
	Viper       *viper.Viper

	mu sync.Mutex
}

// LoadConfig reads configPath, or the first config.{yaml,json,toml} found in
// /etc/msst, $HOME/.msst, the working directory and the executable directory
// when configPath is empty. A missing default file is not an error: defaults
// and MSST_* environment variables still apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/msst")
		v.AddConfigPath("$HOME/.msst")
		v.AddConfigPath(".")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(ex))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return build(v), nil
}

func build(v *viper.Viper) *Config {
	return &Config{
		AppName:     getStringOrDefault(v, "app_name", "msst"),
		Environment: getStringOrDefault(v, "environment", "production"),
		Storage:     getStorageConfig(v),
		MSST:        getMSSTConfig(v),
		Workflow:    getWorkflowConfig(v),
		Server:      getServerConfig(v),
		Worker:      getWorkerConfig(v),
		Redis:       getRedisConfig(v),
		Logger:      logcfg.GetConfig(v),
		Observes:    getObservesConfig(v),
		Viper:       v,
	}
}

// File returns the config file in use, or "".
func (c *Config) File() string {
	if c.Viper == nil {
		return ""
	}
	return c.Viper.ConfigFileUsed()
}

// Validate checks the sections every command relies on.
func (c *Config) Validate() error {
	if err := validator.Validate(c.MSST); err != nil {
		return fmt.Errorf("msst: %w", err)
	}
	if err := validator.Validate(c.Workflow); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

// Watch reloads the file on change and hands every successfully rebuilt
// config to callback.
func (c *Config) Watch(callback func(*Config)) {
	if c.Viper == nil || c.File() == "" {
		return
	}
	c.Viper.OnConfigChange(func(fsnotify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		callback(build(c.Viper))
	})
	c.Viper.WatchConfig()
}

// NewStorage builds the configured object store behind a Gateway.
func (c *Config) NewStorage(ctx context.Context) (oss.Interface, *oss.Gateway, error) {
	store, err := oss.NewStorage(ctx, &c.Storage.Config)
	if err != nil {
		return nil, nil, err
	}
	return store, oss.NewGateway(store, c.Storage.GatewayConfig()), nil
}
