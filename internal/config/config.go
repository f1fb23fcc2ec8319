// Package config loads stashsync configuration from a YAML file and STASHSYNC_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Log    LogConfig    `mapstructure:"log"`
	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Server ServerConfig `mapstructure:"server"`
}

type AppConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	MachineID string `mapstructure:"machine_id"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	VersionHeader string        `mapstructure:"version_header"`
	Version       string        `mapstructure:"version"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateInterval  time.Duration `mapstructure:"rate_interval"`
	PageSize      int           `mapstructure:"page_size"`
	// Token overrides the encrypted token stored in settings when set.
	Token   string        `mapstructure:"token"`
	Items   ColumnsConfig `mapstructure:"items"`
	Prompts ColumnsConfig `mapstructure:"prompts"`
}

// ColumnsConfig maps engine field names to remote column names.
// Fields left out keep their default column name.
type ColumnsConfig struct {
	Columns map[string]string `mapstructure:"columns"`
}

type SyncConfig struct {
	AutoEnabled bool          `mapstructure:"auto_enabled"`
	Interval    time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

// Load reads configuration from path. A missing file is not an error; defaults
// and environment variables still apply. When envOnly is set the file is ignored.
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STASHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.data_dir", defaultDataDir())
	v.SetDefault("app.machine_id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("remote.base_url", "https://api.notion.com/v1")
	v.SetDefault("remote.version_header", "Notion-Version")
	v.SetDefault("remote.version", "2022-06-28")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.rate_interval", "350ms")
	v.SetDefault("remote.page_size", 100)
	v.SetDefault("remote.token", "")
	v.SetDefault("sync.auto_enabled", true)
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("server.http_addr", "127.0.0.1:8090")

	if !envOnly && path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stashsync")
	}
	return ".stashsync"
}
