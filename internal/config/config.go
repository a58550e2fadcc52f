package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
)

const envPrefix = "EFIBOOT"

type StoreConfig struct {
	// Type is one of efivarfs, json or edk2.
	Type     string `yaml:"type"      mapstructure:"type"`
	Path     string `yaml:"path"      mapstructure:"path"`
	BootNext bool   `yaml:"boot_next" mapstructure:"boot_next"`
}

type HTTPLoaderConfig struct {
	Timeout      time.Duration `yaml:"timeout"        mapstructure:"timeout"`
	MaxImageSize int64         `yaml:"max_image_size" mapstructure:"max_image_size"`
}

type TFTPLoaderConfig struct {
	Server  string        `yaml:"server"  mapstructure:"server"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Retries int           `yaml:"retries" mapstructure:"retries"`
}

type LoaderConfig struct {
	RequirePE bool `yaml:"require_pe" mapstructure:"require_pe"`
	// Volumes maps a device path prefix, as printed by bootctl show, to a
	// host directory.
	Volumes       map[string]string `yaml:"volumes"        mapstructure:"volumes"`
	DefaultVolume string            `yaml:"default_volume" mapstructure:"default_volume"`
	HTTP          HTTPLoaderConfig  `yaml:"http"           mapstructure:"http"`
	TFTP          TFTPLoaderConfig  `yaml:"tftp"           mapstructure:"tftp"`
}

type OtelConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
}

type MetricsConfig struct {
	// Textfile is written in the node_exporter textfile format after each
	// boot pass. Empty disables it.
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

type Config struct {
	LogLevel string        `yaml:"log_level" mapstructure:"log_level"`
	Store    StoreConfig   `yaml:"store"     mapstructure:"store"`
	Loader   LoaderConfig  `yaml:"loader"    mapstructure:"loader"`
	Otel     OtelConfig    `yaml:"otel"      mapstructure:"otel"`
	Metrics  MetricsConfig `yaml:"metrics"   mapstructure:"metrics"`

	Log logr.Logger `yaml:"-" mapstructure:"-"`
}

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("store.type", "efivarfs")
	v.SetDefault("store.path", "/sys/firmware/efi/efivars")
	v.SetDefault("store.boot_next", true)

	v.SetDefault("loader.require_pe", false)
	v.SetDefault("loader.volumes", map[string]string{})
	v.SetDefault("loader.default_volume", "")
	v.SetDefault("loader.http.timeout", 30*time.Second)
	v.SetDefault("loader.http.max_image_size", 512<<20)
	v.SetDefault("loader.tftp.server", "")
	v.SetDefault("loader.tftp.timeout", 5*time.Second)
	v.SetDefault("loader.tftp.retries", 3)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)

	v.SetDefault("metrics.textfile", "")
}

// NewConfig loads the configuration into v. configFile overrides the search
// for config.yaml in the working directory and /etc/efiboot/. A missing
// config file is not an error.
func NewConfig(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/efiboot/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: unable to read config file: %w", err)
		}
	}

	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: unable to bind env for %s: %w", key, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}
	conf.Log = defaultLogger(conf.LogLevel)

	return conf, nil
}

// Validate reports configuration that cannot produce a working boot manager.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "efivarfs", "json", "edk2":
	default:
		return fmt.Errorf("config: unknown store type %q", c.Store.Type)
	}
	if c.Store.Path == "" {
		return errors.New("config: store.path is required")
	}
	if c.Loader.HTTP.MaxImageSize < 0 {
		return fmt.Errorf("config: negative loader.http.max_image_size %d", c.Loader.HTTP.MaxImageSize)
	}
	return nil
}

// defaultLogger uses the slog logr implementation.
func defaultLogger(level string) logr.Logger {
	// source file and function can be long. This makes the logs less readable.
	// truncate source file and function to last 3 parts for improved readability.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			f := strings.Split(ss.Function, "/")
			if len(f) > 3 {
				ss.Function = filepath.Join(f[len(f)-3:]...)
			}
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}

			return a
		}

		return a
	}
	opts := &slog.HandlerOptions{AddSource: true, ReplaceAttr: customAttr}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		opts.Level = slog.LevelInfo
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	return logr.FromSlogHandler(log.Handler())
}
