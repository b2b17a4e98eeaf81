// Package config provides configuration management for pagepack using Viper
// for flexible configuration loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the PAGEPACK_ prefix, defaults and validation. It covers the
// project location, route discovery, build output, the dev server, image
// optimization and logging.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/pagepack/internal/asset"
	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/logging"
	"github.com/conneroisu/pagepack/internal/project"
)

// EnvPrefix prefixes environment overrides, e.g. PAGEPACK_SERVER_PORT.
const EnvPrefix = "PAGEPACK"

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = ".pagepack.yml"

// FileEnv names the configuration file when no file is given explicitly.
const FileEnv = EnvPrefix + "_CONFIG_FILE"

type Config struct {
	Project ProjectConfig `mapstructure:"project" yaml:"project"`
	Routes  RoutesConfig  `mapstructure:"routes" yaml:"routes"`
	Build   BuildConfig   `mapstructure:"build" yaml:"build"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Images  ImagesConfig  `mapstructure:"images" yaml:"images"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ProjectConfig struct {
	RootPath    string `mapstructure:"root_path" yaml:"root_path"`
	ProjectPath string `mapstructure:"project_path" yaml:"project_path"`
	Watch       bool   `mapstructure:"watch" yaml:"watch"`
	MemoryLimit uint64 `mapstructure:"memory_limit" yaml:"memory_limit"`
}

type RoutesConfig struct {
	PageExtensions []string `mapstructure:"page_extensions" yaml:"page_extensions"`
}

type BuildConfig struct {
	Mode    string `mapstructure:"mode" yaml:"mode"`
	DistDir string `mapstructure:"dist_dir" yaml:"dist_dir"`
	Workers int    `mapstructure:"workers" yaml:"workers"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type ImagesConfig struct {
	DefaultQuality int `mapstructure:"default_quality" yaml:"default_quality"`
	MaxWidth       int `mapstructure:"max_width" yaml:"max_width"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project.root_path", ".")
	v.SetDefault("project.project_path", "")
	v.SetDefault("project.watch", false)
	v.SetDefault("project.memory_limit", 0)
	v.SetDefault("routes.page_extensions", []string{"tsx", "ts", "jsx", "js"})
	v.SetDefault("build.mode", string(asset.ModeDevelopment))
	v.SetDefault("build.dist_dir", ".pagepack")
	v.SetDefault("build.workers", 4)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.open", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("images.default_quality", 75)
	v.SetDefault("images.max_width", 3840)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and environment overrides
// configured. file, when not empty, is read as the configuration file;
// otherwise PAGEPACK_CONFIG_FILE is consulted, then .pagepack.yml is used if
// present.
func NewViper(file string) (*viper.Viper, error) {
	if file == "" {
		file = os.Getenv(FileEnv)
	}
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "reading "+DefaultFile+": "+err.Error())
			}
		}
		return v, nil
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "reading "+file+": "+err.Error())
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "decoding configuration: "+err.Error())
	}

	// Lists given as comma separated strings (flags, environment) are split
	// and trimmed.
	config.Routes.PageExtensions = splitList(config.Routes.PageExtensions)
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ProjectOptions converts the configuration to project options.
func (c *Config) ProjectOptions() project.Options {
	return project.Options{
		RootPath:      c.Project.RootPath,
		ProjectPath:   c.Project.ProjectPath,
		Watch:         c.Project.Watch,
		MemoryLimit:   c.Project.MemoryLimit,
		Mode:          asset.Mode(c.Build.Mode),
		DistDir:       c.Build.DistDir,
		ImageQuality:  c.Images.DefaultQuality,
		ImageMaxWidth: c.Images.MaxWidth,
	}
}

// RoutesOptions converts the configuration to route discovery options.
func (c *Config) RoutesOptions() project.RoutesOptions {
	return project.RoutesOptions{PageExtensions: c.Routes.PageExtensions}
}

// LoggerConfig converts the log section to a logger configuration.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.Format = c.Log.Format
	return lc
}
