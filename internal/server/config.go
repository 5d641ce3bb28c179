package server

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the server's runtime settings. Every field can be set
// through a config file or a PIPECI_-prefixed environment variable
// (e.g. PIPECI_LISTEN_ADDR).
type Config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	PipelineDir string        `mapstructure:"pipeline_dir"`
	DataDir     string        `mapstructure:"data_dir"`
	LogLevel    string        `mapstructure:"log_level"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

// LoadConfig reads configuration from the optional file at path and
// from the environment, falling back to defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("pipeline_dir", "./pipelines")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("step_timeout", 30*time.Minute)

	v.SetEnvPrefix("pipeci")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
