// Package config loads CLI configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/observability"
	"github.com/wippyai/disposetree/tree"
)

// EnvPrefix prefixes every environment override, e.g. DISPOSETREE_LOG_LEVEL.
const EnvPrefix = "DISPOSETREE"

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Tree    TreeConfig    `mapstructure:"tree"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TreeConfig struct {
	TraceAllocation bool `mapstructure:"trace_allocation"`
	DisposedMemo    int  `mapstructure:"disposed_memo"`
	StrictErrors    bool `mapstructure:"strict_errors"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("tree.trace_allocation", false)
	v.SetDefault("tree.disposed_memo", tree.DefaultDisposedMemo)
	v.SetDefault("tree.strict_errors", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "disposetree")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if _, err := zapcore.ParseLevel(c.Log.Level); c.Log.Level != "" && err != nil {
		warnings = append(warnings, fmt.Sprintf("log level '%s' is unknown, using info", c.Log.Level))
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("log format '%s' is unknown, using console", c.Log.Format))
	}

	if c.Tree.DisposedMemo < 0 {
		warnings = append(warnings, fmt.Sprintf("tree disposed_memo %d is negative, memo disabled", c.Tree.DisposedMemo))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	if c.Tracing.Endpoint == "" && c.Tracing.SampleRate > 0 && c.Tracing.SampleRate < 1 {
		warnings = append(warnings, "tracing sample_rate is set but no endpoint is configured")
	}

	return warnings
}

// Load reads configuration from path, if non-empty, and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Cause(err).
				Detail("reading config %s", path).
				Build()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Cause(err).
			Detail("unmarshalling config").
			Build()
	}

	return &cfg, nil
}

// Logger builds a zap logger from the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if c.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// TreeOptions translates the tree section into tree options.
func (c *Config) TreeOptions() []tree.Option {
	memo := c.Tree.DisposedMemo
	if memo < 0 {
		memo = 0
	}
	return []tree.Option{
		tree.WithTraceAllocation(c.Tree.TraceAllocation),
		tree.WithDisposedMemo(memo),
		tree.WithStrictErrors(c.Tree.StrictErrors),
	}
}

// TracingConfig translates the tracing section for observability.InitTracing.
func (c *Config) TracingConfig() *observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.OTLPEndpoint = c.Tracing.Endpoint
	if c.Tracing.ServiceName != "" {
		tc.ServiceName = c.Tracing.ServiceName
	}
	tc.SampleRate = c.Tracing.SampleRate
	return tc
}
