// Package config loads skillgate settings from config files, SKILLGATE_*
// environment variables and bound CLI flags.
package config

import (
	"os"
	"strings"

	"github.com/jingkaihe/skillgate/pkg/activation"
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/plugins"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SKILLGATE_BUDGET.
const EnvPrefix = "SKILLGATE"

// Defaults.
const (
	DefaultBudget            = 8000
	DefaultCompositionWeight = 1
	DefaultServerAddr        = "127.0.0.1:8470"
)

// AuditConfig selects the transition audit sink.
type AuditConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ServerConfig configures `skillgate serve`.
type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Watch bool   `mapstructure:"watch"`
}

// Config is the decoded skillgate configuration.
type Config struct {
	Budget            int              `mapstructure:"budget"`
	IdentityOverhead  int              `mapstructure:"identity_overhead"`
	IdentityFile      string           `mapstructure:"identity_file"`
	CompositionWeight int              `mapstructure:"composition_weight"`
	BaseDir           string           `mapstructure:"base_dir"`
	Builtin           bool             `mapstructure:"builtin_packs"`
	EnabledPacks      []string         `mapstructure:"enabled_packs"`
	DisabledPacks     []string         `mapstructure:"disabled_packs"`
	PackPriority      []string         `mapstructure:"pack_priority"`
	LogLevel          string           `mapstructure:"log_level"`
	LogFormat         string           `mapstructure:"log_format"`
	Audit             AuditConfig      `mapstructure:"audit"`
	Tracing           telemetry.Config `mapstructure:"tracing"`
	Server            ServerConfig     `mapstructure:"server"`
}

// SetDefaults registers default values. Keys must be known to viper for
// environment overrides to show up in Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("budget", DefaultBudget)
	v.SetDefault("identity_overhead", 0)
	v.SetDefault("identity_file", "")
	v.SetDefault("composition_weight", DefaultCompositionWeight)
	v.SetDefault("base_dir", plugins.DefaultBaseDir)
	v.SetDefault("builtin_packs", true)
	v.SetDefault("enabled_packs", []string{})
	v.SetDefault("disabled_packs", []string{})
	v.SetDefault("pack_priority", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("audit.driver", audit.DriverLog)
	v.SetDefault("audit.path", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", telemetry.TracerName)
	v.SetDefault("tracing.sampler", "always")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.watch", true)
}

// Init prepares v the way the CLI uses it: defaults, SKILLGATE_ environment
// variables and an optional config.yaml in $HOME/.skillgate or the working
// directory. A missing config file is not an error.
func Init(v *viper.Viper) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.skillgate")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return cfg, errors.Wrap(err, "failed to decode configuration")
	}

	cfg.EnabledPacks = compact(cfg.EnabledPacks)
	cfg.DisabledPacks = compact(cfg.DisabledPacks)
	cfg.PackPriority = compact(cfg.PackPriority)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a session.
func (c Config) Validate() error {
	if c.Budget <= 0 {
		return errors.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.IdentityOverhead < 0 {
		return errors.Errorf("identity_overhead must not be negative, got %d", c.IdentityOverhead)
	}
	if c.CompositionWeight <= 0 {
		return errors.Errorf("composition_weight must be positive, got %d", c.CompositionWeight)
	}
	switch c.Audit.Driver {
	case "", audit.DriverLog, audit.DriverSQLite:
	case audit.DriverFile:
		if c.Audit.Path == "" {
			return errors.New("audit.path is required for the file audit driver")
		}
	default:
		return errors.Errorf("unknown audit driver %q", c.Audit.Driver)
	}
	return nil
}

// Identity reads the identity file. Without an explicit identity_overhead the
// overhead is estimated from the file's size.
func (c Config) Identity() (content string, overhead int, err error) {
	overhead = c.IdentityOverhead
	if c.IdentityFile == "" {
		return "", overhead, nil
	}

	b, err := os.ReadFile(c.IdentityFile)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to read identity file %s", c.IdentityFile)
	}
	content = string(b)
	if overhead == 0 {
		overhead = skills.EstimateWeight(content)
	}
	return content, overhead, nil
}

// Session returns the budget settings for new sessions.
func (c Config) Session(identityOverhead int) session.Config {
	return session.Config{Budget: c.Budget, IdentityOverhead: identityOverhead}
}

// DiscoveryOptions returns the pack discovery settings.
func (c Config) DiscoveryOptions() []plugins.DiscoveryOption {
	return []plugins.DiscoveryOption{
		plugins.WithBaseDir(c.BaseDir),
		plugins.WithEnabledPacks(c.EnabledPacks...),
		plugins.WithDisabledPacks(c.DisabledPacks...),
		plugins.WithCompositionWeight(c.CompositionWeight),
		plugins.WithBuiltinPacks(c.Builtin),
	}
}

// Matcher returns a matcher honouring pack_priority.
func (c Config) Matcher() *activation.Matcher {
	return activation.NewMatcher(activation.WithPackPriority(c.PackPriority...))
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
