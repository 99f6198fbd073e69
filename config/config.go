package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment,
// PINGAGENT_INDICATOR_ENABLED overrides indicator.enabled.
const EnvPrefix = "PINGAGENT"

type Config struct {
	Token                  string    `mapstructure:"token" yaml:"token"`
	APIEndpoint            string    `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	Brightness             int       `mapstructure:"brightness" yaml:"brightness"`
	APISubmitPingsInterval int       `mapstructure:"api_submit_pings_interval" yaml:"api_submit_pings_interval"`
	LocalWatcherInterval   Interval  `mapstructure:"local_watcher_interval" yaml:"local_watcher_interval"`
	SpikePingSample        int       `mapstructure:"spike_ping_sample" yaml:"spike_ping_sample"`
	MinSamples             int       `mapstructure:"min_samples" yaml:"min_samples"`
	BufferSize             int       `mapstructure:"buffer_size" yaml:"buffer_size"`
	SpikeAlertThreshold    float64   `mapstructure:"spike_alert_threshold" yaml:"spike_alert_threshold"`
	SensitiveTarget        string    `mapstructure:"sensitive_target" yaml:"sensitive_target"`
	InternetTarget         string    `mapstructure:"internet_target" yaml:"internet_target"`
	LocalTarget            string    `mapstructure:"local_target" yaml:"local_target"`
	GatewayTarget          string    `mapstructure:"gateway_target" yaml:"gateway_target"`
	ProbeRestartDelay      Interval  `mapstructure:"probe_restart_delay" yaml:"probe_restart_delay"`
	KeepAliveTime          Interval  `mapstructure:"keep_alive_time" yaml:"keep_alive_time"`
	DiscoveryRetry         Interval  `mapstructure:"discovery_retry" yaml:"discovery_retry"`
	SubmitTimeout          Interval  `mapstructure:"submit_timeout" yaml:"submit_timeout"`
	Indicator              Indicator `mapstructure:"indicator" yaml:"indicator"`
	Listen                 string    `mapstructure:"listen" yaml:"listen"`
	AllowedOrigins         []string  `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	LogLevel               string    `mapstructure:"log_level" yaml:"log_level"`
}

// Indicator configures the status LED helper.
type Indicator struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Command string `mapstructure:"command" yaml:"command"`
	Pixels  int    `mapstructure:"pixels" yaml:"pixels"`
	WaitMs  int    `mapstructure:"wait_ms" yaml:"wait_ms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("token", "osx_polas_dev")
	v.SetDefault("api_endpoint", "https://adref.projects.sirodoht.com/pings_two/")
	v.SetDefault("brightness", 40)
	v.SetDefault("api_submit_pings_interval", 300)
	v.SetDefault("local_watcher_interval", "5s")
	v.SetDefault("spike_ping_sample", 5)
	v.SetDefault("min_samples", 5)
	v.SetDefault("buffer_size", 300)
	v.SetDefault("spike_alert_threshold", 0.3)
	v.SetDefault("sensitive_target", "internet")
	v.SetDefault("internet_target", "8.8.8.8")
	v.SetDefault("local_target", "")
	v.SetDefault("gateway_target", "")
	v.SetDefault("probe_restart_delay", "2s")
	v.SetDefault("keep_alive_time", "2m")
	v.SetDefault("discovery_retry", "3s")
	v.SetDefault("submit_timeout", "10s")
	v.SetDefault("indicator.enabled", true)
	v.SetDefault("indicator.command", "neopix.py")
	v.SetDefault("indicator.pixels", 8)
	v.SetDefault("indicator.wait_ms", 20)
	v.SetDefault("listen", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", "info")
}

// Default returns the built in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path on top of the defaults. An empty
// path searches ./ping-agent.yaml and /etc/ping-agent/ and falls back to the
// defaults when neither exists.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("ping-agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ping-agent/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			logrus.Debug("No config file found, using defaults")
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		logrus.Debug("Using config file: ", used)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		intervalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BufferSize < 1:
		return errors.New("buffer_size must be positive")
	case c.SpikePingSample < 1:
		return errors.New("spike_ping_sample must be positive")
	case c.SpikePingSample > c.BufferSize:
		return fmt.Errorf("spike_ping_sample %d exceeds buffer_size %d", c.SpikePingSample, c.BufferSize)
	case c.MinSamples < 1:
		return errors.New("min_samples must be positive")
	case c.APISubmitPingsInterval < 1:
		return errors.New("api_submit_pings_interval must be positive")
	case c.SpikeAlertThreshold <= 0:
		return errors.New("spike_alert_threshold must be positive")
	case c.LocalWatcherInterval.Duration <= 0:
		return errors.New("local_watcher_interval must be positive")
	case c.InternetTarget == "":
		return errors.New("internet_target is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Interval is a duration written as a string such as "5s".
type Interval struct {
	time.Duration
}

func (d Interval) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

var intervalType = reflect.TypeOf(Interval{})

// intervalHook decodes strings and plain numbers of seconds into Interval.
func intervalHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != intervalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		return Interval{Duration: d}, nil
	case int:
		return Interval{Duration: time.Duration(v) * time.Second}, nil
	case int64:
		return Interval{Duration: time.Duration(v) * time.Second}, nil
	case float64:
		return Interval{Duration: time.Duration(v * float64(time.Second))}, nil
	case time.Duration:
		return Interval{Duration: v}, nil
	}
	return data, nil
}
