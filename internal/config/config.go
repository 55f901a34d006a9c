package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Header is one impersonation header. Order and case are kept as configured.
type Header struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

type Product struct {
	Type            string `mapstructure:"type"`
	Name            string `mapstructure:"name"`
	Code            string `mapstructure:"code"`
	RequiredChoices bool   `mapstructure:"required_choices"`
}

type Promotion struct {
	Letter string `mapstructure:"letter"`
	ID     string `mapstructure:"id"`
}

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Redis struct {
		Addr              string `mapstructure:"addr"`
		Password          string `mapstructure:"password"`
		DB                int    `mapstructure:"db"`
		SessionTTLSeconds int    `mapstructure:"session_ttl_seconds"`
	} `mapstructure:"redis"`

	Identity struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"identity"`

	Retry struct {
		MaxAttempts int `mapstructure:"max_attempts"`
		DelayMS     int `mapstructure:"delay_ms"`
	} `mapstructure:"retry"`

	Captcha struct {
		Endpoint       string `mapstructure:"endpoint"`
		APIKey         string `mapstructure:"api_key"`
		SiteKey        string `mapstructure:"site_key"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"captcha"`

	Remote struct {
		BaseURL        string   `mapstructure:"base_url"`
		OperationsPath string   `mapstructure:"operations_path"`
		ConfirmPath    string   `mapstructure:"confirm_path"`
		WarmupPaths    []string `mapstructure:"warmup_paths"`
		DeviceHeader   string   `mapstructure:"device_header"`
		TimeoutSeconds int      `mapstructure:"timeout_seconds"`
		Headers        []Header `mapstructure:"headers"`
	} `mapstructure:"remote"`

	Products   []Product   `mapstructure:"products"`
	Promotions []Promotion `mapstructure:"promotions"`

	Bundle struct {
		QRSize int `mapstructure:"qr_size"`
	} `mapstructure:"bundle"`
}

// Load reads configs/application.yaml and APP_* env overrides.
func Load() Config {
	cfg, err := LoadFrom("configs")
	if err != nil {
		panic(err)
	}
	return cfg
}

func LoadFrom(dir string) (Config, error) {
	v := newViper(dir)
	_ = v.ReadInConfig() // optional; env can fully configure
	return decode(v)
}

// Watch re-reads the config file on change and hands the result to onChange.
// Decode errors keep the previous config in place.
func Watch(dir string, onChange func(Config)) {
	v := newViper(dir)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("config watch disabled")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload")
			return
		}
		log.Info().Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// env vars are only seen by Unmarshal for known keys
	for _, k := range []string{
		"server.addr", "server.log_level",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name", "postgres.ssl_mode",
		"redis.addr", "redis.password", "redis.db", "redis.session_ttl_seconds",
		"identity.secret",
		"retry.max_attempts", "retry.delay_ms",
		"captcha.endpoint", "captcha.api_key", "captcha.site_key", "captcha.timeout_seconds",
		"remote.base_url", "remote.operations_path", "remote.confirm_path", "remote.device_header", "remote.timeout_seconds",
	} {
		_ = v.BindEnv(k)
	}
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)
	return cfg, nil
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Redis.SessionTTLSeconds <= 0 { c.Redis.SessionTTLSeconds = 900 }
	if c.Retry.MaxAttempts <= 0 { c.Retry.MaxAttempts = 25 }
	if c.Retry.DelayMS <= 0 { c.Retry.DelayMS = 1000 }
	if c.Captcha.TimeoutSeconds <= 0 { c.Captcha.TimeoutSeconds = 120 }
	if c.Remote.TimeoutSeconds <= 0 { c.Remote.TimeoutSeconds = 15 }
	if c.Remote.DeviceHeader == "" { c.Remote.DeviceHeader = "x-device" }
	if c.Bundle.QRSize <= 0 { c.Bundle.QRSize = 256 }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) RetryDelay() time.Duration { return time.Duration(c.Retry.DelayMS) * time.Millisecond }

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

func (c Config) CaptchaTimeout() time.Duration {
	return time.Duration(c.Captcha.TimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Redis.SessionTTLSeconds) * time.Second
}
