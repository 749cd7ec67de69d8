// Package config provides YAML-based configuration loading for the wallboard
// daemon, with secrets overlaid from the environment or a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the top-level wallboard configuration, loaded from wallboard.yaml.
type Config struct {
	AMI      AMIConfig      `yaml:"ami"`
	Database DatabaseConfig `yaml:"database"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Redis    RedisConfig    `yaml:"redis"`
	Health   HealthConfig   `yaml:"health"`
}

// AMIConfig holds manager-interface connection settings. When Host is empty
// the daemon falls back to the active ami_config row in the database.
type AMIConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	Username             string        `yaml:"username"`
	Secret               string        `yaml:"secret"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ActionTimeout        time.Duration `yaml:"action_timeout"`
	EventTimeout         time.Duration `yaml:"event_timeout"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectCap         time.Duration `yaml:"reconnect_cap"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	RedactFields         []string      `yaml:"redact_fields"`
}

// Addr returns host:port for dialing.
func (a AMIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseConfig selects the state store. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DaemonConfig controls process control and loop timing.
type DaemonConfig struct {
	PIDFile               string        `yaml:"pid_file"`
	LogFile               string        `yaml:"log_file"`
	DebugLogFile          string        `yaml:"debug_log_file"`
	LogLevel              string        `yaml:"log_level"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	ReconnectDelay        time.Duration `yaml:"reconnect_delay"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	StatusPollInterval    time.Duration `yaml:"status_poll_interval"`
	AlertInterval         time.Duration `yaml:"alert_interval"`
	ConfigRefreshInterval time.Duration `yaml:"config_refresh_interval"`
	StatsCron             string        `yaml:"stats_cron"`
	ResetCron             string        `yaml:"reset_cron"`
}

// AlertsConfig tunes alert evaluation.
type AlertsConfig struct {
	SLAMinSamples   int           `yaml:"sla_min_samples"`
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
	AbandonedWindow time.Duration `yaml:"abandoned_window"`
}

// NotifyConfig holds delivery settings for alert notifications. SMTP values
// here override the smtp_config row when set.
type NotifyConfig struct {
	SMTP          SMTPConfig    `yaml:"smtp"`
	SMS           SMSConfig     `yaml:"sms"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

// SMTPConfig is an outgoing mail server.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMSConfig is an HTTP SMS gateway.
type SMSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	From  string `yaml:"from"`
}

// RedisConfig enables pub/sub fan-out of state changes.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// HealthConfig controls the health listener. An empty Listen disables it.
type HealthConfig struct {
	Listen     string        `yaml:"listen"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads a YAML config file from path, overlays WALLBOARD_* environment
// variables (after loading envFile if it exists) and returns a validated Config.
func Load(path, envFile string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	return parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

// ParseWithEnv is Parse with an explicit environment lookup.
func ParseWithEnv(data []byte, lookup LookupFunc) (*Config, error) {
	return parse(data, lookup)
}

func parse(data []byte, lookup LookupFunc) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets and connection settings from the environment.
func (c *Config) applyEnv(lookup LookupFunc) error {
	str := map[string]*string{
		"WALLBOARD_AMI_HOST":       &c.AMI.Host,
		"WALLBOARD_AMI_USERNAME":   &c.AMI.Username,
		"WALLBOARD_AMI_SECRET":     &c.AMI.Secret,
		"WALLBOARD_DB_DRIVER":      &c.Database.Driver,
		"WALLBOARD_DB_DSN":         &c.Database.DSN,
		"WALLBOARD_DB_PASSWORD":    &c.Database.Password,
		"WALLBOARD_SMTP_PASSWORD":  &c.Notify.SMTP.Password,
		"WALLBOARD_SMS_TOKEN":      &c.Notify.SMS.Token,
		"WALLBOARD_REDIS_PASSWORD": &c.Redis.Password,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("WALLBOARD_AMI_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WALLBOARD_AMI_PORT: %w", err)
		}
		c.AMI.Port = port
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.AMI.Port == 0 {
		c.AMI.Port = 5038
	}
	setDuration(&c.AMI.ConnectTimeout, 30*time.Second)
	setDuration(&c.AMI.ActionTimeout, 10*time.Second)
	setDuration(&c.AMI.EventTimeout, time.Second)
	setDuration(&c.AMI.ReconnectBase, 5*time.Second)
	setDuration(&c.AMI.ReconnectCap, 60*time.Second)
	setDuration(&c.AMI.StaleAfter, 120*time.Second)
	if c.AMI.MaxReconnectAttempts == 0 {
		c.AMI.MaxReconnectAttempts = 10
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "wallboard"
		}
	}

	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = "/var/run/wallboard-daemon.pid"
	}
	if c.Daemon.LogFile == "" {
		c.Daemon.LogFile = "/var/log/wallboard/daemon.log"
	}
	if c.Daemon.DebugLogFile == "" {
		c.Daemon.DebugLogFile = "/var/log/wallboard/ami-debug.log"
	}
	if c.Daemon.LogLevel == "" {
		c.Daemon.LogLevel = "info"
	}
	setDuration(&c.Daemon.RetryDelay, 10*time.Second)
	setDuration(&c.Daemon.ReconnectDelay, 5*time.Second)
	setDuration(&c.Daemon.PingInterval, 30*time.Second)
	setDuration(&c.Daemon.StatusPollInterval, 60*time.Second)
	setDuration(&c.Daemon.AlertInterval, 30*time.Second)
	setDuration(&c.Daemon.ConfigRefreshInterval, 60*time.Second)
	if c.Daemon.StatsCron == "" {
		c.Daemon.StatsCron = "*/5 * * * *"
	}
	if c.Daemon.ResetCron == "" {
		c.Daemon.ResetCron = "0 0 * * *"
	}

	if c.Alerts.SLAMinSamples == 0 {
		c.Alerts.SLAMinSamples = 5
	}
	setDuration(&c.Alerts.DefaultCooldown, 15*time.Minute)
	setDuration(&c.Alerts.AbandonedWindow, time.Hour)

	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}
	if c.Notify.RatePerSecond == 0 {
		c.Notify.RatePerSecond = 5
	}
	if c.Notify.Burst == 0 {
		c.Notify.Burst = 10
	}
	setDuration(&c.Notify.HTTPTimeout, 10*time.Second)

	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "wallboard:state"
	}

	setDuration(&c.Health.StaleAfter, 120*time.Second)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.AMI.Host != "" && c.AMI.Username == "" {
		errs = append(errs, "ami.username is required when ami.host is set")
	}
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		errs = append(errs, fmt.Sprintf("ami.port %d is out of range", c.AMI.Port))
	}
	if c.AMI.ReconnectCap < c.AMI.ReconnectBase {
		errs = append(errs, "ami.reconnect_cap must not be less than ami.reconnect_base")
	}
	switch c.Database.Driver {
	case "mysql":
	case "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	for key, expr := range map[string]string{"daemon.stats_cron": c.Daemon.StatsCron, "daemon.reset_cron": c.Daemon.ResetCron} {
		if _, err := cronParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if _, err := zerolog.ParseLevel(c.Daemon.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("daemon.log_level: %v", err))
	}
	if c.Notify.RatePerSecond < 0 {
		errs = append(errs, "notify.rate_per_second must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		errs = append(errs, "redis.address is required when redis is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
