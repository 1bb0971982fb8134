// Package config loads the pipeline settings shared by every stage binary.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/pdfrasterflow/internal/layout"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
)

// EnvPrefix prefixes every environment override, e.g. PDFFLOW_LEDGER_DRIVER.
const EnvPrefix = "PDFFLOW"

type Config struct {
	Root       string           `mapstructure:"root"`
	Folders    layout.Folders   `mapstructure:"folders"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Lease      LeaseConfig      `mapstructure:"lease"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Promotion  PromotionConfig  `mapstructure:"promotion"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Mail       MailConfig       `mapstructure:"mail"`
	Log        LogConfig        `mapstructure:"log"`

	// Obfuscated marks remote and mail credentials as base64 encoded.
	Obfuscated bool `mapstructure:"obfuscated"`
}

type LedgerConfig struct {
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type LeaseConfig struct {
	Driver              string        `mapstructure:"driver"` // ledger, redis, firestore, none
	TTL                 time.Duration `mapstructure:"ttl"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	RedisPassword       string        `mapstructure:"redis_password"`
	RedisDB             int           `mapstructure:"redis_db"`
	FirestoreProject    string        `mapstructure:"firestore_project"`
	FirestoreDatabase   string        `mapstructure:"firestore_database"`
	FirestoreCollection string        `mapstructure:"firestore_collection"`
}

type RemoteConfig struct {
	Driver string `mapstructure:"driver"` // sftp, gcs, s3, local
	Root   string `mapstructure:"root"`

	Host                  string        `mapstructure:"host"`
	Port                  string        `mapstructure:"port"`
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`

	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type ConversionConfig struct {
	DPI         int `mapstructure:"dpi"`
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type PromotionConfig struct {
	PurgeStaging bool `mapstructure:"purge_staging"`
}

type RetentionConfig struct {
	MinAgeDays int `mapstructure:"min_age_days"`
}

type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Sender   string `mapstructure:"sender"`
	Receiver string `mapstructure:"receiver"`
	CC       string `mapstructure:"cc"` // comma separated
	Password string `mapstructure:"password"`
	Subject  string `mapstructure:"subject"`
}

// CCList splits the CC setting into addresses.
func (m MailConfig) CCList() []string {
	var out []string
	for _, addr := range strings.Split(m.CC, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	File    string `mapstructure:"file"` // relative to the logs folder unless absolute
	Console bool   `mapstructure:"console"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	ld := ledger.DefaultConfig()
	return Config{
		Root:    ".",
		Folders: layout.DefaultFolders(),
		Ledger: LedgerConfig{
			Driver:      ld.Driver,
			Path:        ld.Path,
			BusyTimeout: ld.BusyTimeout,
		},
		Lease: LeaseConfig{
			Driver:              "ledger",
			TTL:                 2 * time.Hour,
			RedisAddr:           "localhost:6379",
			FirestoreCollection: "stage_leases",
		},
		Remote: RemoteConfig{
			Driver:      "sftp",
			Root:        "temp_files",
			Port:        "22",
			DialTimeout: 30 * time.Second,
		},
		Conversion: ConversionConfig{DPI: 300, JPEGQuality: 75},
		Retention:  RetentionConfig{MinAgeDays: 1},
		Mail: MailConfig{
			Host:    "smtp.gmail.com",
			Port:    465,
			Subject: "Daily Status Report",
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			File:    "pdf_convert.log",
			Console: true,
		},
		Obfuscated: true,
	}
}

// legacyEnv maps config keys to the bare environment names older deployments set.
var legacyEnv = map[string]string{
	"remote.host":     "SSH_HOST",
	"remote.username": "SSH_USERNAME",
	"remote.password": "SSH_PASSWORD",
	"remote.port":     "SSH_PORT",
	"mail.sender":     "EMAIL_SENDER",
	"mail.receiver":   "EMAIL_RECEIVER",
	"mail.cc":         "EMAIL_CC",
	"mail.password":   "EMAIL_PASSWORD",
}

// Load reads .env (if present), then config.yaml from configPath (if present), then
// environment overrides. configPath may name a directory or a file.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return cfg, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	explicit := strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml")
	if explicit {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// No config.yaml is fine; defaults and env still apply.
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Obfuscated {
		if err := cfg.decodeSecrets(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("root", cfg.Root)
	v.SetDefault("obfuscated", cfg.Obfuscated)

	v.SetDefault("folders.incoming", cfg.Folders.Incoming)
	v.SetDefault("folders.working", cfg.Folders.Working)
	v.SetDefault("folders.archive", cfg.Folders.Archive)
	v.SetDefault("folders.failed", cfg.Folders.Failed)
	v.SetDefault("folders.purge", cfg.Folders.Purge)
	v.SetDefault("folders.exports", cfg.Folders.Exports)
	v.SetDefault("folders.logs", cfg.Folders.Logs)

	v.SetDefault("ledger.driver", cfg.Ledger.Driver)
	v.SetDefault("ledger.path", cfg.Ledger.Path)
	v.SetDefault("ledger.dsn", cfg.Ledger.DSN)
	v.SetDefault("ledger.busy_timeout", cfg.Ledger.BusyTimeout)

	v.SetDefault("lease.driver", cfg.Lease.Driver)
	v.SetDefault("lease.ttl", cfg.Lease.TTL)
	v.SetDefault("lease.redis_addr", cfg.Lease.RedisAddr)
	v.SetDefault("lease.redis_password", cfg.Lease.RedisPassword)
	v.SetDefault("lease.redis_db", cfg.Lease.RedisDB)
	v.SetDefault("lease.firestore_project", cfg.Lease.FirestoreProject)
	v.SetDefault("lease.firestore_database", cfg.Lease.FirestoreDatabase)
	v.SetDefault("lease.firestore_collection", cfg.Lease.FirestoreCollection)

	v.SetDefault("remote.driver", cfg.Remote.Driver)
	v.SetDefault("remote.root", cfg.Remote.Root)
	v.SetDefault("remote.host", cfg.Remote.Host)
	v.SetDefault("remote.port", cfg.Remote.Port)
	v.SetDefault("remote.username", cfg.Remote.Username)
	v.SetDefault("remote.password", cfg.Remote.Password)
	v.SetDefault("remote.known_hosts_file", cfg.Remote.KnownHostsFile)
	v.SetDefault("remote.insecure_ignore_host_key", cfg.Remote.InsecureIgnoreHostKey)
	v.SetDefault("remote.dial_timeout", cfg.Remote.DialTimeout)
	v.SetDefault("remote.bucket", cfg.Remote.Bucket)
	v.SetDefault("remote.region", cfg.Remote.Region)
	v.SetDefault("remote.endpoint", cfg.Remote.Endpoint)

	v.SetDefault("conversion.dpi", cfg.Conversion.DPI)
	v.SetDefault("conversion.jpeg_quality", cfg.Conversion.JPEGQuality)
	v.SetDefault("promotion.purge_staging", cfg.Promotion.PurgeStaging)
	v.SetDefault("retention.min_age_days", cfg.Retention.MinAgeDays)

	v.SetDefault("mail.enabled", cfg.Mail.Enabled)
	v.SetDefault("mail.host", cfg.Mail.Host)
	v.SetDefault("mail.port", cfg.Mail.Port)
	v.SetDefault("mail.sender", cfg.Mail.Sender)
	v.SetDefault("mail.receiver", cfg.Mail.Receiver)
	v.SetDefault("mail.cc", cfg.Mail.CC)
	v.SetDefault("mail.password", cfg.Mail.Password)
	v.SetDefault("mail.subject", cfg.Mail.Subject)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.console", cfg.Log.Console)
}

// decodeSecrets base64-decodes the remote and mail credentials in place.
// The port keeps its plain value when it is already numeric.
func (c *Config) decodeSecrets() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"remote.host", &c.Remote.Host},
		{"remote.username", &c.Remote.Username},
		{"remote.password", &c.Remote.Password},
		{"mail.sender", &c.Mail.Sender},
		{"mail.receiver", &c.Mail.Receiver},
		{"mail.cc", &c.Mail.CC},
		{"mail.password", &c.Mail.Password},
	}
	for _, f := range fields {
		decoded, err := decodeValue(*f.val)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", f.name, err)
		}
		*f.val = decoded
	}
	if _, err := strconv.Atoi(c.Remote.Port); err != nil {
		decoded, err := decodeValue(c.Remote.Port)
		if err != nil {
			return fmt.Errorf("failed to decode remote.port: %w", err)
		}
		c.Remote.Port = decoded
	}
	return nil
}

func decodeValue(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.Ledger.Driver {
	case ledger.DriverSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for sqlite3")
		}
	case ledger.DriverPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported ledger.driver %q", c.Ledger.Driver)
	}

	switch c.Lease.Driver {
	case "ledger", "none":
	case "redis":
		if c.Lease.RedisAddr == "" {
			return fmt.Errorf("lease.redis_addr is required for redis leases")
		}
	case "firestore":
		if c.Lease.FirestoreProject == "" {
			return fmt.Errorf("lease.firestore_project is required for firestore leases")
		}
	default:
		return fmt.Errorf("unsupported lease.driver %q", c.Lease.Driver)
	}
	if c.Lease.Driver != "none" && c.Lease.TTL <= 0 {
		return fmt.Errorf("lease.ttl must be positive")
	}

	if c.Conversion.DPI <= 0 {
		return fmt.Errorf("conversion.dpi must be positive")
	}
	if c.Conversion.JPEGQuality < 1 || c.Conversion.JPEGQuality > 100 {
		return fmt.Errorf("conversion.jpeg_quality must be between 1 and 100")
	}
	if c.Retention.MinAgeDays < 0 {
		return fmt.Errorf("retention.min_age_days must not be negative")
	}
	if c.Mail.Enabled && (c.Mail.Sender == "" || c.Mail.Receiver == "") {
		return fmt.Errorf("mail.sender and mail.receiver are required when mail is enabled")
	}
	return nil
}

// ValidateRemote checks the remote source settings. Only the ingestion stage needs them.
func (c Config) ValidateRemote() error {
	switch c.Remote.Driver {
	case "sftp":
		if c.Remote.Host == "" || c.Remote.Username == "" {
			return fmt.Errorf("remote.host and remote.username are required for sftp")
		}
		if _, err := strconv.Atoi(c.Remote.Port); err != nil {
			return fmt.Errorf("remote.port %q is not a number", c.Remote.Port)
		}
	case "gcs", "s3":
		if c.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket is required for %s", c.Remote.Driver)
		}
	case "local":
		if c.Remote.Root == "" {
			return fmt.Errorf("remote.root is required for local")
		}
	default:
		return fmt.Errorf("unsupported remote.driver %q", c.Remote.Driver)
	}
	return nil
}

// LedgerSettings converts to the ledger package configuration.
func (c Config) LedgerSettings() ledger.Config {
	return ledger.Config{
		Driver:      c.Ledger.Driver,
		Path:        c.Ledger.Path,
		DSN:         c.Ledger.DSN,
		BusyTimeout: c.Ledger.BusyTimeout,
	}
}
