package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/catsync/internal/config"
	"github.com/agentstation/catsync/pkg/errors"
)

// EnvPrefix prefixes every environment variable catsync reads.
const EnvPrefix = "CATSYNC"

// Config holds the CLI flags plus the settings loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string

	// Settings are the typed sync settings. Nil until Load succeeds.
	Settings *config.Settings
}

// DefaultConfig returns flag defaults with logging read from the environment.
func DefaultConfig() *Config {
	loadEnvFiles()
	return &Config{
		LogLevel:  os.Getenv(EnvPrefix + "_LOG_LEVEL"),
		LogFormat: getEnvOrDefault(EnvPrefix+"_LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault(EnvPrefix+"_LOG_OUTPUT", "stderr"),
	}
}

// Load reads settings in order of precedence:
// 1. Environment variables (CATSYNC_REMOTE_URL, ...)
// 2. .env and .env.local
// 3. Config file (--config, or .catsync.yaml in $HOME or the working directory)
// 4. Defaults
func (c *Config) Load() error {
	loadEnvFiles()

	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"remote.url", "remote.api_key", "remote.auth_name", "lock_dir", "bindings"} {
		if err := v.BindEnv(key); err != nil {
			return errors.NewConfigError("env", "failed to bind "+key, err)
		}
	}

	if c.ConfigFile != "" {
		v.SetConfigFile(c.ConfigFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".catsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.ConfigFile != "" || !errors.As(err, &notFound) {
			return errors.NewConfigError("file", "failed to read config", err)
		}
	}

	settings, err := config.Load(v)
	if err != nil {
		return err
	}
	if settings.LockDir == "" && settings.Local.Driver == config.DriverSQLite {
		settings.LockDir = filepath.Join(filepath.Dir(settings.Local.Path), ".catsync-locks")
	}
	c.Settings = settings
	return nil
}

// UpdateFromFlags updates config values from parsed command flags so they
// take precedence over config files and environment variables.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files. Variables
// already set in the environment win; .env.local is read before .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
