package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL   = "http://localhost:8000"
	DefaultDwell    = 1500 * time.Millisecond
	DefaultLogLevel = "info"
)

type Config struct {
	DataDir    string
	DBPath     string
	LogPath    string
	ExportDir  string
	ConfigFile string

	APIURL          string
	Email           string
	Dwell           time.Duration
	SessionCacheTTL time.Duration
	LogLevel        string
}

// fileConfig is the optional config.yaml in the data directory.
type fileConfig struct {
	APIURL          string        `yaml:"api_url"`
	Email           string        `yaml:"email"`
	Dwell           time.Duration `yaml:"dwell"`
	SessionCacheTTL time.Duration `yaml:"session_cache_ttl"`
	LogLevel        string        `yaml:"log_level"`
}

// New builds the configuration from defaults, then config.yaml, then the
// environment (a .env file in the working directory counts as environment).
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("INTELLIXA_DATA_DIR", filepath.Join(homeDir, ".intellixa"))

	c := &Config{
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, "intellixa.db"),
		LogPath:    filepath.Join(dataDir, "intellixa.log"),
		ExportDir:  filepath.Join(dataDir, "drafts"),
		ConfigFile: getEnv("INTELLIXA_CONFIG", filepath.Join(dataDir, "config.yaml")),
		APIURL:     DefaultAPIURL,
		Dwell:      DefaultDwell,
		LogLevel:   DefaultLogLevel,
	}

	if err := c.loadFile(); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if fc.APIURL != "" {
		c.APIURL = fc.APIURL
	}
	if fc.Email != "" {
		c.Email = fc.Email
	}
	if fc.Dwell != 0 {
		c.Dwell = fc.Dwell
	}
	if fc.SessionCacheTTL != 0 {
		c.SessionCacheTTL = fc.SessionCacheTTL
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.APIURL = getEnv("INTELLIXA_API_URL", c.APIURL)
	c.Email = getEnv("INTELLIXA_EMAIL", c.Email)
	c.LogLevel = getEnv("INTELLIXA_LOG_LEVEL", c.LogLevel)

	var err error
	if c.Dwell, err = getDurationEnv("INTELLIXA_DWELL", c.Dwell); err != nil {
		return err
	}
	if c.SessionCacheTTL, err = getDurationEnv("INTELLIXA_SESSION_CACHE_TTL", c.SessionCacheTTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
