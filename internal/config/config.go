package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	// DefaultBaseURL is the host serving both API surfaces.
	DefaultBaseURL = "https://labs.hackthebox.com"

	// TokenEnv is the environment variable holding the API token.
	TokenEnv = "HTB_API_TOKEN"

	// placeholderToken ships in the sample .env and never counts as a token.
	placeholderToken = "your_token_here"

	dirName  = ".htb_client"
	fileName = "config.json"
)

// Token sources reported by Config.TokenSource.
const (
	SourceNone = ""
	SourceEnv  = "env"
	SourceFile = "file"
)

// Config is the client configuration. It is built once at startup and passed
// to the components that need it.
type Config struct {
	APIToken           string        `mapstructure:"api_token"`
	Debug              bool          `mapstructure:"debug"`
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Poll               Poll          `mapstructure:"poll"`

	// File is the config file path, whether or not it exists yet.
	File string
	// TokenSource tells where APIToken came from.
	TokenSource string
}

// Poll contains refresh intervals, counted in units of Unit.
type Poll struct {
	ActivityInterval int           `mapstructure:"activity_interval"`
	IPInterval       int           `mapstructure:"ip_interval"`
	IPAttempts       int           `mapstructure:"ip_attempts"`
	Unit             time.Duration `mapstructure:"unit"`
}

// APIV4 returns the base address of the v4 API surface.
func (c *Config) APIV4() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/api/v4"
}

// APIV5 returns the base address of the v5 API surface.
func (c *Config) APIV5() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/api/v5"
}

// IsConfigured reports whether a token is available.
func (c *Config) IsConfigured() bool {
	return c.APIToken != ""
}

// Load reads the configuration from file, or from ~/.htb_client/config.json
// when file is empty. A missing file is not an error.
func Load(file string) (*Config, error) {
	loadDotEnv()

	if file == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(dir, fileName)
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("json")
	setDefaults(v)

	_ = v.BindEnv("debug", "HTB_DEBUG")
	_ = v.BindEnv("base_url", "HTB_BASE_URL")

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile bypasses the search path, so a missing file surfaces
		// as a plain fs error rather than ConfigFileNotFoundError.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = file

	resolveToken(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_token", "")
	v.SetDefault("debug", false)
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("timeout", "30s")
	v.SetDefault("insecure_skip_verify", false)

	v.SetDefault("poll.activity_interval", 15)
	v.SetDefault("poll.ip_interval", 3)
	v.SetDefault("poll.ip_attempts", 20)
	v.SetDefault("poll.unit", "1s")
}

// resolveToken applies the environment token over the file token.
func resolveToken(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(TokenEnv)); env != "" && env != placeholderToken {
		cfg.APIToken = env
		cfg.TokenSource = SourceEnv
		return
	}

	cfg.APIToken = strings.TrimSpace(cfg.APIToken)
	if cfg.APIToken == placeholderToken {
		cfg.APIToken = ""
	}
	if cfg.APIToken != "" {
		cfg.TokenSource = SourceFile
		return
	}
	cfg.TokenSource = SourceNone
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Poll.ActivityInterval <= 0 || c.Poll.IPInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.IPAttempts <= 0 {
		return fmt.Errorf("poll.ip_attempts must be positive, got %d", c.Poll.IPAttempts)
	}
	if c.Poll.Unit <= 0 {
		return fmt.Errorf("poll.unit must be positive, got %s", c.Poll.Unit)
	}
	return nil
}

// loadDotEnv loads the first .env found next to the executable, one level
// above it, or in the working directory. Existing variables win.
func loadDotEnv() {
	for _, path := range dotEnvPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = gotenv.Load(path)
		return
	}
}

func dotEnvPaths() []string {
	var paths []string
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths, filepath.Join(dir, ".env"), filepath.Join(filepath.Dir(dir), ".env"))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, ".env"))
	}
	return paths
}

// Dir returns the client configuration directory path
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

// EnsureDir creates the config directory if it doesn't exist
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}
