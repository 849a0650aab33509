package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Gateway holds connection settings for the Client Portal gateway.
type Gateway struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	TickleTimeoutMs  int    `yaml:"tickle_timeout_ms"`
	TickleIntervalMs int    `yaml:"tickle_interval_ms"`
	MaxAuthAttempts  int    `yaml:"max_auth_attempts"`
}

// Logging configures the application logger.
type Logging struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"` // empty = console only
}

type Root struct {
	Gateway   Gateway `yaml:"gateway"`
	Logging   Logging `yaml:"logging"`
	AccountID string  `yaml:"account_id"`
}

// Load reads configuration from path, applies defaults, then applies
// environment overrides (a .env file is honored when present). A missing
// config file is not an error; defaults plus environment are enough to
// talk to a local gateway.
func Load(path string) (Root, error) {
	var c Root

	// Best effort: no .env file is fine.
	_ = godotenv.Load()

	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		} else if !os.IsNotExist(err) {
			return c, err
		}
	}

	// Gateway defaults
	if c.Gateway.Host == "" {
		c.Gateway.Host = "localhost"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 5000
	}
	if c.Gateway.TimeoutMs == 0 {
		c.Gateway.TimeoutMs = 30000
	}
	if c.Gateway.TickleTimeoutMs == 0 {
		c.Gateway.TickleTimeoutMs = 10000
	}
	if c.Gateway.TickleIntervalMs == 0 {
		c.Gateway.TickleIntervalMs = 30000
	}
	if c.Gateway.MaxAuthAttempts == 0 {
		c.Gateway.MaxAuthAttempts = 3
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	// Environment overrides
	if v := os.Getenv("IBGW_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("IBGW_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = p
		}
	}
	if v := os.Getenv("IBGW_ACCOUNT"); v != "" {
		c.AccountID = v
	}

	return c, nil
}
