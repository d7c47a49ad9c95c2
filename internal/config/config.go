package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings coordinator. Precedence is file > env
// vars > defaults; a .env file in the working directory feeds the env layer.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Relay     *RelayConfig     `json:"relay"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RelayConfig tunes relay behavior. MentorDelay is the simulated mentor
// processing time; LeaderboardSize caps leaderboard replies.
type RelayConfig struct {
	MentorDelay     time.Duration `json:"mentor_delay"`
	LeaderboardSize int           `json:"leaderboard_size"`
}

// LogConfig controls the rotating log file. File set to "" logs to stdout
// only.
type LogConfig struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// DefaultConfig returns production defaults. Port 3001 matches what the
// Skillytics frontend is configured to dial.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Relay: &RelayConfig{
			MentorDelay:     1500 * time.Millisecond,
			LeaderboardSize: 10,
		},
		Log: &LogConfig{
			File:       "",
			MaxSizeMB:  25,
			MaxBackups: 10,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.MentorDelay < 0 {
		return fmt.Errorf("mentor delay cannot be negative")
	}
	if c.Relay.LeaderboardSize <= 0 {
		return fmt.Errorf("leaderboard size must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log max size must be positive when a log file is set")
	}

	return nil
}

// LoadFromEnv returns defaults overridden by SKILLYTICS_* environment
// variables. Unparseable values fall back silently to the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("SKILLYTICS_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if port := os.Getenv("SKILLYTICS_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if readTimeout := os.Getenv("SKILLYTICS_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("SKILLYTICS_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("SKILLYTICS_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("SKILLYTICS_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("SKILLYTICS_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if mentorDelay := os.Getenv("SKILLYTICS_RELAY_MENTOR_DELAY"); mentorDelay != "" {
		if delay, err := time.ParseDuration(mentorDelay); err == nil {
			config.Relay.MentorDelay = delay
		}
	}

	if size := os.Getenv("SKILLYTICS_RELAY_LEADERBOARD_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Relay.LeaderboardSize = n
		}
	}

	if file := os.Getenv("SKILLYTICS_LOG_FILE"); file != "" {
		config.Log.File = file
	}

	return config
}

// ConfigFile is the JSON shape for file-based configuration; durations are
// strings ("1.5s") so the file stays hand-editable.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Relay     *RelayConfigFile     `json:"relay"`
	Log       *LogConfig           `json:"log"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type RelayConfigFile struct {
	MentorDelay     string `json:"mentor_delay"`
	LeaderboardSize int    `json:"leaderboard_size"`
}

// LoadFromFile reads and validates a JSON config file layered over defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Relay != nil {
		if configFile.Relay.MentorDelay != "" {
			if delay, err := time.ParseDuration(configFile.Relay.MentorDelay); err == nil {
				config.Relay.MentorDelay = delay
			}
		}
		if configFile.Relay.LeaderboardSize > 0 {
			config.Relay.LeaderboardSize = configFile.Relay.LeaderboardSize
		}
	}

	if configFile.Log != nil {
		config.Log = configFile.Log
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence assembles the effective configuration: defaults,
// then .env plus environment variables, then the JSON file when given. File
// errors are ignored so env/defaults still serve.
func LoadConfigWithPrecedence(filepath string) *Config {
	// .env is optional; absence is the normal case outside development.
	_ = godotenv.Load()

	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
