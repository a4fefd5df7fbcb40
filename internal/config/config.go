// Package config loads and validates the server's tuning surface from an
// optional yaml file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the externally overridable configuration, validated at load.
type Config struct {
	Port string `yaml:"port"`

	RateLimit struct {
		PerClientPerSec int           `yaml:"per_client_per_sec"`
		PerClientPerMin int           `yaml:"per_client_per_min"`
		GlobalPerSec    int           `yaml:"global_per_sec"`
		BlockDuration   time.Duration `yaml:"block_duration"`
		MaxEventQueue   int           `yaml:"max_event_queue"`
		TestMode        bool          `yaml:"test_mode"`
	} `yaml:"rate_limit"`

	Dedup struct {
		RequestWindow time.Duration `yaml:"request_window"`
	} `yaml:"dedup"`

	Timer struct {
		CheckInterval              time.Duration `yaml:"check_interval"`
		CountdownBroadcastInterval time.Duration `yaml:"countdown_broadcast_interval"`
		WarningThreshold           time.Duration `yaml:"warning_threshold"`
		FinalWarningThreshold      time.Duration `yaml:"final_warning_threshold"`
		RoomStatusBroadcastInterval time.Duration `yaml:"room_status_broadcast_interval"`
		InactiveRoomMaxAge         time.Duration `yaml:"inactive_room_max_age"`
		JoinTimeout                time.Duration `yaml:"join_timeout"`
	} `yaml:"timer"`

	Game struct {
		MinPlayers         int           `yaml:"min_players"`
		RespondingDuration time.Duration `yaml:"responding_duration"`
		GuessingDuration   time.Duration `yaml:"guessing_duration"`
		ResultsDuration    time.Duration `yaml:"results_duration"`
	} `yaml:"game"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	cfg := &Config{Port: "8080"}

	cfg.RateLimit.PerClientPerSec = 10
	cfg.RateLimit.PerClientPerMin = 100
	cfg.RateLimit.GlobalPerSec = 500
	cfg.RateLimit.BlockDuration = 60 * time.Second
	cfg.RateLimit.MaxEventQueue = 100

	cfg.Dedup.RequestWindow = 2 * time.Second

	cfg.Timer.CheckInterval = time.Second
	cfg.Timer.CountdownBroadcastInterval = 5 * time.Second
	cfg.Timer.WarningThreshold = 30 * time.Second
	cfg.Timer.FinalWarningThreshold = 10 * time.Second
	cfg.Timer.RoomStatusBroadcastInterval = 60 * time.Second
	cfg.Timer.InactiveRoomMaxAge = 30 * time.Minute
	cfg.Timer.JoinTimeout = 5 * time.Second

	cfg.Game.MinPlayers = 2
	cfg.Game.RespondingDuration = 180 * time.Second
	cfg.Game.GuessingDuration = 120 * time.Second
	cfg.Game.ResultsDuration = 30 * time.Second

	return cfg
}

// Load reads the yaml file at path (skipped when path is empty or the
// file is absent), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)

	c.RateLimit.PerClientPerSec = getEnvAsInt("RATE_PER_CLIENT_PER_SEC", c.RateLimit.PerClientPerSec)
	c.RateLimit.PerClientPerMin = getEnvAsInt("RATE_PER_CLIENT_PER_MIN", c.RateLimit.PerClientPerMin)
	c.RateLimit.GlobalPerSec = getEnvAsInt("RATE_GLOBAL_PER_SEC", c.RateLimit.GlobalPerSec)
	c.RateLimit.BlockDuration = getEnvAsDuration("RATE_BLOCK_DURATION", c.RateLimit.BlockDuration)
	c.RateLimit.TestMode = getEnvAsBool("RATE_LIMIT_TEST_MODE", c.RateLimit.TestMode)

	c.Dedup.RequestWindow = getEnvAsDuration("DEDUP_REQUEST_WINDOW", c.Dedup.RequestWindow)

	c.Timer.CheckInterval = getEnvAsDuration("TIMER_CHECK_INTERVAL", c.Timer.CheckInterval)
	c.Timer.CountdownBroadcastInterval = getEnvAsDuration("TIMER_COUNTDOWN_INTERVAL", c.Timer.CountdownBroadcastInterval)
	c.Timer.WarningThreshold = getEnvAsDuration("TIMER_WARNING_THRESHOLD", c.Timer.WarningThreshold)
	c.Timer.FinalWarningThreshold = getEnvAsDuration("TIMER_FINAL_WARNING_THRESHOLD", c.Timer.FinalWarningThreshold)
	c.Timer.RoomStatusBroadcastInterval = getEnvAsDuration("TIMER_ROOM_STATUS_INTERVAL", c.Timer.RoomStatusBroadcastInterval)
	c.Timer.InactiveRoomMaxAge = getEnvAsDuration("TIMER_INACTIVE_ROOM_MAX_AGE", c.Timer.InactiveRoomMaxAge)

	c.Game.MinPlayers = getEnvAsInt("GAME_MIN_PLAYERS", c.Game.MinPlayers)
}

// Validate rejects configurations the subsystem cannot run with.
func (c *Config) Validate() error {
	if c.RateLimit.PerClientPerSec <= 0 {
		return fmt.Errorf("rate_limit.per_client_per_sec must be positive, got %d", c.RateLimit.PerClientPerSec)
	}
	if c.RateLimit.PerClientPerMin <= 0 {
		return fmt.Errorf("rate_limit.per_client_per_min must be positive, got %d", c.RateLimit.PerClientPerMin)
	}
	if c.RateLimit.GlobalPerSec <= 0 {
		return fmt.Errorf("rate_limit.global_per_sec must be positive, got %d", c.RateLimit.GlobalPerSec)
	}
	if c.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("rate_limit.block_duration must be positive, got %s", c.RateLimit.BlockDuration)
	}
	if c.RateLimit.MaxEventQueue <= 0 {
		return fmt.Errorf("rate_limit.max_event_queue must be positive, got %d", c.RateLimit.MaxEventQueue)
	}
	if c.Dedup.RequestWindow <= 0 {
		return fmt.Errorf("dedup.request_window must be positive, got %s", c.Dedup.RequestWindow)
	}
	if c.Timer.CheckInterval <= 0 {
		return fmt.Errorf("timer.check_interval must be positive, got %s", c.Timer.CheckInterval)
	}
	if c.Timer.CountdownBroadcastInterval <= 0 {
		return fmt.Errorf("timer.countdown_broadcast_interval must be positive, got %s", c.Timer.CountdownBroadcastInterval)
	}
	if c.Timer.FinalWarningThreshold >= c.Timer.WarningThreshold {
		return fmt.Errorf("timer.final_warning_threshold (%s) must be below timer.warning_threshold (%s)",
			c.Timer.FinalWarningThreshold, c.Timer.WarningThreshold)
	}
	if c.Timer.InactiveRoomMaxAge <= 0 {
		return fmt.Errorf("timer.inactive_room_max_age must be positive, got %s", c.Timer.InactiveRoomMaxAge)
	}
	if c.Game.MinPlayers < 2 {
		return fmt.Errorf("game.min_players must be at least 2, got %d", c.Game.MinPlayers)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
