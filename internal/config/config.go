package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Presence liveness knobs. Store TTL is derived as 2x heartbeat.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PresenceTimeout   time.Duration `mapstructure:"presence_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RedisAddr         string        `mapstructure:"redis_addr"`

	// Reconnection backoff for the participant agent transport.
	ReconnectInitialDelay time.Duration `mapstructure:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMultiplier   float64       `mapstructure:"reconnect_multiplier"`

	ICEServers []string `mapstructure:"ice_servers"`

	SignalRateLimit  int           `mapstructure:"signal_rate_limit"`
	SignalRateWindow time.Duration `mapstructure:"signal_rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("presence_timeout", "90s")
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("redis_addr", "")
	v.SetDefault("reconnect_initial_delay", "1s")
	v.SetDefault("reconnect_max_delay", "30s")
	v.SetDefault("reconnect_multiplier", 2.0)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("signal_rate_limit", 120)
	v.SetDefault("signal_rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Heartbeat: %s | Timeout: %s\n",
		cfg.Mode, cfg.Port, cfg.HeartbeatInterval, cfg.PresenceTimeout)
	return &cfg, nil
}

// StoreTTL is the shared presence store TTL: about twice the heartbeat
// interval so one missed beat does not flap cross-process visibility.
func (c *Config) StoreTTL() time.Duration {
	return 2 * c.HeartbeatInterval
}
