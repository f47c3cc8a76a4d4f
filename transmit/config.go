package transmit

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
	// Source is reported as metadata.source in every payload.
	Source   string
	AuditDir string
}

func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Timeout:  30 * time.Second,
		Attempts: 3,
		Delay:    time.Second,
		Source:   "datsync",
	}
}

func LoadConfig() Config {
	cfg := DefaultConfig()
	if viper.IsSet("transmit.enabled") {
		cfg.Enabled = viper.GetBool("transmit.enabled")
	}
	cfg.Endpoint = viper.GetString("transmit.endpoint")
	if v := viper.GetDuration("transmit.timeout"); v > 0 {
		cfg.Timeout = v
	}
	if v := viper.GetInt("transmit.attempts"); v > 0 {
		cfg.Attempts = v
	}
	if viper.IsSet("transmit.delay") {
		cfg.Delay = viper.GetDuration("transmit.delay")
	}
	if v := viper.GetString("transmit.source"); v != "" {
		cfg.Source = v
	}
	cfg.AuditDir = viper.GetString("paths.audit_dir")
	return cfg
}
