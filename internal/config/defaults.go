package config

import "github.com/spf13/viper"

// setDefaults installs viper defaults for every configuration knob.
func setDefaults() {
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.port", 8420)
	viper.SetDefault("gateway.remote_mode", false)
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 120)
	viper.SetDefault("gateway.rate_limit.burst", 20)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("provider.default", "local")

	viper.SetDefault("ollama.endpoint", "http://127.0.0.1:11434")
	viper.SetDefault("ollama.model", "llama3.2")

	viper.SetDefault("storage.path", "~/.canopy/data.db")

	viper.SetDefault("session.main_queue_capacity", 10)
	viper.SetDefault("session.ring_buffer_capacity", 5000)
	viper.SetDefault("session.max_monitors_per_session", 4)
	viper.SetDefault("session.ephemeral_limit", 8)
	viper.SetDefault("session.timeline_capacity", 200)
	viper.SetDefault("session.reload_match_limit", 3)
	viper.SetDefault("session.invalidate_fail_count", 2)

	viper.SetDefault("cron.enabled", true)
	viper.SetDefault("cron.replay_schedule", "@every 10m")
}
