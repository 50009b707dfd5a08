package main

import "time"

// config mirrors the handful of knobs the demo actually needs: the
// address to listen on (or dial, for the client), the notifier's poll
// cadence and inactivity window, and an optional auth prefix exchanged
// once as a handshake at connection start.
type config struct {
	Listen       string        `mapstructure:"listen"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FDTimeout    time.Duration `mapstructure:"fd_timeout"`
	Auth         string        `mapstructure:"auth"`
	Debug        bool          `mapstructure:"debug"`
}

func defaultConfig() config {
	return config{
		Listen:       "127.0.0.1:8765",
		PollInterval: time.Second,
		FDTimeout:    5 * time.Minute,
		Auth:         "",
	}
}
