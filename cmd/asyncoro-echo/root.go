package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"
)

var (
	version = "dev"
	cfgFile string
	cfg     config

	viper = viperlib.New()
)

var rootCmd = &cobra.Command{
	Use:     "asyncoro-echo",
	Short:   "Demo echo server/client for the asyncoro coroutine runtime",
	Long:    `asyncoro-echo drives the asyncoro Scheduler/Notifier/AsyncSocket stack as a small framed-message echo service, for exercising the runtime end to end.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./asyncoro-echo.yaml, or $ASYNCORO_CONFIG)")
	rootCmd.PersistentFlags().String("listen", "", "listen/dial address (host:port)")
	rootCmd.PersistentFlags().Duration("poll-interval", 0, "notifier poll cadence")
	rootCmd.PersistentFlags().Duration("fd-timeout", 0, "notifier inactivity timeout (must be >= 5x poll-interval)")
	rootCmd.PersistentFlags().String("auth", "", "auth prefix sent/expected once at connection start, before any framed message")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug-level logging")

	_ = viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	_ = viper.BindPFlag("poll_interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	_ = viper.BindPFlag("fd_timeout", rootCmd.PersistentFlags().Lookup("fd-timeout"))
	_ = viper.BindPFlag("auth", rootCmd.PersistentFlags().Lookup("auth"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clientCmd)
}

func initConfig() {
	defaults := defaultConfig()
	viper.SetDefault("listen", defaults.Listen)
	viper.SetDefault("poll_interval", defaults.PollInterval)
	viper.SetDefault("fd_timeout", defaults.FDTimeout)
	viper.SetDefault("auth", defaults.Auth)
	viper.SetDefault("debug", defaults.Debug)

	viper.SetEnvPrefix("asyncoro")
	_ = viper.BindEnv("listen")

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("ASYNCORO_CONFIG") != "":
		viper.SetConfigFile(os.Getenv("ASYNCORO_CONFIG"))
	default:
		viper.SetConfigName("asyncoro-echo")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "asyncoro-echo"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "asyncoro-echo: reading config: %v\n", err)
		}
		// No config file anywhere is the common case for this demo;
		// defaults plus flags/env carry the configuration instead.
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "asyncoro-echo: config unmarshal: %v\n", err)
	}
}

