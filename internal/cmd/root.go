package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"distdetect/internal/config"
	"distdetect/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "distdetect",
	Short: "Distributed class-partitioned object detection",
	Long: `distdetect splits object detection on one image across remote workers.
A coordinator hands each worker one or more object classes (Person, Bicycle,
Car, Motorcycle), collects their detections and renders the merged result.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default is ./distdetect.yaml)")
	pf.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringP("mode", "m", config.ModeStatic, "assignment mode: static or dynamic")
	pf.String("log-dir", "", "directory for info/warning/error log files (empty logs to the console only)")
	pf.String("log-level", "info", "log level: debug or info")
	pf.Bool("framed-replies", false, "send the final result length-prefixed instead of closing the connection")
	pf.Duration("io-timeout", 0, "read deadline for protocol messages")

	// Unset flags leave defaults, environment and config file values in effect.
	_ = viper.BindPFlag("config", pf.Lookup("config"))
	_ = viper.BindPFlag("env_file", pf.Lookup("env-file"))
	_ = viper.BindPFlag("mode", pf.Lookup("mode"))
	_ = viper.BindPFlag("log_dir", pf.Lookup("log-dir"))
	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("framed_replies", pf.Lookup("framed-replies"))
	_ = viper.BindPFlag("io_timeout", pf.Lookup("io-timeout"))
}

// configErr is set by initConfig and reported when a command loads its configuration.
var configErr error

func initConfig() {
	if err := config.LoadDotEnv(viper.GetString("env_file")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults(viper.GetViper())

	config.BindEnv(viper.GetViper())

	configErr = config.ReadConfigFile(viper.GetViper(), viper.GetString("config"), ".", "$HOME/.config/distdetect")
}

// bindFlags binds the command's flags to viper keys when the command runs,
// so subcommands may share a key without overwriting each other's binding.
func bindFlags(keys map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for name, key := range keys {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}
		return nil
	}
}

func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads the configuration and opens the logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogDirectory, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
