// Package cmd implements the recode command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dshills/recode/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "recode",
	Short: "Event notification framework for a DiamondFire client",
	Long: `Recode tracks where a player is on a DiamondFire-style server and
publishes client events to modules and Lua scripts.

Configuration is read from a TOML or YAML file and RECODE_* environment
variables.`,
	SilenceUsage: true,
}

var configPath string

var buildInfo = struct {
	version, commit, date string
}{"dev", "unknown", "unknown"}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information shown by the version command.
func SetVersion(version, commit, date string) {
	buildInfo.version, buildInfo.commit, buildInfo.date = version, commit, date
	rootCmd.Version = version
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
}

// loadConfig loads the config named by --config, or defaults plus
// environment when no file was given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		if err := config.ParseEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return config.Load(configPath)
}
