package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/recode/internal/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "recode %s\n", buildInfo.version)
		fmt.Fprintf(out, "Commit: %s\n", buildInfo.commit)
		fmt.Fprintf(out, "Built: %s\n", buildInfo.date)
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List modules in dependency order",
	Long: `List the built-in and configured modules in the order they are enabled,
with whether the configuration enables them and what they depend on.`,
	RunE: runModules,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

var configFormat string

func init() {
	configCmd.Flags().StringVar(&configFormat, "format", "toml", "output format (toml or yaml)")
	rootCmd.AddCommand(versionCmd, modulesCmd, configCmd)
}

func runModules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.Options{LogOutput: io.Discard})
	if err != nil {
		return err
	}
	defer a.Close()

	statuses, err := a.ModuleStatuses()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, st := range statuses {
		mark := " "
		if app.WantEnabled(cfg, st.Name) {
			mark = "*"
		}
		line := fmt.Sprintf("%s %s", mark, st.Name)
		if len(st.Depends) > 0 {
			line += " -> " + strings.Join(st.Depends, ", ")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var data []byte
	switch configFormat {
	case "toml":
		data, err = toml.Marshal(cfg)
	case "yaml", "yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("unknown format %q (must be toml or yaml)", configFormat)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
