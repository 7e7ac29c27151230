package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	embeddedconfig "github.com/inercia/chatline/config"
	"github.com/inercia/chatline/internal/appdir"
)

var (
	configOutputPath string
	configForce      bool
)

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatline configuration",
}

// configCreateCmd represents the config create subcommand
var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a default configuration file",
	Long: `Create a default configuration file in the chatline directory.

Examples:
  chatline config create                      # <chatline dir>/config.yaml
  chatline config create --output ./chat.yaml # somewhere else
  chatline config create --force              # overwrite an existing file`,
	RunE: runConfigCreate,
}

// configPathCmd prints where configuration and credentials live.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration and data paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := appdir.Dir()
		if err != nil {
			return err
		}
		cfgPath := configPath
		if cfgPath == "" {
			if cfgPath, err = appdir.ConfigPath(); err != nil {
				return err
			}
		}
		credPath, err := appdir.CredentialsPath()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Data directory: %s\n", dir)
		fmt.Fprintf(out, "Config file:    %s\n", cfgPath)
		fmt.Fprintf(out, "Credentials:    %s\n", credPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configPathCmd)

	configCreateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "",
		"File to write (default: <chatline dir>/config.yaml)")
	configCreateCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite existing configuration file")
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path := configOutputPath
	if path == "" {
		var err error
		path, err = appdir.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
		fmt.Fprintln(out, "Use --force to overwrite the existing file.")
		return nil
	}

	if err := os.WriteFile(path, embeddedconfig.DefaultConfigYAML, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	fmt.Fprintf(out, "Configuration file created: %s\n", path)
	return nil
}
