// Package cmd provides the CLI commands for chatline.
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/inercia/chatline/internal/appdir"
	"github.com/inercia/chatline/internal/config"
	"github.com/inercia/chatline/internal/logging"
)

var (
	// Global flags
	configPath    string // --config overrides <appdir>/config.yaml
	envFile       string
	serverURL     string
	roomFlag      int
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatline",
	Short: "chatline - a terminal client for real-time chat rooms",
	Long: `chatline logs into a chat server, keeps your session between runs,
and holds a self-healing WebSocket channel to the room you are chatting in.

Start with 'chatline register' or 'chatline login', then 'chatline chat'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create chatline directory: %w", err)
		}

		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		// Priority: --log-level flag > --debug flag > config
		effectiveLogLevel := cfg.Logging.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		// Priority: --logfile flag > config > <chatline dir>/logs/chatline.log
		file := cfg.Logging.File
		if logFile != "" {
			file = logFile
		}
		if file == "" {
			if logsDir, err := appdir.LogsDir(); err == nil {
				file = filepath.Join(logsDir, "chatline.log")
			}
		}
		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			Components: parseComponents(logComponents),
		}
		if file != "" {
			logCfg.FileLog = &logging.FileLogConfig{Path: file, Compress: true}
			logCfg.FileLevel = "debug"
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: <chatline dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load CHATLINE_* variables from this .env file first")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Chat server base URL (overrides config and CHATLINE_SERVER_URL)")
	rootCmd.PersistentFlags().IntVarP(&roomFlag, "room", "r", 0, "Room to join; 0 lets the server choose (overrides config and CHATLINE_ROOM)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (default: <chatline dir>/logs/chatline.log)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'connection,auth'). Empty means all components.")
}

// loadConfig resolves the configuration: defaults, then the config file,
// then CHATLINE_* variables, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	optional := path == ""
	if optional {
		var err error
		path, err = appdir.ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	c, err := config.Load(path, optional)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		c.Server.URL = serverURL
	}
	if flags.Changed("room") {
		c.Server.Room = roomFlag
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return c, nil
}

func parseComponents(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(c string, _ int) string {
		return strings.TrimSpace(c)
	}))
}
