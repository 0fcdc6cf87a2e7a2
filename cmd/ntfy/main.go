package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

var (
	// Global flags
	serverURL  string
	token      string
	user       string
	configPath string
	timeout    time.Duration
	logLevel   string

	// Resolved by initializeConfig before any subcommand runs
	clientConfig ntfy.Config
	logger       zerolog.Logger
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ntfy",
		Short: "Send and receive ntfy push notifications",
		Long: `ntfy is a command line client for ntfy servers.
It publishes messages to topics and subscribes to topic streams.

Defaults are read from a YAML config file (default-host, default-token,
default-user, default-password), then from NTFY_HOST, NTFY_TOKEN, NTFY_USER
and NTFY_PASSWORD (a .env file in the working directory is loaded first),
then from flags.`,
		SilenceUsage:      true,
		PersistentPreRunE: initializeConfig,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ntfy server URL (default "+ntfy.DefaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Access token")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Username and password as USER:PASS")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+defaultConfigPath()+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", ntfy.DefaultTimeout, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newPollCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// initializeConfig sets up logging and resolves the client configuration
func initializeConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Parent() == nil {
		return nil
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()

	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	file, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	clientConfig, err = resolveConfig(flagValues{server: serverURL, token: token, user: user}, file)
	if err != nil {
		return err
	}
	clientConfig.Timeout = timeout
	clientConfig.Logger = &logger

	return clientConfig.Validate()
}
