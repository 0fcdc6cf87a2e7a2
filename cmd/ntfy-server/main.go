package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ntfy-go/internal/httpapi"
)

const (
	// Application info
	appName    = "ntfy-server"
	appVersion = "0.1.0"
)

type serverFlags struct {
	port          string
	secretKey     string
	users         []string
	requireAuth   bool
	cacheSize     int
	cacheDuration time.Duration
	keepalive     time.Duration
	visitorRate   float64
	visitorBurst  int
	logLevel      string
	issueToken    string
	showVersion   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Run an in-memory ntfy server for local development",
		Long: `ntfy-server serves the ntfy publish and JSON subscription API from memory.
Messages are lost on restart. Use it to develop and test ntfy clients.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
				return nil
			}
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.port, "port", "8080", "Port to listen on")
	cmd.Flags().StringVar(&flags.secretKey, "secret-key", "", "Key used to sign access tokens")
	cmd.Flags().StringArrayVar(&flags.users, "user", nil, "User as NAME:PASSWORD (repeatable)")
	cmd.Flags().BoolVar(&flags.requireAuth, "require-auth", false, "Reject anonymous requests")
	cmd.Flags().IntVar(&flags.cacheSize, "cache-size", 1000, "Messages cached per topic (0 for unbounded)")
	cmd.Flags().DurationVar(&flags.cacheDuration, "cache-duration", 12*time.Hour, "How long messages stay cached")
	cmd.Flags().DurationVar(&flags.keepalive, "keepalive", 45*time.Second, "Interval between keepalive events")
	cmd.Flags().Float64Var(&flags.visitorRate, "visitor-rate", 0, "Requests per second per visitor (0 disables the limit)")
	cmd.Flags().IntVar(&flags.visitorBurst, "visitor-burst", 60, "Requests a visitor may make at once")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.issueToken, "issue-token", "", "Print an access token for this user and exit")
	cmd.Flags().BoolVar(&flags.showVersion, "version", false, "Show version and exit")

	return cmd
}

// buildConfig turns the flags into a server configuration
func buildConfig(flags serverFlags, logger *zerolog.Logger) (httpapi.Config, error) {
	users, err := parseUsers(flags.users)
	if err != nil {
		return httpapi.Config{}, err
	}
	if flags.requireAuth && len(users) == 0 && flags.secretKey == "" {
		return httpapi.Config{}, fmt.Errorf("--require-auth needs at least one --user or a --secret-key")
	}

	return httpapi.Config{
		Port:                flags.port,
		SecretKey:           flags.secretKey,
		Users:               users,
		RequireAuth:         flags.requireAuth,
		CacheSize:           flags.cacheSize,
		CacheDuration:       flags.cacheDuration,
		KeepaliveInterval:   flags.keepalive,
		VisitorRequestRate:  flags.visitorRate,
		VisitorRequestBurst: flags.visitorBurst,
		Logger:              logger,
	}, nil
}

func parseUsers(values []string) (map[string]string, error) {
	users := make(map[string]string, len(values))
	for _, value := range values {
		name, password, found := strings.Cut(value, ":")
		if !found || name == "" || password == "" {
			return nil, fmt.Errorf("invalid user %q, expected NAME:PASSWORD", value)
		}
		users[name] = password
	}
	return users, nil
}

func run(cmd *cobra.Command, flags serverFlags) error {
	level, err := zerolog.ParseLevel(flags.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", flags.logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("app", appName).
		Logger()

	config, err := buildConfig(flags, &logger)
	if err != nil {
		return err
	}
	server := httpapi.NewServer(config)

	if flags.issueToken != "" {
		token, err := server.IssueToken(flags.issueToken)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	logger.Info().
		Str("version", appVersion).
		Str("port", config.Port).
		Bool("require_auth", config.RequireAuth).
		Int("users", len(config.Users)).
		Msg("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
