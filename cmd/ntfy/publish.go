package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

// retryDelay is the initial pause between publish attempts
var retryDelay = time.Second

type publishFlags struct {
	header      ntfy.Header
	viewActions []string
	retries     int
}

func newPublishCommand() *cobra.Command {
	var flags publishFlags

	cmd := &cobra.Command{
		Use:     "publish TOPIC [MESSAGE...]",
		Aliases: []string{"pub", "send"},
		Short:   "Publish a message to a topic",
		Long: `Publish a message to a topic. Words after the topic are joined into the
message body. On success the ID of the new message is printed.`,
		Example: `  ntfy publish alerts "Backup finished"
  ntfy publish --title "Disk" --priority 5 --tags warning alerts Disk almost full
  ntfy publish --view-action "Open=https://example.com" alerts Deploy done`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args[0], strings.Join(args[1:], " "), flags)
		},
	}

	h := &flags.header
	cmd.Flags().StringVarP(&h.Title, "title", "t", "", "Message title")
	cmd.Flags().StringVar(&h.Tags, "tags", "", "Comma-separated tags and emojis")
	cmd.Flags().IntVarP(&h.Priority, "priority", "p", 0, "Priority from 1 (min) to 5 (max)")
	cmd.Flags().StringVar(&h.Click, "click", "", "URL opened when the notification is clicked")
	cmd.Flags().StringVar(&h.Attach, "attach", "", "URL of a file to attach")
	cmd.Flags().StringVar(&h.Icon, "icon", "", "URL of the notification icon")
	cmd.Flags().StringVar(&h.Filename, "filename", "", "Name of the attachment")
	cmd.Flags().StringVar(&h.Email, "email", "", "Also send the message to this address")
	cmd.Flags().StringVar(&h.Delay, "delay", "", "Deliver later: a duration (30m) or Unix timestamp")
	cmd.Flags().BoolVar(&h.Markdown, "markdown", false, "Render the message as Markdown")
	cmd.Flags().BoolVar(&h.NoCache, "no-cache", false, "Do not cache the message on the server")
	cmd.Flags().BoolVar(&h.NoFirebase, "no-firebase", false, "Do not forward the message to Firebase")
	cmd.Flags().StringArrayVar(&flags.viewActions, "view-action", nil, "View action as LABEL=URL (repeatable)")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "Retry transient failures this many times")

	return cmd
}

func runPublish(cmd *cobra.Command, topic, message string, flags publishFlags) error {
	header := flags.header
	for _, value := range flags.viewActions {
		label, url, err := parseViewAction(value)
		if err != nil {
			return err
		}
		header.AddViewAction(label, url, false)
	}
	if flags.retries < 0 {
		return fmt.Errorf("--retries must not be negative")
	}

	client, err := ntfy.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		event   *ntfy.Event
		lastErr error
	)
	err = retry.Do(
		func() error {
			event, lastErr = client.Publish(ctx, topic, message, &header)
			if lastErr != nil && !isTransient(lastErr) {
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		},
		retry.Attempts(uint(flags.retries)+1),
		retry.Delay(retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Str("topic", topic).Msg("publish failed, retrying")
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("failed to publish message: %w", lastErr)
	}

	logger.Debug().Str("topic", topic).Str("id", event.ID).Msg("message published")
	fmt.Fprintln(cmd.OutOrStdout(), event.ID)
	return nil
}

// isTransient reports whether a publish failure is worth retrying.
func isTransient(err error) bool {
	var transportErr *ntfy.TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var statusErr *ntfy.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// parseViewAction splits a LABEL=URL flag value.
func parseViewAction(value string) (string, string, error) {
	label, url, found := strings.Cut(value, "=")
	label, url = strings.TrimSpace(label), strings.TrimSpace(url)
	if !found || label == "" || url == "" {
		return "", "", fmt.Errorf("invalid view action %q, expected LABEL=URL", value)
	}
	return label, url, nil
}
