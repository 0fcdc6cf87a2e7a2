package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

func newPollCommand() *cobra.Command {
	var (
		since      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "poll TOPIC",
		Short: "Print cached messages of a topic and exit",
		Long: `Fetch the messages the server has cached for a topic. --since takes "all",
a duration such as 10m, a Unix timestamp or a message ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd, args[0], since, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&since, "since", "all", "Only messages newer than this")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print messages as JSON")

	return cmd
}

func runPoll(cmd *cobra.Command, topic, since string, jsonOutput bool) error {
	client, err := ntfy.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	events, err := client.Poll(ctx, topic, since)
	if err != nil {
		return fmt.Errorf("failed to poll %s: %w", topic, err)
	}

	printer := &eventPrinter{out: cmd.OutOrStdout(), json: jsonOutput}
	for _, event := range events {
		printer.print(event)
	}
	return nil
}
