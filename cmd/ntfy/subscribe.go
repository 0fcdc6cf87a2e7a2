package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

func newSubscribeCommand() *cobra.Command {
	var (
		reconnect  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "subscribe TOPIC...",
		Aliases: []string{"sub"},
		Short:   "Print messages published to one or more topics",
		Long: `Subscribe to one or more topics and print every message as it arrives.
Each topic gets its own stream. Press Ctrl+C to stop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args, reconnect, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&reconnect, "reconnect", true, "Reconnect when a stream drops")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print messages as JSON")

	return cmd
}

func runSubscribe(cmd *cobra.Command, topics []string, reconnect, jsonOutput bool) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &eventPrinter{out: cmd.OutOrStdout(), json: jsonOutput}

	listeners := make([]*ntfy.Listener, 0, len(topics))
	for _, topic := range topics {
		listener, err := ntfy.NewListener(topic, clientConfig)
		if err != nil {
			return fmt.Errorf("failed to create listener for %s: %w", topic, err)
		}
		listener.OnEvent(printer.print)
		listener.OnDisconnect(func(err error) {
			logger.Warn().Err(err).Str("topic", topic).Msg("stream dropped")
		})
		listeners = append(listeners, listener)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, listener := range listeners {
		g.Go(func() error {
			logger.Info().Str("endpoint", listener.Endpoint()).Msg("subscribing")
			return listener.Start(gctx, reconnect)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// eventPrinter writes message events to out, one per line.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *eventPrinter) print(event ntfy.Event) {
	if !event.IsMessage() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		line, err := json.Marshal(event)
		if err != nil {
			logger.Error().Err(err).Str("id", event.ID).Msg("failed to encode message")
			return
		}
		fmt.Fprintln(p.out, string(line))
		return
	}

	if event.Title != "" {
		fmt.Fprintf(p.out, "%s: %s\n", event.Title, event.Message)
		return
	}
	fmt.Fprintln(p.out, event.Message)
}
