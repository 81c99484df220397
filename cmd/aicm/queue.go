package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the delivery queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print delivery queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions()
		if err != nil {
			return err
		}
		s, err := buildSDK(opts)
		if err != nil {
			return err
		}
		defer stopQuietly(s)

		stats := s.tracker.Stats()
		fmt.Printf("strategy:     %s\n", opts.DeliveryType)
		fmt.Printf("queued:       %d\n", stats.Queued)
		fmt.Printf("in_flight:    %d\n", stats.InFlight)
		fmt.Printf("total_sent:   %d\n", stats.TotalSent)
		fmt.Printf("total_failed: %d\n", stats.TotalFailed)
		fmt.Printf("worker_alive: %t\n", stats.WorkerAlive)
		if stats.LastError != "" {
			fmt.Printf("last_error:   %s\n", stats.LastError)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}

// stopQuietly shuts the delivery down with a bounded timeout, logging
// rather than failing the command.
func stopQuietly(s *sdk) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.tracker.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: delivery shutdown: %v\n", err)
	}
}
