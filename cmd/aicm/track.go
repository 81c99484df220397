package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aicostmanager/aicostmanager-go/pkg/delivery"
	"github.com/aicostmanager/aicostmanager-go/pkg/tracker"
)

var (
	trackAPIID       string
	trackServiceKey  string
	trackPayload     string
	trackResponseID  string
	trackCustomerKey string
	trackContext     string
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Send one usage record",
	Long: `Send one usage record to the ingestion API. The payload is the raw
vendor usage object as JSON, given with --payload or piped on stdin.

With --delivery immediate the command reports the server's verdict,
including per-record validation errors. Queue strategies enqueue the
record and flush it before exiting.`,
	RunE: runTrack,
}

func init() {
	trackCmd.Flags().StringVar(&trackAPIID, "api-id", "", "vendor API family, e.g. openai_chat (required)")
	trackCmd.Flags().StringVar(&trackServiceKey, "service-key", "", "service key, e.g. openai::gpt-4o")
	trackCmd.Flags().StringVar(&trackPayload, "payload", "", "usage payload as JSON (default: stdin)")
	trackCmd.Flags().StringVar(&trackResponseID, "response-id", "", "correlation id (default: generated)")
	trackCmd.Flags().StringVar(&trackCustomerKey, "customer-key", "", "client customer key")
	trackCmd.Flags().StringVar(&trackContext, "context", "", "context metadata as JSON")
	trackCmd.MarkFlagRequired("api-id")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}
	s, err := buildSDK(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer stopQuietly(s)

	raw := trackPayload
	if raw == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		raw = string(data)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("invalid payload JSON: %w", err)
	}

	var trackOpts []tracker.Option
	if trackResponseID != "" {
		trackOpts = append(trackOpts, tracker.WithResponseID(trackResponseID))
	}
	if trackCustomerKey != "" {
		trackOpts = append(trackOpts, tracker.WithCustomerKey(trackCustomerKey))
	}
	if trackContext != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(trackContext), &meta); err != nil {
			return fmt.Errorf("invalid context JSON: %w", err)
		}
		trackOpts = append(trackOpts, tracker.WithContext(meta))
	}

	result, err := s.tracker.Track(ctx, trackAPIID, trackServiceKey, payload, trackOpts...)
	if errors.Is(err, delivery.ErrNoCostsTracked) {
		fmt.Printf("response_id: %s\n", result.ResponseID)
		fmt.Println("accepted, but no cost events were produced")
		return nil
	}
	if err != nil {
		var limitErr *tracker.UsageLimitExceededError
		if errors.As(err, &limitErr) {
			return fmt.Errorf("record blocked: %w", limitErr)
		}
		return err
	}

	fmt.Printf("response_id: %s\n", result.ResponseID)
	if result.Response != nil {
		if recErrs := result.Response.RecordErrors(result.ResponseID); len(recErrs) > 0 {
			for _, msg := range recErrs {
				fmt.Printf("record error: %s\n", msg)
			}
			return fmt.Errorf("record rejected by server")
		}
		if eventID, ok := result.Response.EventID(result.ResponseID); ok {
			fmt.Printf("event_id: %s\n", eventID)
		}
	} else {
		fmt.Println("enqueued")
	}
	return nil
}
