package delivery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aicostmanager/aicostmanager-go/internal/apitest"
	"github.com/aicostmanager/aicostmanager-go/pkg/dispatch"
	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

func testRecord() usage.Record {
	return usage.Record{
		APIID:      "openai_chat",
		ServiceKey: "openai::gpt-4o",
		ResponseID: usage.NewResponseID(),
		Timestamp:  usage.FormatTimestamp(time.Now()),
		Payload:    map[string]any{"input_tokens": 10, "output_tokens": 5},
	}
}

func newImmediateForServer(t *testing.T, server *apitest.Server) *Immediate {
	t.Helper()
	d, err := NewImmediate(Config{
		APIKey:  "sk-test",
		APIBase: server.URL(),
	})
	if err != nil {
		t.Fatalf("NewImmediate: %v", err)
	}
	return d
}

func TestImmediateEnqueueSuccess(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	rec := testRecord()
	server.SetTrackResponse([]byte(fmt.Sprintf(
		`{"event_ids": [{"%s": "11111111-2222-3333-4444-555555555555"}]}`, rec.ResponseID)))

	d := newImmediateForServer(t, server)
	defer d.Stop(context.Background())

	resp, err := d.Enqueue(context.Background(), rec)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	eventID, ok := resp.EventID(rec.ResponseID)
	if !ok || eventID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("event id = %q ok=%v", eventID, ok)
	}

	records := server.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record sent, got %d", len(records))
	}
	if records[0]["api_id"] != "openai_chat" {
		t.Errorf("api_id = %v", records[0]["api_id"])
	}

	stats := d.Stats()
	if stats.TotalSent != 1 || stats.TotalFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImmediateNoCostsTracked(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	rec := testRecord()
	server.SetTrackResponse([]byte(fmt.Sprintf(
		`{"event_ids": [{"%s": "e1"}], "results": [{"cost_events": []}]}`, rec.ResponseID)))

	d := newImmediateForServer(t, server)
	defer d.Stop(context.Background())

	resp, err := d.Enqueue(context.Background(), rec)
	if !errors.Is(err, ErrNoCostsTracked) {
		t.Fatalf("expected ErrNoCostsTracked, got %v", err)
	}
	if resp == nil {
		t.Fatal("response must accompany ErrNoCostsTracked")
	}
}

func TestImmediatePerRecordErrorsPreserved(t *testing.T) {
	// The server reports per-record validation failures inside a 2xx
	// response; the messages must surface unchanged.
	perRecordErrors := []string{
		"Missing service_key",
		"Invalid service_key format",
		"Service not found",
		"API client not found",
		"Payload validation error: input_tokens must be a number",
	}
	for _, msg := range perRecordErrors {
		t.Run(msg, func(t *testing.T) {
			server := apitest.New()
			defer server.Close()

			rec := testRecord()
			server.SetTrackResponse([]byte(fmt.Sprintf(
				`{"event_ids": [{"%s": [%q]}]}`, rec.ResponseID, msg)))

			d := newImmediateForServer(t, server)
			defer d.Stop(context.Background())

			resp, err := d.Enqueue(context.Background(), rec)
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			got := resp.RecordErrors(rec.ResponseID)
			if len(got) != 1 || got[0] != msg {
				t.Errorf("record errors = %v, want [%q]", got, msg)
			}
			if _, ok := resp.EventID(rec.ResponseID); ok {
				t.Error("rejected record must not report an event id")
			}
		})
	}
}

func TestImmediatePersistsTriggeredLimitsEchoVerbatim(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	rec := testRecord()
	// The echo carries a field this SDK does not model; the stored
	// payload must still match the server bytes exactly.
	envelope := `{"encrypted_payload": "ep", "key_id": "kid-1", "public_key": "pk", "server_extra": "kept", "version": "3"}`
	server.SetTrackResponse([]byte(fmt.Sprintf(
		`{"event_ids": [{"%s": "e1"}], "triggered_limits": %s}`, rec.ResponseID, envelope)))

	store := inistore.New(filepath.Join(t.TempDir(), "AICM.INI"))
	cache, err := limits.NewCache(limits.CacheConfig{Store: store})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	d, err := NewImmediate(Config{
		APIKey:  "sk-test",
		APIBase: server.URL(),
		Cache:   cache,
	})
	if err != nil {
		t.Fatalf("NewImmediate: %v", err)
	}
	defer d.Stop(context.Background())

	if _, err := d.Enqueue(context.Background(), rec); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	payload, ok, err := store.Get("triggered_limits", "payload")
	if err != nil || !ok {
		t.Fatalf("payload not stored: ok=%v err=%v", ok, err)
	}
	if payload != envelope {
		t.Errorf("payload altered in transit:\n got  %s\n want %s", payload, envelope)
	}
}

func TestImmediateTerminalClientError(t *testing.T) {
	server := apitest.New()
	defer server.Close()
	server.InjectStatuses(401)

	d := newImmediateForServer(t, server)
	defer d.Stop(context.Background())

	_, err := d.Enqueue(context.Background(), testRecord())
	var apiErr *dispatch.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *dispatch.APIError, got %v", err)
	}
	if server.TrackCalls() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", server.TrackCalls())
	}

	stats := d.Stats()
	if stats.TotalFailed != 1 || stats.LastError == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImmediateRetriesServerErrors(t *testing.T) {
	server := apitest.New()
	defer server.Close()
	server.InjectStatuses(500, 503)

	d, err := NewImmediate(Config{
		APIKey:      "sk-test",
		APIBase:     server.URL(),
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewImmediate: %v", err)
	}
	defer d.Stop(context.Background())

	if _, err := d.Enqueue(context.Background(), testRecord()); err != nil {
		t.Fatalf("Enqueue should succeed on the third attempt: %v", err)
	}
	if server.TrackCalls() != 3 {
		t.Errorf("expected 3 attempts, got %d", server.TrackCalls())
	}
}

func TestImmediateRejectsInvalidRecord(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	d := newImmediateForServer(t, server)
	defer d.Stop(context.Background())

	rec := testRecord()
	rec.APIID = ""
	if _, err := d.Enqueue(context.Background(), rec); err == nil {
		t.Error("expected validation error")
	}
	if server.TrackCalls() != 0 {
		t.Error("invalid record must not reach the server")
	}
}

func TestImmediatePrecheckBlocks(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	blocked := errors.New("blocked by limit")
	d, err := NewImmediate(Config{
		APIKey:   "sk-test",
		APIBase:  server.URL(),
		Precheck: func(context.Context, usage.Record) error { return blocked },
	})
	if err != nil {
		t.Fatalf("NewImmediate: %v", err)
	}
	defer d.Stop(context.Background())

	if _, err := d.Enqueue(context.Background(), testRecord()); !errors.Is(err, blocked) {
		t.Errorf("expected precheck error, got %v", err)
	}
	if server.TrackCalls() != 0 {
		t.Error("blocked record must not reach the server")
	}
}

func TestImmediateStopIdempotent(t *testing.T) {
	server := apitest.New()
	defer server.Close()

	d := newImmediateForServer(t, server)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
