package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aicostmanager/aicostmanager-go/pkg/dispatch"
	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// shipper is the transport shared by all strategies: it builds the batch
// body, posts it, parses the response, and integrates any triggered
// limits echo into the shared cache.
type shipper struct {
	client      *dispatch.Client
	url         string
	bodyKey     string
	maxAttempts int
	cache       *limits.Cache
	logger      *logging.Logger
}

// newShipper builds the shared transport from a defaulted Config.
func newShipper(cfg Config) *shipper {
	client := dispatch.New(dispatch.Config{
		APIKey:     cfg.APIKey,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		LogBodies:  cfg.LogBodies,
		Logger:     cfg.Logger,
		HTTPClient: cfg.HTTPClient,
	})
	url := strings.TrimRight(cfg.APIBase, "/") + strings.TrimRight(cfg.APIURL, "/") + cfg.Endpoint
	return &shipper{
		client:      client,
		url:         url,
		bodyKey:     cfg.BodyKey,
		maxAttempts: cfg.MaxAttempts,
		cache:       cfg.Cache,
		logger:      cfg.Logger.Component("delivery"),
	}
}

// ship posts one batch and returns the parsed response. A 2xx with an
// unparseable body is a terminal *dispatch.ParseError.
func (s *shipper) ship(ctx context.Context, recs []usage.Record) (*TrackResponse, error) {
	body, err := json.Marshal(map[string][]usage.Record{s.bodyKey: recs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	resp, err := s.client.Post(ctx, s.url, body, s.maxAttempts)
	if err != nil {
		return nil, err
	}

	var parsed TrackResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &dispatch.ParseError{Body: resp.Body, Cause: err}
	}

	if len(parsed.TriggeredLimits) > 0 && string(parsed.TriggeredLimits) != "null" && s.cache != nil {
		// A failed cache write must not fail the delivery.
		if err := s.cache.WriteRaw(parsed.TriggeredLimits); err != nil {
			s.logger.Warn("failed to persist triggered limits", "error", err)
		}
	}
	return &parsed, nil
}

// close releases transport resources.
func (s *shipper) close() {
	s.client.CloseIdleConnections()
}
