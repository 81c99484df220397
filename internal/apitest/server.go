// Package apitest provides an httptest-backed mock of the ingestion API
// for package tests: it records request bodies, serves canned /track and
// /triggered-limits responses, and can inject status-code sequences.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Server is a mock ingestion endpoint.
type Server struct {
	mu sync.Mutex

	// bodies are the raw POST bodies received by /track, in order.
	bodies [][]byte

	// statusSequence, when non-empty, overrides the response status for
	// successive /track calls, consumed front to back.
	statusSequence []int

	// trackResponse is the canned /track body.
	trackResponse []byte

	// limitsResponse is the canned /triggered-limits body.
	limitsResponse []byte

	httpServer *httptest.Server
}

// New starts a mock server. Callers must Close it.
func New() *Server {
	s := &Server{
		trackResponse:  []byte(`{"event_ids": []}`),
		limitsResponse: []byte(`{"triggered_limits": {}}`),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/track", s.handleTrack)
	mux.HandleFunc("/api/v1/triggered-limits", s.handleLimits)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the server origin, suitable as the SDK's api base.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// SetTrackResponse sets the canned /track response body.
func (s *Server) SetTrackResponse(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackResponse = body
}

// SetLimitsResponse sets the canned /triggered-limits response body.
func (s *Server) SetLimitsResponse(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitsResponse = body
}

// InjectStatuses queues status codes returned by successive /track calls
// before the canned response resumes. A 2xx entry still serves the
// canned body.
func (s *Server) InjectStatuses(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusSequence = append(s.statusSequence, codes...)
}

// Bodies returns copies of the raw /track request bodies received so far.
func (s *Server) Bodies() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.bodies))
	for i, b := range s.bodies {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// TrackCalls returns the number of /track requests received.
func (s *Server) TrackCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

// BatchSizes returns the record count of each /track batch, in order.
func (s *Server) BatchSizes() []int {
	var sizes []int
	for _, body := range s.Bodies() {
		var batch struct {
			Tracked []map[string]any `json:"tracked"`
		}
		if err := json.Unmarshal(body, &batch); err != nil {
			continue
		}
		sizes = append(sizes, len(batch.Tracked))
	}
	return sizes
}

// Records decodes every record received so far, across all batches.
func (s *Server) Records() []map[string]any {
	var all []map[string]any
	for _, body := range s.Bodies() {
		var batch struct {
			Tracked []map[string]any `json:"tracked"`
		}
		if err := json.Unmarshal(body, &batch); err != nil {
			continue
		}
		all = append(all, batch.Tracked...)
	}
	return all
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	status := http.StatusOK
	if len(s.statusSequence) > 0 {
		status = s.statusSequence[0]
		s.statusSequence = s.statusSequence[1:]
	}
	resp := s.trackResponse
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status < 200 || status >= 300 {
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "injected", "message": "injected failure"}`))
		return
	}
	w.WriteHeader(status)
	w.Write(resp)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := s.limitsResponse
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}
