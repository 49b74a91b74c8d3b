// Package bubbletest provides an in-memory Bubble Data API for tests.
package bubbletest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const (
	PromptField     = "promptfield"
	GeneratedPrompt = "generatedprompt"
	APIRequest      = "apirequest"
)

// Call is one request seen by the server.
type Call struct {
	Method     string
	Collection string
	ID         string
	Bulk       bool
	Env        string
}

// Server stores records per collection in insertion order. The exported knobs
// inject failures and must be set before requests are sent.
type Server struct {
	*httptest.Server

	// BulkStatus, when non-zero, is returned by every bulk call.
	BulkStatus int
	// BulkFailLines lists request line indexes answered with an error line.
	BulkFailLines map[int]bool
	// BulkNoIDLines lists request line indexes answered with a success line
	// that carries no id. The record is still stored.
	BulkNoIDLines map[int]bool
	// BulkDropLines trims that many lines from the end of bulk responses.
	BulkDropLines int
	// PatchStatus, when non-zero, is returned by every PATCH.
	PatchStatus int
	// SearchStatus maps a searched value onto a forced status code.
	SearchStatus map[string]int

	mu      sync.Mutex
	seq     int
	records map[string]map[string]bubble.Record
	order   map[string][]string
	calls   []Call
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		BulkFailLines: map[int]bool{},
		BulkNoIDLines: map[int]bool{},
		SearchStatus:  map[string]int{},
		records:       map[string]map[string]bubble.Record{},
		order:         map[string][]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// Config returns a client config pointed at the server.
func (s *Server) Config() bubble.Config {
	return bubble.Config{
		BaseURL: s.URL,
		Token:   "test-token",
		Collections: bubble.Collections{
			PromptField:     PromptField,
			GeneratedPrompt: GeneratedPrompt,
			APIRequest:      APIRequest,
		},
	}
}

// Client builds a real bubble.Client against the server.
func (s *Server) Client(t testing.TB) bubble.Client {
	t.Helper()
	c, err := bubble.New(logger.Nop(), s.Config(), bubble.WithHTTPClient(s.Server.Client()))
	if err != nil {
		t.Fatalf("bubble.New: %v", err)
	}
	return c
}

// Seed inserts a record and returns its id.
func (s *Server) Seed(collection string, rec bubble.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(collection, rec)
}

func (s *Server) Record(collection, id string) bubble.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][id]
	if !ok {
		return nil
	}
	out := bubble.Record{}
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Records returns every record of collection in insertion order.
func (s *Server) Records(collection string) []bubble.Record {
	s.mu.Lock()
	ids := append([]string(nil), s.order[collection]...)
	s.mu.Unlock()
	out := make([]bubble.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Record(collection, id))
	}
	return out
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CountCalls counts calls matching method and collection. bulk selects bulk calls only.
func (s *Server) CountCalls(method, collection string, bulk bool) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Collection == collection && c.Bulk == bulk {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(w, `{"status":"UNAUTHORIZED"}`, http.StatusUnauthorized)
		return
	}
	path := r.URL.Path
	env := string(bubble.EnvironmentProduction)
	if strings.HasPrefix(path, "/version-test/") {
		env = string(bubble.EnvironmentVersionTest)
		path = strings.TrimPrefix(path, "/version-test")
	}
	rest, ok := strings.CutPrefix(path, "/api/1.1/obj/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	call := Call{Method: r.Method, Collection: parts[0], Env: env}
	if len(parts) > 1 {
		if parts[1] == "bulk" {
			call.Bulk = true
		} else {
			call.ID = parts[1]
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && call.ID == "":
		s.search(w, r, call.Collection)
	case r.Method == http.MethodGet:
		s.get(w, call.Collection, call.ID)
	case r.Method == http.MethodPost && call.Bulk:
		s.bulk(w, r, call.Collection)
	case r.Method == http.MethodPost:
		s.create(w, r, call.Collection)
	case r.Method == http.MethodPatch:
		s.patch(w, r, call.Collection, call.ID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, collection string) {
	var constraints []struct {
		Key   string `json:"key"`
		Type  string `json:"constraint_type"`
		Value any    `json:"value"`
	}
	if raw := r.URL.Query().Get("constraints"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &constraints); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "ERROR", "message": err.Error()})
			return
		}
	}
	for _, c := range constraints {
		if v, ok := c.Value.(string); ok {
			if code := s.SearchStatus[v]; code != 0 {
				writeJSON(w, code, map[string]any{"status": "ERROR", "message": "forced failure"})
				return
			}
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.mu.Lock()
	results := []bubble.Record{}
	for _, id := range s.order[collection] {
		rec := s.records[collection][id]
		match := true
		for _, c := range constraints {
			want, _ := c.Value.(string)
			got, _ := rec[c.Key].(string)
			if c.Type != "equals" || got != want {
				match = false
				break
			}
		}
		if match {
			cp := bubble.Record{}
			for k, v := range rec {
				cp[k] = v
			}
			results = append(results, cp)
		}
	}
	s.mu.Unlock()

	remaining := 0
	if limit > 0 && len(results) > limit {
		remaining = len(results) - limit
		results = results[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response": map[string]any{"cursor": 0, "results": results, "remaining": remaining, "count": len(results)},
	})
}

func (s *Server) get(w http.ResponseWriter, collection, id string) {
	rec := s.Record(collection, id)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "NOT_FOUND", "message": "missing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": rec})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, collection string) {
	var rec bubble.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "ERROR", "message": err.Error()})
		return
	}
	id := s.Seed(collection, rec)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "id": id})
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request, collection string) {
	if s.BulkStatus != 0 {
		writeJSON(w, s.BulkStatus, map[string]any{"status": "ERROR", "message": "bulk unavailable"})
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for i := 0; sc.Scan(); i++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if s.BulkFailLines[i] {
			out = append(out, fmt.Sprintf(`{"status":"error","message":"Invalid data for line %d"}`, i))
			continue
		}
		var rec bubble.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			out = append(out, fmt.Sprintf(`{"status":"error","message":%q}`, err.Error()))
			continue
		}
		id := s.Seed(collection, rec)
		if s.BulkNoIDLines[i] {
			out = append(out, `{"status":"success"}`)
			continue
		}
		out = append(out, fmt.Sprintf(`{"status":"success","id":%q}`, id))
	}
	if s.BulkDropLines > 0 && s.BulkDropLines <= len(out) {
		out = out[:len(out)-s.BulkDropLines]
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Join(out, "\n"))
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request, collection, id string) {
	if s.PatchStatus != 0 {
		writeJSON(w, s.PatchStatus, map[string]any{"status": "ERROR", "message": "patch rejected"})
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "ERROR", "message": err.Error()})
		return
	}
	s.mu.Lock()
	rec, ok := s.records[collection][id]
	if ok {
		for k, v := range fields {
			rec[k] = v
		}
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "NOT_FOUND", "message": "missing"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) insertLocked(collection string, rec bubble.Record) string {
	s.seq++
	id := fmt.Sprintf("%dx%d", 1700000000000+s.seq, s.seq)
	stored := bubble.Record{}
	for k, v := range rec {
		stored[k] = v
	}
	stored["_id"] = id
	if s.records[collection] == nil {
		s.records[collection] = map[string]bubble.Record{}
	}
	s.records[collection][id] = stored
	s.order[collection] = append(s.order[collection], id)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
