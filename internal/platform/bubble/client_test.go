package bubble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

func TestClientSearchRequestShape(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet {
			t.Fatalf("method: want=%s got=%s", http.MethodGet, r.Method)
		}
		if r.URL.Host != "app.example.com" {
			t.Fatalf("host: want=%q got=%q", "app.example.com", r.URL.Host)
		}
		if r.URL.Path != "/version-test/api/1.1/obj/PromptField" {
			t.Fatalf("path: want=%q got=%q", "/version-test/api/1.1/obj/PromptField", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("auth header: got=%q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "1" {
			t.Fatalf("limit: want=1 got=%q", got)
		}
		var constraints []map[string]any
		if err := json.Unmarshal([]byte(r.URL.Query().Get("constraints")), &constraints); err != nil {
			t.Fatalf("decode constraints: %v", err)
		}
		if len(constraints) != 1 {
			t.Fatalf("constraints length: want=1 got=%d", len(constraints))
		}
		if constraints[0]["key"] != "Name" || constraints[0]["constraint_type"] != "equals" || constraints[0]["value"] != "subject" {
			t.Fatalf("constraint mismatch: got=%v", constraints[0])
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"response": map[string]any{
				"cursor":    0,
				"results":   []map[string]any{{"_id": "pf-1", "Name": "subject"}},
				"remaining": 3,
				"count":     1,
			},
		}), nil
	})

	res, err := c.Search(context.Background(), EnvironmentVersionTest, "PromptField", "Name", "subject", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].ID() != "pf-1" {
		t.Fatalf("results mismatch: got=%v", res.Results)
	}
	if res.Remaining != 3 {
		t.Fatalf("remaining: want=3 got=%d", res.Remaining)
	}
}

func TestClientProductionURLHasNoEnvironmentSegment(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/1.1/obj/ApiRequest/req-1" {
			t.Fatalf("path: want=%q got=%q", "/api/1.1/obj/ApiRequest/req-1", r.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"response": map[string]any{"_id": "req-1", "GeneratedPrompts": []any{"gp-1"}},
		}), nil
	})
	rec, err := c.Get(context.Background(), EnvironmentProduction, "ApiRequest", "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ID() != "req-1" {
		t.Fatalf("id: want=req-1 got=%q", rec.ID())
	}
}

func TestClientCreateReturnsID(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("content type: got=%q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["Name"] != "style" {
			t.Fatalf("payload: got=%v", body)
		}
		return jsonResponse(t, http.StatusCreated, map[string]any{"status": "success", "id": "pf-9"}), nil
	})
	id, err := c.Create(context.Background(), EnvironmentProduction, "PromptField", map[string]any{"Name": "style"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "pf-9" {
		t.Fatalf("id: want=pf-9 got=%q", id)
	}
}

func TestClientCreateWithoutIDIsParseError(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusCreated, map[string]any{"status": "success"}), nil
	})
	_, err := c.Create(context.Background(), EnvironmentProduction, "PromptField", map[string]any{"Name": "x"})
	if KindOf(err) != KindParse {
		t.Fatalf("kind: want=%q got=%q (%v)", KindParse, KindOf(err), err)
	}
}

func TestClientUpdateAccepts204(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPatch {
			t.Fatalf("method: want=%s got=%s", http.MethodPatch, r.Method)
		}
		return &http.Response{StatusCode: http.StatusNoContent, Header: make(http.Header), Body: io.NopCloser(bytes.NewReader(nil))}, nil
	})
	if err := c.Update(context.Background(), EnvironmentProduction, "ApiRequest", "req-1", map[string]any{"Status": "completed"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestClientBulkCreateEncodesNDJSON(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/1.1/obj/GeneratedPrompt/bulk" {
			t.Fatalf("path: want=%q got=%q", "/api/1.1/obj/GeneratedPrompt/bulk", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "text/plain" {
			t.Fatalf("content type: want=text/plain got=%q", got)
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		want := `{"Value":"a"}` + "\n" + `{"Value":"b"}`
		if string(raw) != want {
			t.Fatalf("body: want=%q got=%q", want, string(raw))
		}
		return textResponse(http.StatusOK, `{"status":"success","id":"gp-1"}`+"\n\n"+`{"status":"error","message":"bad"}`+"\n"), nil
	})
	lines, err := c.BulkCreate(context.Background(), EnvironmentProduction, "GeneratedPrompt", []map[string]any{
		{"Value": "a"},
		{"Value": "b"},
	})
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines: want=2 got=%d", len(lines))
	}
	if lines[0]["id"] != "gp-1" || lines[1]["status"] != "error" {
		t.Fatalf("lines mismatch: got=%v", lines)
	}
}

func TestClientBulkCreateMalformedLineIsParseError(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return textResponse(http.StatusOK, `{"status":"success","id":"gp-1"}`+"\n"+`{not json`), nil
	})
	_, err := c.BulkCreate(context.Background(), EnvironmentProduction, "GeneratedPrompt", []map[string]any{{"Value": "a"}, {"Value": "b"}})
	if KindOf(err) != KindParse {
		t.Fatalf("kind: want=%q got=%q", KindParse, KindOf(err))
	}
}

func TestClientStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindGateway},
		{http.StatusTooManyRequests, KindGateway},
		{http.StatusAccepted, KindGateway},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
				return textResponse(tc.status, `{"body":{"message":"nope"}}`), nil
			})
			_, err := c.Get(context.Background(), EnvironmentProduction, "ApiRequest", "req-1")
			if err == nil {
				t.Fatalf("Get: expected error")
			}
			var opErr *OperationError
			if !errors.As(err, &opErr) {
				t.Fatalf("expected OperationError, got=%T", err)
			}
			if opErr.Kind != tc.want {
				t.Fatalf("kind: want=%q got=%q", tc.want, opErr.Kind)
			}
			if opErr.StatusCode != tc.status {
				t.Fatalf("status: want=%d got=%d", tc.status, opErr.StatusCode)
			}
			if tc.status == http.StatusBadRequest && !strings.Contains(opErr.Body, "nope") {
				t.Fatalf("validation error should embed the store payload, got=%q", opErr.Body)
			}
		})
	}
}

func TestClientTransportFailureIsGateway(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	err := c.Update(context.Background(), EnvironmentProduction, "ApiRequest", "req-1", nil)
	if KindOf(err) != KindGateway {
		t.Fatalf("kind: want=%q got=%q", KindGateway, KindOf(err))
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got=%v", err)
	}
}

func TestClientMissingCollectionFailsBeforeNetwork(t *testing.T) {
	called := false
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		called = true
		return textResponse(http.StatusOK, `{}`), nil
	})
	_, err := c.Create(context.Background(), EnvironmentProduction, "  ", map[string]any{"Name": "x"})
	if KindOf(err) != KindConfiguration {
		t.Fatalf("kind: want=%q got=%q", KindConfiguration, KindOf(err))
	}
	if called {
		t.Fatalf("no request should be sent when the collection is missing")
	}
}

func TestNewRejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.Token = ""
	_, err := New(logger.Nop(), cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ConfigErrorMissingToken {
		t.Fatalf("expected missing_token ConfigError, got=%v", err)
	}
}

type countingObserver struct {
	calls []string
}

func (o *countingObserver) ObserveStoreCall(op, collection, kind string, _ time.Duration) {
	o.calls = append(o.calls, op+"/"+collection+"/"+kind)
}

func TestClientReportsCallsToObserver(t *testing.T) {
	obs := &countingObserver{}
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return textResponse(http.StatusNotFound, `{}`), nil
	})}
	c, err := New(logger.Nop(), testConfig(), WithHTTPClient(hc), WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _ = c.Get(context.Background(), EnvironmentProduction, "ApiRequest", "missing")
	if len(obs.calls) != 1 || obs.calls[0] != "get/ApiRequest/not_found" {
		t.Fatalf("observer calls: got=%v", obs.calls)
	}
}

func testConfig() Config {
	return Config{
		Domain:             "app.example.com",
		Token:              "tok",
		DefaultEnvironment: EnvironmentProduction,
		Collections: Collections{
			PromptField:     "PromptField",
			GeneratedPrompt: "GeneratedPrompt",
			APIRequest:      "ApiRequest",
		},
	}
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) Client {
	t.Helper()
	hc := &http.Client{Transport: roundTripFunc(roundTrip)}
	c, err := New(logger.Nop(), testConfig(), WithHTTPClient(hc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
