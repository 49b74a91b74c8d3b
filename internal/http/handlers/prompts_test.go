package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/promptbridge-backend/internal/modules/prompts"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble/bubbletest"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

func newPromptRouter(t *testing.T, srv *bubbletest.Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := srv.Client(t)
	resolver := prompts.NewResolver(logger.Nop(), store, nil)
	h := NewPromptHandlerWithDeps(PromptHandlerDeps{
		Log:      logger.Nop(),
		Config:   store.Config(),
		Resolver: resolver,
		Merger:   prompts.NewListMerger(logger.Nop(), store),
		Pipeline: prompts.NewPipeline(prompts.PipelineDeps{
			Log:      logger.Nop(),
			Store:    store,
			Resolver: resolver,
		}),
	})
	r := gin.New()
	r.POST("/api/prompt-fields/batch", h.ResolveFields)
	r.GET("/api/prompt-fields/lookup", h.LookupField)
	r.POST("/api/generated-prompts/batch", h.CreateGeneratedPrompts)
	r.POST("/api/generated-prompts/batch-existing", h.CreateGeneratedPromptsForExisting)
	r.POST("/api/api-requests/:id/generated-prompts", h.LinkGeneratedPrompt)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func doRaw(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func attributeBody(apiRequestID, env string, names ...string) map[string]any {
	attrs := make([]map[string]string, len(names))
	for i, n := range names {
		attrs[i] = map[string]string{"attribute": n, "value": "about " + n}
	}
	return map[string]any{"attributes": attrs, "environment": env, "api_request_id": apiRequestID}
}

func TestCreateGeneratedPromptsHandler(t *testing.T) {
	srv := bubbletest.NewServer(t)
	parent := srv.Seed(bubbletest.APIRequest, bubble.Record{})
	r := newPromptRouter(t, srv)

	rec, body := doJSON(t, r, http.MethodPost, "/api/generated-prompts/batch", attributeBody(parent, "production", "subject", "style"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if body["success"] != true || body["outcome"] != "completed" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["generated_prompt_count"] != float64(2) || body["total_attributes"] != float64(2) {
		t.Fatalf("counts: %v", body)
	}
	ids, _ := body["generated_prompt_ids"].([]any)
	if len(ids) != 2 {
		t.Fatalf("generated_prompt_ids: %v", body["generated_prompt_ids"])
	}
	if body["api_request_updated"] != true {
		t.Fatalf("expected api_request_updated")
	}
}

func TestCreateGeneratedPromptsForExistingHandler(t *testing.T) {
	srv := bubbletest.NewServer(t)
	srv.Seed(bubbletest.PromptField, bubble.Record{"Name": "subject"})
	parent := srv.Seed(bubbletest.APIRequest, bubble.Record{})
	r := newPromptRouter(t, srv)

	rec, body := doJSON(t, r, http.MethodPost, "/api/generated-prompts/batch-existing", attributeBody(parent, "", "subject", "mood"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	skipped, _ := body["skipped"].([]any)
	if len(skipped) != 1 || body["skipped_count"] != float64(1) {
		t.Fatalf("skipped: %v", body["skipped"])
	}
	if body["status"] != "partially_completed" || body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if got := srv.CountCalls(http.MethodPost, bubbletest.PromptField, false); got != 0 {
		t.Fatalf("lookup-only endpoint created %d fields", got)
	}
}

func TestPipelineHandlerRejectsBadInput(t *testing.T) {
	srv := bubbletest.NewServer(t)
	r := newPromptRouter(t, srv)

	cases := []struct {
		name string
		body any
		code string
	}{
		{"missing api request id", attributeBody("", "production", "subject"), "api_request_id_required"},
		{"no attributes", map[string]any{"attributes": []any{}, "api_request_id": "x"}, "attributes_required"},
		{"bad environment", attributeBody("x", "staging", "subject"), "invalid_environment"},
	}
	for _, tc := range cases {
		rec, body := doJSON(t, r, http.MethodPost, "/api/generated-prompts/batch", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status want=400 got=%d", tc.name, rec.Code)
		}
		if got := errorCode(body); got != tc.code {
			t.Fatalf("%s: code want=%s got=%s", tc.name, tc.code, got)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generated-prompts/batch", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: want=400 got=%d", rec.Code)
	}
	if len(srv.Calls()) != 0 {
		t.Fatalf("rejected requests reached the store %d times", len(srv.Calls()))
	}
}

func TestPipelineHandlerBulkFailure(t *testing.T) {
	srv := bubbletest.NewServer(t)
	srv.BulkStatus = http.StatusServiceUnavailable
	parent := srv.Seed(bubbletest.APIRequest, bubble.Record{})
	r := newPromptRouter(t, srv)

	rec, body := doJSON(t, r, http.MethodPost, "/api/generated-prompts/batch", attributeBody(parent, "production", "subject"))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: want=502 got=%d", rec.Code)
	}
	if got := errorCode(body); got != string(bubble.KindGateway) {
		t.Fatalf("code: want=gateway got=%s", got)
	}
	if got := srv.CountCalls(http.MethodPatch, bubbletest.APIRequest, false); got != 0 {
		t.Fatalf("parent patched after fatal bulk failure")
	}
}

func TestResolveFieldsHandler(t *testing.T) {
	srv := bubbletest.NewServer(t)
	srv.Seed(bubbletest.PromptField, bubble.Record{"Name": "subject"})
	r := newPromptRouter(t, srv)

	rec, body := doJSON(t, r, http.MethodPost, "/api/prompt-fields/batch", attributeBody("", "production", "subject", "style", "mood"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if body["total_processed"] != float64(3) || body["created_count"] != float64(2) || body["existing_count"] != float64(1) {
		t.Fatalf("counts: %v", body)
	}
	ids, _ := body["prompt_field_ids"].([]any)
	if len(ids) != 3 {
		t.Fatalf("prompt_field_ids: %v", body["prompt_field_ids"])
	}
}

func TestLookupFieldHandler(t *testing.T) {
	srv := bubbletest.NewServer(t)
	id := srv.Seed(bubbletest.PromptField, bubble.Record{"Name": "subject"})
	r := newPromptRouter(t, srv)

	rec, body := doJSON(t, r, http.MethodGet, "/api/prompt-fields/lookup?name=subject&environment=test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
	if body["found"] != true || body["prompt_field_id"] != id || body["environment"] != "version-test" {
		t.Fatalf("unexpected body: %v", body)
	}

	_, body = doJSON(t, r, http.MethodGet, "/api/prompt-fields/lookup?name=nothing", nil)
	if body["found"] != false {
		t.Fatalf("expected found=false, got %v", body)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/prompt-fields/lookup", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: want=400 got=%d", rec.Code)
	}
	if got := srv.CountCalls(http.MethodPost, bubbletest.PromptField, false); got != 0 {
		t.Fatalf("lookup created %d fields", got)
	}
}

func TestLinkGeneratedPromptHandler(t *testing.T) {
	srv := bubbletest.NewServer(t)
	parent := srv.Seed(bubbletest.APIRequest, bubble.Record{"GeneratedPrompts": []any{"gp-1"}})
	r := newPromptRouter(t, srv)
	path := "/api/api-requests/" + parent + "/generated-prompts"

	rec, body := doJSON(t, r, http.MethodPost, path, map[string]any{"generated_prompt_id": "gp-2"})
	if rec.Code != http.StatusOK || body["changed"] != true {
		t.Fatalf("first link: status=%d body=%v", rec.Code, body)
	}
	rec, body = doJSON(t, r, http.MethodPost, path, map[string]any{"generated_prompt_id": "gp-2"})
	if rec.Code != http.StatusOK || body["changed"] != false {
		t.Fatalf("second link: status=%d body=%v", rec.Code, body)
	}
	ids, _ := body["generated_prompt_ids"].([]any)
	if len(ids) != 2 {
		t.Fatalf("generated_prompt_ids: %v", body["generated_prompt_ids"])
	}

	rec, body = doJSON(t, r, http.MethodPost, "/api/api-requests/missing/generated-prompts", map[string]any{"generated_prompt_id": "gp-2"})
	if rec.Code != http.StatusNotFound || errorCode(body) != string(bubble.KindNotFound) {
		t.Fatalf("missing parent: status=%d body=%v", rec.Code, body)
	}

	rec, _ = doJSON(t, r, http.MethodPost, path, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing generated_prompt_id: want=400 got=%d", rec.Code)
	}
}

func TestStoreErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&bubble.ConfigError{Code: bubble.ConfigErrorMissingToken}, http.StatusInternalServerError},
		{&bubble.OperationError{Kind: bubble.KindValidation}, http.StatusUnprocessableEntity},
		{&bubble.OperationError{Kind: bubble.KindUnauthorized}, http.StatusUnauthorized},
		{&bubble.OperationError{Kind: bubble.KindForbidden}, http.StatusForbidden},
		{&bubble.OperationError{Kind: bubble.KindNotFound}, http.StatusNotFound},
		{&bubble.OperationError{Kind: bubble.KindGateway}, http.StatusBadGateway},
		{&bubble.OperationError{Kind: bubble.KindParse}, http.StatusBadGateway},
		{&bubble.OperationError{Kind: bubble.KindCorrelationMismatch}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := storeError(tc.err).Status; got != tc.want {
			t.Fatalf("%v: want=%d got=%d", tc.err, tc.want, got)
		}
	}
}
