package bubble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/promptbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const (
	maxErrorBodyBytes    = 1024
	maxResponseBodyBytes = 16 << 20

	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "text/plain"
)

// Record is a single Bubble thing as returned by the Data API.
type Record map[string]any

// ID returns the store-assigned identifier of the record.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	if v, ok := r["_id"].(string); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := r["id"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

type SearchResult struct {
	Results   []Record
	Remaining int
}

type Client interface {
	Get(ctx context.Context, env Environment, collection, id string) (Record, error)
	Search(ctx context.Context, env Environment, collection, field, value string, limit int) (*SearchResult, error)
	Create(ctx context.Context, env Environment, collection string, payload map[string]any) (string, error)
	BulkCreate(ctx context.Context, env Environment, collection string, payloads []map[string]any) ([]Record, error)
	Update(ctx context.Context, env Environment, collection, id string, payload map[string]any) error
	Config() Config
}

// CallObserver receives one observation per store call.
type CallObserver interface {
	ObserveStoreCall(op, collection string, kind string, dur time.Duration)
}

type Option func(*client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithObserver(o CallObserver) Option {
	return func(c *client) { c.observer = o }
}

type client struct {
	log      *logger.Logger
	cfg      Config
	http     *http.Client
	observer CallObserver
}

func New(log *logger.Logger, cfg Config, opts ...Option) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg = cfg.Normalize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	c := &client{
		log:  log.With("client", "BubbleClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	log.Info(
		"Bubble client configured",
		"domain", cfg.Domain,
		"environment", cfg.DefaultEnvironment,
		"timeout", cfg.Timeout.String(),
	)
	return c, nil
}

func (c *client) Config() Config { return c.cfg }

func (c *client) Get(ctx context.Context, env Environment, collection, id string) (Record, error) {
	const op = "get"
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "record id is required"}
	}
	raw, err := c.do(ctx, op, env, collection, http.MethodGet, "/"+url.PathEscape(id), nil, "", nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Response Record `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &OperationError{Kind: KindParse, Operation: op, Collection: collection, Message: "decode record failed", Cause: err}
	}
	if envelope.Response == nil {
		return Record{}, nil
	}
	return envelope.Response, nil
}

func (c *client) Search(ctx context.Context, env Environment, collection, field, value string, limit int) (*SearchResult, error) {
	const op = "search"
	if strings.TrimSpace(field) == "" {
		return nil, &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "search field is required"}
	}
	if limit <= 0 {
		limit = 1
	}
	constraints, err := json.Marshal([]map[string]any{{
		"key":             field,
		"constraint_type": "equals",
		"value":           value,
	}})
	if err != nil {
		return nil, &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "encode constraints failed", Cause: err}
	}
	q := url.Values{}
	q.Set("constraints", string(constraints))
	q.Set("limit", strconv.Itoa(limit))

	raw, err := c.do(ctx, op, env, collection, http.MethodGet, "", q, "", nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Response struct {
			Results   []Record `json:"results"`
			Remaining int      `json:"remaining"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &OperationError{Kind: KindParse, Operation: op, Collection: collection, Message: "decode search response failed", Cause: err}
	}
	return &SearchResult{
		Results:   envelope.Response.Results,
		Remaining: envelope.Response.Remaining,
	}, nil
}

func (c *client) Create(ctx context.Context, env Environment, collection string, payload map[string]any) (string, error) {
	const op = "create"
	body, err := json.Marshal(payloadOrEmpty(payload))
	if err != nil {
		return "", &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "encode payload failed", Cause: err}
	}
	raw, err := c.do(ctx, op, env, collection, http.MethodPost, "", nil, contentTypeJSON, body)
	if err != nil {
		return "", err
	}
	var created struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", &OperationError{Kind: KindParse, Operation: op, Collection: collection, Message: "decode create response failed", Cause: err}
	}
	id := strings.TrimSpace(created.ID)
	if id == "" {
		return "", &OperationError{
			Kind:       KindParse,
			Operation:  op,
			Collection: collection,
			Message:    "create response carried no id",
			Body:       truncateBody(raw),
		}
	}
	return id, nil
}

func (c *client) BulkCreate(ctx context.Context, env Environment, collection string, payloads []map[string]any) ([]Record, error) {
	const op = "bulk_create"
	if len(payloads) == 0 {
		return []Record{}, nil
	}
	body, err := EncodeLines(payloads)
	if err != nil {
		return nil, &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "encode bulk payload failed", Cause: err}
	}
	raw, err := c.do(ctx, op, env, collection, http.MethodPost, "/bulk", nil, contentTypeNDJSON, body)
	if err != nil {
		return nil, err
	}
	lines, err := DecodeLines(raw)
	if err != nil {
		return nil, &OperationError{
			Kind:       KindParse,
			Operation:  op,
			Collection: collection,
			Message:    "decode bulk response failed",
			Body:       truncateBody(raw),
			Cause:      err,
		}
	}
	return lines, nil
}

func (c *client) Update(ctx context.Context, env Environment, collection, id string, payload map[string]any) error {
	const op = "update"
	id = strings.TrimSpace(id)
	if id == "" {
		return &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "record id is required"}
	}
	body, err := json.Marshal(payloadOrEmpty(payload))
	if err != nil {
		return &OperationError{Kind: KindValidation, Operation: op, Collection: collection, Message: "encode payload failed", Cause: err}
	}
	_, err = c.do(ctx, op, env, collection, http.MethodPatch, "/"+url.PathEscape(id), nil, contentTypeJSON, body)
	return err
}

// do performs one call and maps the HTTP status onto an ErrorKind.
// A 204 yields an empty JSON object so callers can decode uniformly.
func (c *client) do(
	ctx context.Context,
	op string,
	env Environment,
	collection string,
	method string,
	suffix string,
	query url.Values,
	contentType string,
	body []byte,
) (raw []byte, err error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if !env.Valid() {
		return nil, &ConfigError{Code: ConfigErrorInvalidEnvironment, Value: string(env)}
	}

	ctx, span := otel.Tracer("promptbridge/bubble").Start(ctxutil.Default(ctx), "bubble."+op)
	span.SetAttributes(
		attribute.String("bubble.collection", collection),
		attribute.String("bubble.environment", string(env)),
	)
	start := time.Now()
	defer func() {
		kind := ""
		if err != nil {
			kind = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
		if c.observer != nil {
			c.observer.ObserveStoreCall(op, collection, kind, time.Since(start))
		}
	}()

	target := c.cfg.ObjectURL(env, collection) + suffix
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &OperationError{Kind: KindGateway, Operation: op, Collection: collection, Message: "build request failed", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyHTTPCallError(op, collection, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if readErr != nil {
		return nil, classifyHTTPCallError(op, collection, readErr)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return raw, nil
	case http.StatusNoContent:
		return []byte(`{}`), nil
	}

	kind := kindForStatus(resp.StatusCode)
	c.log.Warn(
		"bubble call failed",
		"op", op,
		"collection", collection,
		"environment", env,
		"status", resp.StatusCode,
		"kind", kind,
	)
	return nil, &OperationError{
		Kind:       kind,
		Operation:  op,
		Collection: collection,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("bubble http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		Body:       truncateBody(raw),
	}
}

func payloadOrEmpty(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
