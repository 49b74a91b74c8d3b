package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	runrepo "github.com/yungbote/promptbridge-backend/internal/data/repos/prompts"
	domain "github.com/yungbote/promptbridge-backend/internal/domain/prompts"
	"github.com/yungbote/promptbridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const skipReasonNoField = "no_matching_prompt_field"

// PipelineObserver receives one observation per finished run.
type PipelineObserver interface {
	ObservePipelineRun(mode, outcome string, dur time.Duration)
}

type PipelineDeps struct {
	Log      *logger.Logger
	Store    bubble.Client
	Resolver *Resolver
	Batches  *BatchCreator

	// Optional.
	Runs    runrepo.PipelineRunRepo
	Metrics PipelineObserver
}

// Pipeline resolves attribute names, bulk-creates GeneratedPrompts and links them to the
// parent ApiRequest. Nothing is rolled back: a failure after the bulk call is reported
// alongside the records that were already created.
type Pipeline struct {
	deps PipelineDeps
	log  *logger.Logger
	cfg  bubble.Config
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Resolver == nil {
		deps.Resolver = NewResolver(deps.Log, deps.Store, nil)
	}
	if deps.Batches == nil {
		deps.Batches = NewBatchCreator(deps.Log, deps.Store)
	}
	return &Pipeline{
		deps: deps,
		log:  deps.Log.With("service", "PromptPipeline"),
		cfg:  deps.Store.Config(),
	}
}

type Request struct {
	Environment  bubble.Environment
	APIRequestID string
	Attributes   []domain.AttributeValue
	Mode         domain.Mode
}

type Result struct {
	Success              bool                 `json:"success"`
	Message              string               `json:"message"`
	Outcome              domain.Outcome       `json:"outcome"`
	Status               string               `json:"status,omitempty"`
	TotalAttributes      int                  `json:"total_attributes"`
	ResolvedCount        int                  `json:"resolved_count"`
	CreatedFieldCount    int                  `json:"created_field_count"`
	SkippedCount         int                  `json:"skipped_count"`
	GeneratedPromptCount int                  `json:"generated_prompt_count"`
	FailedCount          int                  `json:"failed_count"`
	PromptFieldIDs       []string             `json:"prompt_field_ids"`
	GeneratedPromptIDs   []string             `json:"generated_prompt_ids"`
	Skipped              []domain.SkippedItem `json:"skipped"`
	Errors               []domain.ItemError   `json:"errors"`
	DetailedResults      []domain.ItemResult  `json:"detailed_results"`
	APIRequestUpdated    bool                 `json:"api_request_updated"`
	UpdateError          string               `json:"update_error,omitempty"`
	RunID                string               `json:"run_id,omitempty"`
}

// FieldsResult is the outcome of resolving names without creating GeneratedPrompts.
type FieldsResult struct {
	Success         bool                `json:"success"`
	Message         string              `json:"message"`
	TotalProcessed  int                 `json:"total_processed"`
	CreatedCount    int                 `json:"created_count"`
	ExistingCount   int                 `json:"existing_count"`
	PromptFieldIDs  []string            `json:"prompt_field_ids"`
	Errors          []domain.ItemError  `json:"errors"`
	DetailedResults []domain.ItemResult `json:"detailed_results"`
}

// stageOne is the private working set of a single invocation.
type stageOne struct {
	items   []domain.ItemResult
	usable  []int
	skipped []domain.SkippedItem
	errors  []domain.ItemError
	created int
}

// Run executes all three stages for one ApiRequest.
//
// A nil error means the run reached a reportable state, which may still carry
// per-item errors (Success=false). A non-nil error is fatal: the bulk call failed as a
// whole or could not be correlated, and the parent record was not touched.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := otel.Tracer("promptbridge/prompts").Start(ctx, "prompts.pipeline.run")
	span.SetAttributes(
		attribute.String("pipeline.mode", string(req.Mode)),
		attribute.String("bubble.environment", string(req.Environment)),
		attribute.String("pipeline.api_request_id", req.APIRequestID),
		attribute.Int("pipeline.attributes", len(req.Attributes)),
	)
	var orphaned []string
	defer func() {
		outcome := domain.OutcomeFatal
		if res != nil {
			outcome = res.Outcome
		}
		span.SetAttributes(attribute.String("pipeline.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(bubble.KindOf(err)))
		}
		span.End()
		dur := time.Since(start)
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObservePipelineRun(string(req.Mode), string(outcome), dur)
		}
		runID := p.recordRun(ctx, req, res, err, orphaned, dur)
		if res != nil {
			res.RunID = runID
		}
	}()

	s1, err := p.resolveAll(ctx, req.Environment, req.Attributes, req.Mode)
	if err != nil {
		return nil, err
	}

	res = &Result{
		TotalAttributes:    len(req.Attributes),
		ResolvedCount:      len(s1.usable),
		CreatedFieldCount:  s1.created,
		SkippedCount:       len(s1.skipped),
		PromptFieldIDs:     make([]string, 0, len(s1.usable)),
		GeneratedPromptIDs: []string{},
		Skipped:            s1.skipped,
		Errors:             s1.errors,
		DetailedResults:    s1.items,
	}
	for _, idx := range s1.usable {
		res.PromptFieldIDs = append(res.PromptFieldIDs, s1.items[idx].PromptFieldID)
	}

	if len(s1.usable) == 0 && len(s1.errors) > 0 {
		res.Outcome = domain.OutcomeEarlyFailure
		res.FailedCount = countFailed(res.DetailedResults)
		res.Message = fmt.Sprintf("No prompt fields could be resolved (%d errors)", len(s1.errors))
		p.log.Warn("pipeline stopped after resolve", "api_request_id", req.APIRequestID, "errors", len(s1.errors))
		return res, nil
	}

	// Past this point remote side effects are committed one by one; a caller going away
	// must not leave the parent half-linked.
	work := context.WithoutCancel(ctx)

	if len(s1.usable) > 0 {
		batch, berr := p.deps.Batches.CreateBatch(work, req.Environment, p.cfg.Collections.GeneratedPrompt, p.batchItems(s1))
		if berr != nil {
			if batch != nil {
				orphaned = batch.CreatedIDs
			}
			p.log.Error(
				"bulk create failed",
				"api_request_id", req.APIRequestID,
				"kind", bubble.KindOf(berr),
				"error", berr,
			)
			return nil, fmt.Errorf("bulk create generated prompts: %w", berr)
		}
		p.applyBatch(res, s1, batch)
	}

	res.Status = statusLabel(res, len(s1.usable))
	p.updateParent(work, req, res)

	res.FailedCount = countFailed(res.DetailedResults)
	res.Success = len(res.Errors) == 0
	res.Outcome = outcomeOf(res, len(s1.usable))
	res.Message = messageFor(res)

	p.log.Info(
		"pipeline finished",
		"api_request_id", req.APIRequestID,
		"mode", req.Mode,
		"outcome", res.Outcome,
		"status", res.Status,
		"resolved", res.ResolvedCount,
		"skipped", res.SkippedCount,
		"generated", res.GeneratedPromptCount,
		"errors", len(res.Errors),
	)
	return res, nil
}

// ResolveFields runs only the resolve stage in create mode.
func (p *Pipeline) ResolveFields(ctx context.Context, env bubble.Environment, attrs []domain.AttributeValue) (*FieldsResult, error) {
	if !env.Valid() {
		return nil, &bubble.ConfigError{Code: bubble.ConfigErrorInvalidEnvironment, Value: string(env)}
	}
	if len(attrs) == 0 {
		return nil, validationError("at least one attribute is required")
	}
	ctx, span := otel.Tracer("promptbridge/prompts").Start(ctx, "prompts.resolve_fields")
	defer span.End()

	s1, err := p.resolveAll(ctx, env, attrs, domain.ModeCreate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(bubble.KindOf(err)))
		return nil, err
	}
	out := &FieldsResult{
		TotalProcessed:  len(attrs),
		CreatedCount:    s1.created,
		ExistingCount:   len(s1.usable) - s1.created,
		PromptFieldIDs:  make([]string, 0, len(s1.usable)),
		Errors:          s1.errors,
		DetailedResults: s1.items,
	}
	for _, idx := range s1.usable {
		out.PromptFieldIDs = append(out.PromptFieldIDs, s1.items[idx].PromptFieldID)
	}
	out.Success = len(out.Errors) == 0
	if out.Success {
		out.Message = fmt.Sprintf("Resolved %d prompt fields (%d created, %d existing)", len(s1.usable), out.CreatedCount, out.ExistingCount)
	} else {
		out.Message = fmt.Sprintf("Resolved %d of %d prompt fields; %d failed", len(s1.usable), len(attrs), len(out.Errors))
	}
	return out, nil
}

// resolveAll walks attrs in order. Per-item failures are collected; only a
// configuration error aborts since it would fail every remaining item the same way.
func (p *Pipeline) resolveAll(ctx context.Context, env bubble.Environment, attrs []domain.AttributeValue, mode domain.Mode) (*stageOne, error) {
	s := &stageOne{
		items:   make([]domain.ItemResult, len(attrs)),
		usable:  []int{},
		skipped: []domain.SkippedItem{},
		errors:  []domain.ItemError{},
	}
	for i, a := range attrs {
		item := domain.ItemResult{Index: i, Attribute: a.Attribute, Value: a.Value}
		name := a.Name()
		if name == "" {
			item.Status = domain.ItemResolveFailed
			item.Error = "attribute name is required"
			s.items[i] = item
			s.errors = append(s.errors, domain.ItemError{
				Index:     i,
				Attribute: a.Attribute,
				Stage:     domain.StageResolve,
				Kind:      string(bubble.KindValidation),
				Error:     item.Error,
			})
			continue
		}

		var (
			id      string
			found   = true
			created bool
			err     error
		)
		if mode == domain.ModeLookupOnly {
			id, found, err = p.deps.Resolver.ResolveOnly(ctx, env, name)
		} else {
			var r Resolution
			r, err = p.deps.Resolver.ResolveOrCreate(ctx, env, name)
			id, created = r.ID, r.Created
		}

		switch {
		case err != nil:
			if bubble.KindOf(err) == bubble.KindConfiguration {
				return nil, err
			}
			item.Status = domain.ItemResolveFailed
			item.Error = err.Error()
			s.errors = append(s.errors, domain.ItemError{
				Index:     i,
				Attribute: a.Attribute,
				Stage:     domain.StageResolve,
				Kind:      string(bubble.KindOf(err)),
				Error:     err.Error(),
			})
		case !found:
			item.Status = domain.ItemSkipped
			s.skipped = append(s.skipped, domain.SkippedItem{Index: i, Attribute: a.Attribute, Reason: skipReasonNoField})
		default:
			item.Status = domain.ItemResolved
			item.PromptFieldID = id
			item.FieldCreated = created
			if created {
				s.created++
			}
			s.usable = append(s.usable, i)
		}
		s.items[i] = item
	}
	return s, nil
}

func (p *Pipeline) batchItems(s1 *stageOne) []BatchItem {
	out := make([]BatchItem, 0, len(s1.usable))
	for _, idx := range s1.usable {
		it := s1.items[idx]
		out = append(out, BatchItem{
			Label: it.Attribute,
			Payload: map[string]any{
				p.cfg.Fields.GeneratedPromptField: it.PromptFieldID,
				p.cfg.Fields.GeneratedPromptValue: it.Value,
			},
		})
	}
	return out
}

// applyBatch maps batch positions back onto original attribute indexes.
func (p *Pipeline) applyBatch(res *Result, s1 *stageOne, batch *BatchResult) {
	res.GeneratedPromptIDs = append(res.GeneratedPromptIDs, batch.CreatedIDs...)
	res.GeneratedPromptCount = len(batch.CreatedIDs)
	failed := make(map[int]string, len(batch.Errors))
	for _, be := range batch.Errors {
		failed[be.Index] = be.Error
	}
	for pos, idx := range s1.usable {
		item := &res.DetailedResults[idx]
		if msg, ok := failed[pos]; ok {
			item.Status = domain.ItemCreateFailed
			item.Error = msg
			res.Errors = append(res.Errors, domain.ItemError{
				Index:     idx,
				Attribute: item.Attribute,
				Stage:     domain.StageCreate,
				Error:     msg,
			})
			continue
		}
		item.Status = domain.ItemCreated
		item.GeneratedPromptID = batch.IDs[pos]
	}
}

func (p *Pipeline) updateParent(ctx context.Context, req Request, res *Result) {
	snapshot, err := json.Marshal(req.Attributes)
	if err != nil {
		snapshot = []byte("[]")
	}
	payload := map[string]any{
		p.cfg.Fields.APIRequestAttributes: string(snapshot),
		p.cfg.Fields.APIRequestPrompts:    res.GeneratedPromptIDs,
		p.cfg.Fields.APIRequestStatus:     res.Status,
	}
	if err := p.deps.Store.Update(ctx, req.Environment, p.cfg.Collections.APIRequest, req.APIRequestID, payload); err != nil {
		p.log.Error(
			"api request update failed",
			"api_request_id", req.APIRequestID,
			"generated_prompt_ids", res.GeneratedPromptIDs,
			"kind", bubble.KindOf(err),
			"error", err,
		)
		res.APIRequestUpdated = false
		res.UpdateError = err.Error()
		res.Errors = append(res.Errors, domain.ItemError{
			Index: -1,
			Stage: domain.StageUpdate,
			Kind:  string(bubble.KindOf(err)),
			Error: err.Error(),
		})
		return
	}
	res.APIRequestUpdated = true
}

func statusLabel(res *Result, usable int) string {
	switch {
	case usable == 0:
		return domain.StatusNoMatchingFields
	case res.GeneratedPromptCount == 0:
		return domain.StatusFailed
	case len(res.Errors) > 0 || len(res.Skipped) > 0:
		return domain.StatusPartiallyCompleted
	default:
		return domain.StatusCompleted
	}
}

func outcomeOf(res *Result, usable int) domain.Outcome {
	switch {
	case !res.APIRequestUpdated:
		return domain.OutcomeUpdateFailed
	case usable == 0:
		return domain.OutcomeEarlySuccess
	case len(res.Errors) > 0:
		return domain.OutcomePartial
	default:
		return domain.OutcomeCompleted
	}
}

func messageFor(res *Result) string {
	switch res.Outcome {
	case domain.OutcomeEarlySuccess:
		return fmt.Sprintf("No matching prompt fields; %d attributes skipped", res.SkippedCount)
	case domain.OutcomeUpdateFailed:
		return fmt.Sprintf("Created %d generated prompts but failed to update the api request", res.GeneratedPromptCount)
	case domain.OutcomePartial:
		return fmt.Sprintf("Created %d of %d generated prompts with %d errors", res.GeneratedPromptCount, res.TotalAttributes, len(res.Errors))
	default:
		if res.SkippedCount > 0 {
			return fmt.Sprintf("Created %d generated prompts; %d attributes skipped", res.GeneratedPromptCount, res.SkippedCount)
		}
		return fmt.Sprintf("Created %d generated prompts", res.GeneratedPromptCount)
	}
}

func countFailed(items []domain.ItemResult) int {
	n := 0
	for _, it := range items {
		if it.Status == domain.ItemResolveFailed || it.Status == domain.ItemCreateFailed {
			n++
		}
	}
	return n
}

// recordRun writes the ledger row. Failures are logged and otherwise ignored.
func (p *Pipeline) recordRun(ctx context.Context, req Request, res *Result, runErr error, orphaned []string, dur time.Duration) string {
	if p.deps.Runs == nil {
		return ""
	}
	run := &domain.PipelineRun{
		APIRequestID: req.APIRequestID,
		Environment:  string(req.Environment),
		Mode:         string(req.Mode),
		DurationMS:   dur.Milliseconds(),
	}
	var (
		ids  = []string{}
		errs = []domain.ItemError{}
	)
	if res != nil {
		run.Outcome = string(res.Outcome)
		run.Status = res.Status
		run.Success = res.Success
		run.TotalAttributes = res.TotalAttributes
		run.ResolvedCount = res.ResolvedCount
		run.SkippedCount = res.SkippedCount
		run.GeneratedPromptCount = res.GeneratedPromptCount
		run.FailedCount = res.FailedCount
		run.APIRequestUpdated = res.APIRequestUpdated
		ids = res.GeneratedPromptIDs
		errs = res.Errors
	} else {
		run.Outcome = string(domain.OutcomeFatal)
		run.TotalAttributes = len(req.Attributes)
		if len(orphaned) > 0 {
			ids = orphaned
		}
		if runErr != nil {
			errs = append(errs, domain.ItemError{
				Index: -1,
				Stage: domain.StageCreate,
				Kind:  string(bubble.KindOf(runErr)),
				Error: runErr.Error(),
			})
		}
	}
	run.GeneratedPromptIDs = mustJSON(ids)
	run.Errors = mustJSON(errs)

	created, err := p.deps.Runs.Create(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, run)
	if err != nil {
		p.log.Warn("pipeline run not recorded", "api_request_id", req.APIRequestID, "error", err)
		return ""
	}
	return created.ID.String()
}

func validateRequest(req Request) error {
	if !req.Environment.Valid() {
		return &bubble.ConfigError{Code: bubble.ConfigErrorInvalidEnvironment, Value: string(req.Environment)}
	}
	if !req.Mode.Valid() {
		return validationError(fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if strings.TrimSpace(req.APIRequestID) == "" {
		return validationError("api_request_id is required")
	}
	if len(req.Attributes) == 0 {
		return validationError("at least one attribute is required")
	}
	return nil
}

func validationError(msg string) error {
	return &bubble.OperationError{Kind: bubble.KindValidation, Operation: "pipeline", Message: msg}
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
