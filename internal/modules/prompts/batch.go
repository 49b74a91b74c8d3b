package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const bulkStatusSuccess = "success"

// BatchItem is one record of a bulk create. Label names it in error reports.
type BatchItem struct {
	Label   string
	Payload map[string]any
}

type BatchError struct {
	Index     int    `json:"index"`
	Attribute string `json:"attribute,omitempty"`
	Error     string `json:"error"`
}

type BatchResult struct {
	SuccessfulCount int
	// CreatedIDs holds ids in response order.
	CreatedIDs []string
	// IDs is aligned with the request items; failed lines are "". A success line
	// without an id counts as failed.
	IDs    []string
	Errors []BatchError
}

// BatchCreator bulk-creates records and correlates response line i with item i.
type BatchCreator struct {
	log   *logger.Logger
	store bubble.Client
}

func NewBatchCreator(log *logger.Logger, store bubble.Client) *BatchCreator {
	return &BatchCreator{
		log:   log.With("service", "BatchCreator"),
		store: store,
	}
}

// CreateBatch posts items to the bulk endpoint of collection.
//
// A failed bulk call returns (nil, err). When the response has a different number of
// lines than items were sent, it returns a correlation_mismatch error together with a
// result whose CreatedIDs lists every success id seen; those records exist but cannot
// be attributed to an item.
func (b *BatchCreator) CreateBatch(ctx context.Context, env bubble.Environment, collection string, items []BatchItem) (*BatchResult, error) {
	res := &BatchResult{CreatedIDs: []string{}, IDs: make([]string, len(items)), Errors: []BatchError{}}
	if len(items) == 0 {
		return res, nil
	}

	payloads := make([]map[string]any, len(items))
	for i, it := range items {
		payloads[i] = it.Payload
	}
	lines, err := b.store.BulkCreate(ctx, env, collection, payloads)
	if err != nil {
		return nil, err
	}

	if len(lines) != len(items) {
		orphaned := []string{}
		for _, line := range lines {
			if lineStatus(line) == bulkStatusSuccess {
				if id := line.ID(); id != "" {
					orphaned = append(orphaned, id)
				}
			}
		}
		b.log.Error(
			"bulk response line count mismatch",
			"collection", collection,
			"environment", env,
			"requested", len(items),
			"received", len(lines),
			"orphaned_ids", orphaned,
		)
		return &BatchResult{CreatedIDs: orphaned, Errors: []BatchError{}}, &bubble.OperationError{
			Kind:       bubble.KindCorrelationMismatch,
			Operation:  "bulk_create",
			Collection: collection,
			Message:    fmt.Sprintf("bulk response has %d lines for %d items", len(lines), len(items)),
		}
	}

	for i, line := range lines {
		id := line.ID()
		if lineStatus(line) == bulkStatusSuccess && id != "" {
			res.SuccessfulCount++
			res.CreatedIDs = append(res.CreatedIDs, id)
			res.IDs[i] = id
			continue
		}
		msg := rawLine(line)
		if lineStatus(line) == bulkStatusSuccess {
			// Nothing can be linked to the parent without an id.
			msg = "success line carried no id: " + msg
		}
		res.Errors = append(res.Errors, BatchError{
			Index:     i,
			Attribute: items[i].Label,
			Error:     msg,
		})
	}
	if len(res.Errors) > 0 {
		b.log.Warn(
			"bulk create had failed lines",
			"collection", collection,
			"environment", env,
			"succeeded", res.SuccessfulCount,
			"failed", len(res.Errors),
		)
	}
	return res, nil
}

func lineStatus(line bubble.Record) string {
	s, _ := line["status"].(string)
	return strings.TrimSpace(s)
}

func rawLine(line bubble.Record) string {
	b, err := json.Marshal(line)
	if err != nil {
		return fmt.Sprint(map[string]any(line))
	}
	return string(b)
}
