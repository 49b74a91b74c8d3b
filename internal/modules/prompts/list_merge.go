package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

type MergeResult struct {
	Changed bool     `json:"changed"`
	List    []string `json:"list"`
}

// ListMerger appends references to list fields without duplicating them.
type ListMerger struct {
	log   *logger.Logger
	store bubble.Client
}

func NewListMerger(log *logger.Logger, store bubble.Client) *ListMerger {
	return &ListMerger{
		log:   log.With("service", "ListMerger"),
		store: store,
	}
}

// AppendUnique adds value to the list stored in field on the record. When value is
// already present nothing is written and Changed is false.
func (m *ListMerger) AppendUnique(ctx context.Context, env bubble.Environment, collection, recordID, field, value string) (*MergeResult, error) {
	if strings.TrimSpace(field) == "" || strings.TrimSpace(value) == "" {
		return nil, &bubble.OperationError{
			Kind:       bubble.KindValidation,
			Operation:  "append_unique",
			Collection: collection,
			Message:    "field and value are required",
		}
	}
	rec, err := m.store.Get(ctx, env, collection, recordID)
	if err != nil {
		return nil, err
	}

	existing := stringList(rec[field])
	for _, v := range existing {
		if v == value {
			return &MergeResult{Changed: false, List: existing}, nil
		}
	}

	merged := make([]string, 0, len(existing)+1)
	merged = append(merged, existing...)
	merged = append(merged, value)
	if err := m.store.Update(ctx, env, collection, recordID, map[string]any{field: merged}); err != nil {
		return nil, err
	}
	m.log.Debug("list field extended", "collection", collection, "record_id", recordID, "field", field, "size", len(merged))
	return &MergeResult{Changed: true, List: merged}, nil
}

// stringList reads a list field. Missing or non-list values are an empty list.
func stringList(raw any) []string {
	out := []string{}
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			switch s := item.(type) {
			case nil:
			case string:
				out = append(out, s)
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
	}
	return out
}
