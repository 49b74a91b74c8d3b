package prompts

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
	"github.com/yungbote/promptbridge-backend/internal/platform/namelock"
)

// Resolution is the canonical PromptField id for one name.
type Resolution struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Resolver maps display names onto PromptField ids, searching before it creates.
//
// Same-name calls inside one process are coalesced. Across processes the optional
// Locker serialises search-then-create; with the no-op locker two processes can still
// both miss the search and create duplicates.
type Resolver struct {
	log        *logger.Logger
	store      bubble.Client
	locks      namelock.Locker
	collection string
	nameField  string
	group      singleflight.Group
}

func NewResolver(log *logger.Logger, store bubble.Client, locks namelock.Locker) *Resolver {
	if locks == nil {
		locks = namelock.Noop{}
	}
	cfg := store.Config()
	return &Resolver{
		log:        log.With("service", "PromptFieldResolver"),
		store:      store,
		locks:      locks,
		collection: cfg.Collections.PromptField,
		nameField:  cfg.Fields.PromptFieldName,
	}
}

// ResolveOrCreate returns the id of the first record whose name equals name exactly,
// creating one when the search comes back empty.
func (r *Resolver) ResolveOrCreate(ctx context.Context, env bubble.Environment, name string) (Resolution, error) {
	if err := r.validateName(name); err != nil {
		return Resolution{}, err
	}
	key := string(env) + ":" + name

	// The shared search/create outlives any single caller; each caller still
	// stops waiting when its own ctx is done.
	var ran atomic.Bool
	ch := r.group.DoChan(key, func() (any, error) {
		ran.Store(true)
		return r.lockedResolve(context.WithoutCancel(ctx), env, key, name)
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		out := res.Val.(Resolution)
		// Only the caller whose closure ran created the record.
		out.Created = out.Created && ran.Load()
		return out, nil
	}
}

// ResolveOnly never creates. found is false when no record carries name.
func (r *Resolver) ResolveOnly(ctx context.Context, env bubble.Environment, name string) (id string, found bool, err error) {
	if err := r.validateName(name); err != nil {
		return "", false, err
	}
	return r.find(ctx, env, name)
}

func (r *Resolver) lockedResolve(ctx context.Context, env bubble.Environment, key, name string) (Resolution, error) {
	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return Resolution{}, &bubble.OperationError{
			Kind:       bubble.KindGateway,
			Operation:  "resolve",
			Collection: r.collection,
			Message:    "acquire name lock failed",
			Cause:      err,
		}
	}
	defer unlock()

	id, found, err := r.find(ctx, env, name)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		return Resolution{ID: id}, nil
	}

	id, err = r.store.Create(ctx, env, r.collection, map[string]any{r.nameField: name})
	if err != nil {
		return Resolution{}, err
	}
	r.log.Debug("PromptField created", "name", name, "id", id, "environment", env)
	return Resolution{ID: id, Created: true}, nil
}

func (r *Resolver) find(ctx context.Context, env bubble.Environment, name string) (string, bool, error) {
	res, err := r.store.Search(ctx, env, r.collection, r.nameField, name, 1)
	if err != nil {
		return "", false, err
	}
	if res == nil || len(res.Results) == 0 {
		return "", false, nil
	}
	id := res.Results[0].ID()
	if id == "" {
		return "", false, &bubble.OperationError{
			Kind:       bubble.KindParse,
			Operation:  "search",
			Collection: r.collection,
			Message:    fmt.Sprintf("search hit for %q carried no id", name),
		}
	}
	return id, true, nil
}

func (r *Resolver) validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &bubble.OperationError{
			Kind:       bubble.KindValidation,
			Operation:  "resolve",
			Collection: r.collection,
			Message:    "field name is required",
		}
	}
	return nil
}
