package job

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/riverqueue/river"
)

// Cancel marks err as permanent: River finalizes the job as cancelled and
// does not retry it.
func Cancel(err error) error {
	return river.JobCancel(err)
}

// executor runs a task from its raw JSON payload.
type executor interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

type registry struct {
	executors map[string]executor
	mu        sync.RWMutex
}

func newRegistry() *registry {
	return &registry{executors: make(map[string]executor)}
}

func (r *registry) register(name string, e executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

func (r *registry) get(name string) (executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Collect(maps.Keys(r.executors))
	slices.Sort(names)
	return names
}

type handlerTask[P any] interface {
	Name() string
	Handle(context.Context, P) error
}

// typedExecutor decodes the payload into P before calling the task.
type typedExecutor[P any, T handlerTask[P]] struct {
	task T
}

func (e *typedExecutor[P, T]) Execute(ctx context.Context, raw json.RawMessage) error {
	var payload P
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			// A payload that never decodes will not decode on retry either.
			return Cancel(errors.Join(ErrInvalidPayload, err))
		}
	}
	return e.task.Handle(ctx, payload)
}

type periodicExecutor struct {
	handle func(context.Context) error
}

func (e *periodicExecutor) Execute(ctx context.Context, _ json.RawMessage) error {
	return e.handle(ctx)
}
