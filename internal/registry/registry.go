// Package registry tracks in-flight queries and their cancellation handles.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateID = errors.New("registry: query id already registered")
	ErrNotFound    = errors.New("registry: query not found")
)

// State is the terminal state a query leaves the registry in.
type State int

const (
	StateRegistered State = iota
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	}
	return "invalid"
}

// CancelFunc signals a running query to stop. It is always invoked outside
// the registry lock and may block on I/O.
type CancelFunc func()

// ActiveQuery is the registry record of one in-flight execution.
type ActiveQuery struct {
	ID        string
	SQL       string
	StartedAt time.Time

	cancel CancelFunc
}

// Running is a snapshot entry returned by List.
type Running struct {
	ID      string        `json:"id"`
	SQL     string        `json:"sql"`
	Elapsed time.Duration `json:"elapsed"`
}

// Registry is owned by one engine instance. The zero value is not usable;
// call New.
type Registry struct {
	mu      sync.Mutex
	queries map[string]*ActiveQuery

	now func() time.Time
}

func New() *Registry {
	return &Registry{
		queries: make(map[string]*ActiveQuery),
		now:     time.Now,
	}
}

// Register adds a query in the Registered state.
func (r *Registry) Register(id string, cancel CancelFunc, sql string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queries[id]; ok {
		return ErrDuplicateID
	}
	r.queries[id] = &ActiveQuery{ID: id, SQL: sql, StartedAt: startedAt, cancel: cancel}
	return nil
}

// Finish moves a query to a terminal state and removes it. It reports false
// when the id is no longer registered, e.g. because Cancel already removed it.
func (r *Registry) Finish(id string, state State) bool {
	if state == StateRegistered {
		return false
	}

	r.mu.Lock()
	_, ok := r.queries[id]
	delete(r.queries, id)
	r.mu.Unlock()

	return ok
}

// Cancel removes the query and signals its cancellation handle. It reports
// false when the id is not registered; cancelling twice is not an error.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	q, ok := r.queries[id]
	delete(r.queries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if q.cancel != nil {
		q.cancel()
	}
	return true
}

// CancelAll cancels every registered query and returns how many were signalled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	qs := make([]*ActiveQuery, 0, len(r.queries))
	for id, q := range r.queries {
		qs = append(qs, q)
		delete(r.queries, id)
	}
	r.mu.Unlock()

	for _, q := range qs {
		if q.cancel != nil {
			q.cancel()
		}
	}
	return len(qs)
}

// IsRunning reports whether id is registered.
func (r *Registry) IsRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.queries[id]
	return ok
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (ActiveQuery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queries[id]
	if !ok {
		return ActiveQuery{}, ErrNotFound
	}
	return ActiveQuery{ID: q.ID, SQL: q.SQL, StartedAt: q.StartedAt}, nil
}

// List returns a snapshot of running queries, oldest first.
func (r *Registry) List() []Running {
	now := r.now()

	r.mu.Lock()
	out := make([]Running, 0, len(r.queries))
	starts := make(map[string]time.Time, len(r.queries))
	for _, q := range r.queries {
		out = append(out, Running{ID: q.ID, SQL: q.SQL, Elapsed: now.Sub(q.StartedAt)})
		starts[q.ID] = q.StartedAt
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		si, sj := starts[out[i].ID], starts[out[j].ID]
		if si.Equal(sj) {
			return out[i].ID < out[j].ID
		}
		return si.Before(sj)
	})
	return out
}

// Len returns the number of registered queries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}
