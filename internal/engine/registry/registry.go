package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/run"
)

// Ref resolves an external resource id back to its owning run and role.
// Conference ids belong to the run as a whole and carry an empty role.
type Ref struct {
	RunID string
	Role  interview.Role
	Kind  interview.ResourceKind
}

// Registry is the in-memory table of all test runs plus the reverse index
// from external resource ids to (run, role). It is the single source of
// truth for run state; runs are never deleted for the life of the process.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*run.Run
	index map[string]Ref
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		runs:  map[string]*run.Run{},
		index: map[string]Ref{},
	}
}

// Create registers a new run with a generated identifier.
func (r *Registry) Create(cfg run.Config) (*run.Run, error) {
	id := uuid.NewString()
	newRun, err := run.New(id, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[id]; exists {
		return nil, fmt.Errorf("run id collision: %s", id)
	}
	r.runs[id] = newRun
	return newRun, nil
}

// Get returns a run by id.
func (r *Registry) Get(runID string) (*run.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runs[runID]
	return rn, ok
}

// List returns all runs ordered by creation time, then id.
func (r *Registry) List() []*run.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*run.Run, 0, len(r.runs))
	for _, rn := range r.runs {
		out = append(out, rn)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Snapshot(), out[j].Snapshot()
		if !si.CreatedAt.Equal(sj.CreatedAt) {
			return si.CreatedAt.Before(sj.CreatedAt)
		}
		return si.RunID < sj.RunID
	})
	return out
}

// Live returns every run that has not reached a terminal status.
func (r *Registry) Live() []*run.Run {
	var out []*run.Run
	for _, rn := range r.List() {
		if !rn.Status().IsTerminal() {
			out = append(out, rn)
		}
	}
	return out
}

// Bind records a reverse-index entry for an external resource id.
func (r *Registry) Bind(externalID string, ref Ref) error {
	if externalID == "" {
		return fmt.Errorf("external id is required")
	}
	if ref.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[ref.RunID]; !ok {
		return fmt.Errorf("unknown run %s", ref.RunID)
	}
	r.index[externalID] = ref
	return nil
}

// Resolve looks up the owning run for an external resource id.
func (r *Registry) Resolve(externalID string) (Ref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.index[externalID]
	return ref, ok
}

// Unbind removes one reverse-index entry.
func (r *Registry) Unbind(externalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.index, externalID)
}

// UnbindRun removes every reverse-index entry owned by a run in one step,
// so teardown leaves no dangling resolution paths.
func (r *Registry) UnbindRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for externalID, ref := range r.index {
		if ref.RunID == runID {
			delete(r.index, externalID)
		}
	}
}

// IndexSize reports the number of live reverse-index entries.
func (r *Registry) IndexSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}
