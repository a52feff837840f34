package submission

import (
	"context"
	"sync"
)

// Registry holds the in-flight flow per (assignment, student) so a second
// request while the first is running is refused instead of re-evaluated.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	inflight map[string]*Flow
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{cfg: cfg, deps: deps, inflight: map[string]*Flow{}}
}

func key(assignmentID, studentID string) string { return assignmentID + "|" + studentID }

// InFlight reports whether a flow is currently running for the pair.
func (r *Registry) InFlight(assignmentID, studentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[key(assignmentID, studentID)]
	return ok
}

func (r *Registry) Submit(ctx context.Context, in Input) (Outcome, error) {
	k := key(in.Assignment.ID, in.StudentID)
	r.mu.Lock()
	if f, ok := r.inflight[k]; ok {
		r.mu.Unlock()
		return Outcome{State: f.State(), StateName: f.State().String()}, ErrAlreadySubmitted
	}
	f := NewFlow(r.cfg, r.deps)
	r.inflight[k] = f
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, k)
		r.mu.Unlock()
	}()
	return f.Submit(ctx, in)
}
