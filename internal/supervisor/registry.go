package supervisor

import (
	"context"
	"sync"
)

// Registry tracks the one active build allowed per project and owns its
// cancellation. Cancel requests from any goroutine flip the build's context;
// the pipeline observes it at its next checkpoint.
type Registry struct {
	mu     sync.Mutex
	active map[uint]*buildHandle
}

type buildHandle struct {
	buildID string
	cancel  context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[uint]*buildHandle)}
}

// Begin registers a build for the project and returns its cancellable
// context. ErrBuildInProgress when one is already running.
func (r *Registry) Begin(parent context.Context, projectID uint, buildID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[projectID]; exists {
		return nil, ErrBuildInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	r.active[projectID] = &buildHandle{buildID: buildID, cancel: cancel}
	return ctx, nil
}

// Cancel aborts the project's active build, if any.
func (r *Registry) Cancel(projectID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.active[projectID]
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Finish releases the project's slot. Safe to call for an unknown project.
func (r *Registry) Finish(projectID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.active[projectID]; ok {
		h.cancel()
		delete(r.active, projectID)
	}
}

// Active returns the running build's ID for the project, if any.
func (r *Registry) Active(projectID uint) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.active[projectID]
	if !ok {
		return "", false
	}
	return h.buildID, true
}
