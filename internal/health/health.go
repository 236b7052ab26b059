package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	// OverallReady is the key for the overall readiness status.
	OverallReady = "overall"
	// ComponentReady is the value indicating that a component is ready.
	ComponentReady = "ok"
	// ComponentNotReady is the value indicating that a component is not ready.
	ComponentNotReady = "not-ready"
)

// DefaultReadyCheckInterval is the interval for which the `WaitForReady` function will wait.
var DefaultReadyCheckInterval = 500 * time.Millisecond

// NewHealth returns a *Health.
func NewHealth() *Health {
	return &Health{
		ready: make(map[string]bool),
	}
}

// Health represents the application's health.
type Health struct {
	mu    sync.Mutex
	ready map[string]bool
}

// NewSingleReadinessHealth returns a *Health waiting on one component.
func NewSingleReadinessHealth(component string) *Health {
	h := NewHealth()
	h.AddReadiness(component)

	return h
}

// AddReadiness adds a component for the readiness system to wait for.
// Ensure that OnReady is called for each call to AddReadiness.
func (o *Health) AddReadiness(component string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ready[component] = false
}

// OnReady marks a component as ready. Components that were never added
// with AddReadiness are tracked as well.
func (o *Health) OnReady(component string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ready[component] = true
}

// Components returns the registered component names in sorted order.
func (o *Health) Components() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, 0, len(o.ready))
	for name := range o.ready {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// WaitForReady returns a channel that is closed once every component
// is ready. If ctx is done first, ctx.Err() is sent on the channel.
func (o *Health) WaitForReady(ctx context.Context) <-chan error {
	out := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(DefaultReadyCheckInterval)
		defer ticker.Stop()

		for {
			if o.IsReady() {
				close(out)
				return
			}

			select {
			case <-ctx.Done():
				out <- ctx.Err()
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// IsReady returns true if all components are ready.
func (o *Health) IsReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ready := range o.ready {
		if !ready {
			return false
		}
	}

	return true
}

// GetReadyzStatusMap returns each component's status plus the overall
// status under OverallReady.
func (o *Health) GetReadyzStatusMap() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()

	smap := make(map[string]string, len(o.ready)+1)
	overallReady := true

	for key, ready := range o.ready {
		status := ComponentReady
		if !ready {
			overallReady = false
			status = ComponentNotReady
		}

		smap[key] = status
	}

	if overallReady {
		smap[OverallReady] = ComponentReady
	} else {
		smap[OverallReady] = ComponentNotReady
	}

	return smap
}

func (o *Health) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	status := o.GetReadyzStatusMap()

	if status[OverallReady] == ComponentReady {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(status)
}

// ReadyzHandler returns the /readyz HTTP handler.
func (o *Health) ReadyzHandler() http.Handler {
	return http.HandlerFunc(o.readyzHandler)
}
