package process

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry tracks live pipes by ID. A pipe leaves the registry once it has
// exited.
type Registry struct {
	mu     sync.RWMutex
	pipes  map[string]*Pipe
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		pipes:  make(map[string]*Pipe),
		logger: logger,
	}
}

// Add registers p and removes it again when it exits.
func (r *Registry) Add(p *Pipe) {
	r.mu.Lock()
	r.pipes[p.ID()] = p
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-p.Done()
		r.mu.Lock()
		if r.pipes[p.ID()] == p {
			delete(r.pipes, p.ID())
		}
		r.mu.Unlock()
	}()
}

// Remove drops a pipe that never started.
func (r *Registry) Remove(p *Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipes[p.ID()] == p {
		delete(r.pipes, p.ID())
	}
}

// List returns info for every live pipe, sorted by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.pipes))
	for _, p := range r.pipes {
		infos = append(infos, p.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// Len returns the number of live pipes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipes)
}

// StopAll gracefully stops every live pipe.
func (r *Registry) StopAll() {
	r.mu.RLock()
	pipes := make([]*Pipe, 0, len(r.pipes))
	for _, p := range r.pipes {
		pipes = append(pipes, p)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range pipes {
		wg.Add(1)
		go func(p *Pipe) {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				r.logger.Warn("Failed to stop process", "id", p.ID(), "error", err)
			}
		}(p)
	}
	wg.Wait()
}
