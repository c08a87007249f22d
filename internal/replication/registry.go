package replication

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"goredis-core/internal/logger"
)

// Registry is the primary-side set of attached replica sinks. It is
// grounded on the teacher's replicasMu-guarded map in ReplicationManager,
// trimmed to what this core needs: a fan-out write with best-effort
// delivery and removal of any sink whose write fails, matching the
// teacher's propagateToReplicas behavior of dropping replicas it can no
// longer reach rather than blocking the whole primary on one slow peer.
type Registry struct {
	mu    sync.Mutex
	sinks map[string]io.Writer
}

// NewRegistry builds an empty replica registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]io.Writer)}
}

// Add registers a new replica sink, identified by a fresh UUID, and returns
// that ID so the caller can remove it again when the connection closes.
func (r *Registry) Add(w io.Writer) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sinks[id] = w
	r.mu.Unlock()
	return id
}

// Remove detaches a replica sink.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sinks, id)
	r.mu.Unlock()
}

// Count reports how many replicas are currently attached.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Broadcast writes payload to every attached sink. A sink whose write
// fails is dropped from the registry and closed if it is an io.Closer;
// the failure is not otherwise reported, matching the teacher's
// fire-and-forget propagation.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.sinks {
		if _, err := w.Write(payload); err != nil {
			logger.Warnf("replication: dropping unreachable replica %s: %v", id, err)
			delete(r.sinks, id)
			if c, ok := w.(io.Closer); ok {
				c.Close()
			}
		}
	}
}
