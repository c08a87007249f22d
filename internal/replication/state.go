// Package replication implements the primary-side replica registry and the
// replica-side handshake/streaming client for single-primary asynchronous
// replication. It is grounded on the teacher's ReplicationManager
// (internal/replication/replication.go, replica.go) with the partial-resync
// backlog, priority/Sentinel fields, and auto-reconnect heartbeat stripped:
// this core only ever performs a full resync, and a replica that loses its
// primary connection simply stops rather than retrying.
package replication

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"goredis-core/internal/config"
)

// State tracks replication identity and progress, and is the concrete type
// satisfying dispatch.ReplicationState. A primary's offset is the number of
// command bytes it has propagated; a replica's offset is the number of
// stream bytes it has applied, advanced by Client as it consumes the
// primary's connection.
type State struct {
	role   config.Role
	replID string
	offset atomic.Int64
	mu     sync.RWMutex
}

// NewState builds a State for the given role with a freshly generated
// 40-character hex replication ID, the same length and alphabet the
// teacher's replication manager uses.
func NewState(role config.Role) *State {
	return &State{role: role, replID: generateReplID()}
}

func generateReplID() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// a predictable fallback keeps the server usable in that case.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	return hex.EncodeToString(buf)
}

func (s *State) Role() config.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *State) ReplID() string { return s.replID }
func (s *State) Offset() int64  { return s.offset.Load() }

// SetRole changes the role. The server fixes its role at startup through
// NewState and does not call SetRole itself.
func (s *State) SetRole(role config.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// AddOffset advances the tracked offset by n bytes.
func (s *State) AddOffset(n int64) {
	s.offset.Add(n)
}

// SetOffset pins the tracked offset to an absolute value, used once after
// the FULLRESYNC response reports the primary's starting offset.
func (s *State) SetOffset(n int64) {
	s.offset.Store(n)
}
