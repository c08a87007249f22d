package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goredis-core/internal/config"
)

func TestNewStateGeneratesReplID(t *testing.T) {
	s := NewState(config.RolePrimary)
	assert.Len(t, s.ReplID(), 40)
	assert.Equal(t, config.RolePrimary, s.Role())
	assert.Equal(t, int64(0), s.Offset())
}

func TestOffsetTracking(t *testing.T) {
	s := NewState(config.RoleReplica)
	s.SetOffset(100)
	assert.Equal(t, int64(100), s.Offset())
	s.AddOffset(37)
	assert.Equal(t, int64(137), s.Offset())
}

func TestSetRole(t *testing.T) {
	s := NewState(config.RolePrimary)
	s.SetRole(config.RoleReplica)
	assert.Equal(t, config.RoleReplica, s.Role())
}

func TestTwoStatesGetDifferentReplIDs(t *testing.T) {
	a := NewState(config.RolePrimary)
	b := NewState(config.RolePrimary)
	assert.NotEqual(t, a.ReplID(), b.ReplID())
}
