package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDir, cfg.Dir)
	assert.Equal(t, DefaultDBFilename, cfg.DBFilename)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, RolePrimary, cfg.Role)
	assert.False(t, cfg.IsReplica())
}

func TestParseReplicaOfFlag(t *testing.T) {
	cfg, err := Parse([]string{"--replicaof", "localhost 6380", "--port", "6381"})
	require.NoError(t, err)

	assert.True(t, cfg.IsReplica())
	assert.Equal(t, "localhost", cfg.MasterHost)
	assert.Equal(t, 6380, cfg.MasterPort)
	assert.Equal(t, 6381, cfg.Port)
}

func TestParseMalformedReplicaOf(t *testing.T) {
	_, err := Parse([]string{"--replicaof", "localhost"})
	assert.Error(t, err)

	_, err = Parse([]string{"--replicaof", "localhost notaport"})
	assert.Error(t, err)
}

func TestParseReplicaOfStandalone(t *testing.T) {
	host, port, err := ParseReplicaOf("127.0.0.1 6379")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 6379, port)

	_, _, err = ParseReplicaOf("onlyhost")
	assert.Error(t, err)
}

func TestParseInvalidPort(t *testing.T) {
	_, err := Parse([]string{"--port", "0"})
	assert.Error(t, err)

	_, err = Parse([]string{"--port", "70000"})
	assert.Error(t, err)
}
