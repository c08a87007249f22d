package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goredis-core/internal/config"
	"goredis-core/internal/dispatch"
	"goredis-core/internal/keyspace"
	"goredis-core/internal/protocol"
	"goredis-core/internal/rdb"
	"goredis-core/internal/replication"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T) (addr string, registry *replication.Registry, ks *keyspace.Keyspace) {
	t.Helper()
	port := freePort(t)
	cfg := config.Config{Dir: "/tmp/redis-files", DBFilename: "dump.rdb", Port: port, Role: config.RolePrimary}
	ks = keyspace.New()
	state := replication.NewState(config.RolePrimary)
	registry = replication.NewRegistry()
	d := dispatch.New(ks, cfg, state)
	srv := New(cfg, ks, d, state, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		go srv.Serve(ctx)
		close(ready)
	}()
	<-ready
	time.Sleep(50 * time.Millisecond)
	return "127.0.0.1:" + strconv.Itoa(port), registry, ks
}

func TestServerPingAndSetGet(t *testing.T) {
	addr, _, _ := startTestServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.Write(protocol.EncodeArray([][]byte{[]byte("PING")}))
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", line)

	conn.Write(protocol.EncodeArray([][]byte{[]byte("SET"), []byte("k"), []byte("v")}))
	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", line)
}

func TestServerPsyncAttachesReplicaAndPropagates(t *testing.T) {
	addr, registry, _ := startTestServer(t)

	replicaConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer replicaConn.Close()

	replicaConn.Write(protocol.EncodeArray([][]byte{[]byte("PSYNC"), []byte("?"), []byte("-1")}))
	br := bufio.NewReader(replicaConn)

	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Regexp(t, `^\+FULLRESYNC [0-9a-f]+ 0\r\n$`, line)

	header, err := br.ReadString('\n')
	require.NoError(t, err)
	require.True(t, len(header) > 1 && header[0] == '$')
	length, err := strconv.Atoi(header[1 : len(header)-2])
	require.NoError(t, err)
	payload := make([]byte, length)
	_, err = io.ReadFull(br, payload)
	require.NoError(t, err)
	_, err = rdb.Load(bytes.NewReader(payload))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	clientConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer clientConn.Close()
	clientConn.Write(protocol.EncodeArray([][]byte{[]byte("SET"), []byte("x"), []byte("1")}))
	clientBr := bufio.NewReader(clientConn)
	clientBr.ReadString('\n')

	propagated := make([]byte, 128)
	replicaConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := replicaConn.Read(propagated)
	require.NoError(t, err)
	assert.Contains(t, string(propagated[:n]), "SET")
}
