package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"goredis-core/internal/logger"
	"goredis-core/internal/protocol"
	"goredis-core/internal/rdb"
)

// handleConnection reads and dispatches RESP frames from one client
// connection until it closes or a protocol error occurs. It is grounded
// on the teacher's intercept-before-dispatch architecture in
// internal/handler/pipeline.go, where handleReplicationCommand is given
// first look at every command and a true return short-circuits normal
// dispatch: PSYNC here plays that role, handing the connection off to
// handlePSYNC and never returning to the request-decode loop.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var buf []byte
	chunk := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			frames, residual, decodeErr := protocol.Decode(buf)
			buf = residual

			for _, frame := range frames {
				if len(frame) == 0 {
					continue
				}
				if strings.EqualFold(string(frame[0]), "PSYNC") {
					s.handlePSYNC(conn)
					return
				}

				res := s.dispatcher.Dispatch(frame, false)
				if res.Response != nil {
					if _, werr := conn.Write(res.Response); werr != nil {
						return
					}
				}
				if res.Propagate && s.registry != nil {
					encoded := protocol.EncodeArray(frame)
					s.registry.Broadcast(encoded)
					s.state.AddOffset(int64(len(encoded)))
				}
			}

			if decodeErr != nil {
				logger.Warnf("server: protocol error from %s: %v", conn.RemoteAddr(), decodeErr)
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debugf("server: read error from %s: %v", conn.RemoteAddr(), readErr)
			}
			return
		}
	}
}

// handlePSYNC answers a PSYNC request with +FULLRESYNC, a snapshot-bulk
// payload built live from the current keyspace, and then attaches the
// connection to the replica registry. It never returns to the normal
// request loop: per §5, once a connection is promoted it receives a
// silent propagation stream, so this goroutine's only remaining job is to
// drain (and discard) whatever the replica writes back — ACK replies in
// response to a GETACK this core never reads — until the socket closes.
func (s *Server) handlePSYNC(conn net.Conn) {
	greeting := fmt.Sprintf("+FULLRESYNC %s %d\r\n", s.state.ReplID(), s.state.Offset())
	if _, err := conn.Write([]byte(greeting)); err != nil {
		return
	}

	var snapBuf bytes.Buffer
	if err := rdb.Write(&snapBuf, s.ks.Snapshot()); err != nil {
		logger.Errorf("server: failed to build PSYNC snapshot: %v", err)
		return
	}
	header := fmt.Sprintf("$%d\r\n", snapBuf.Len())
	if _, err := conn.Write([]byte(header)); err != nil {
		return
	}
	if _, err := conn.Write(snapBuf.Bytes()); err != nil {
		return
	}

	if s.registry == nil {
		return
	}
	id := s.registry.Add(conn)
	logger.Infof("server: replica %s attached (id=%s)", conn.RemoteAddr(), id)
	defer func() {
		s.registry.Remove(id)
		logger.Infof("server: replica %s detached (id=%s)", conn.RemoteAddr(), id)
	}()

	discard := make([]byte, 4096)
	for {
		if _, err := conn.Read(discard); err != nil {
			return
		}
	}
}
