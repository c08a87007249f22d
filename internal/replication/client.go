package replication

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"goredis-core/internal/dispatch"
	"goredis-core/internal/keyspace"
	"goredis-core/internal/logger"
	"goredis-core/internal/protocol"
	"goredis-core/internal/rdb"
)

// Client is the replica side of replication: it performs the four-step
// handshake, installs the snapshot bulk it receives, and then applies the
// continuous command stream until the connection closes or ctx is
// cancelled. It is grounded on the teacher's performHandshake/
// receiveReplicationStream (internal/replication/replica.go), with the
// partial-resync branch, auto-reconnect heartbeat, and backlog removed —
// this core always performs a full resync and does not retry a dropped
// master connection.
type Client struct {
	host          string
	port          int
	listeningPort int
	ks            *keyspace.Keyspace
	dispatcher    *dispatch.Dispatcher
	state         *State
}

// NewClient builds a replica client that will dial host:port.
// listeningPort is this server's own listening port, reported to the
// primary via REPLCONF listening-port during the handshake.
func NewClient(host string, port, listeningPort int, ks *keyspace.Keyspace, d *dispatch.Dispatcher, state *State) *Client {
	return &Client{host: host, port: port, listeningPort: listeningPort, ks: ks, dispatcher: d, state: state}
}

// Run dials the primary, completes the handshake, installs the snapshot,
// and then applies the replication stream until ctx is cancelled or the
// connection is lost. It returns nil when the primary closes the stream
// (EOF). Cancelling ctx closes the connection underneath the reader, so Run
// then returns the resulting read error; callers check ctx.Err() to tell
// that case apart from a real failure.
func (c *Client) Run(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("replication: dial master %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	br := bufio.NewReader(conn)

	if err := c.handshake(conn, br); err != nil {
		return fmt.Errorf("replication: handshake: %w", err)
	}

	if err := c.loadSnapshot(br); err != nil {
		return fmt.Errorf("replication: load snapshot: %w", err)
	}

	logger.Infof("replication: snapshot applied, entering stream mode (offset=%d)", c.state.Offset())

	return c.streamLoop(conn, br)
}

// handshake runs the four fixed steps: PING, REPLCONF listening-port,
// REPLCONF capa psync2, PSYNC ? -1. It leaves br positioned immediately
// after the +FULLRESYNC line, ready for loadSnapshot to read the
// snapshot-bulk payload that follows.
func (c *Client) handshake(conn net.Conn, br *bufio.Reader) error {
	send := func(args ...string) error {
		elems := make([][]byte, len(args))
		for i, a := range args {
			elems[i] = []byte(a)
		}
		_, err := conn.Write(protocol.EncodeArray(elems))
		return err
	}
	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	expect := func(step, want string) error {
		line, err := readLine()
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		if line != want {
			return fmt.Errorf("unexpected %s reply %q", step, line)
		}
		return nil
	}

	if err := send("PING"); err != nil {
		return err
	}
	if err := expect("PING", "+PONG"); err != nil {
		return err
	}

	if err := send("REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)); err != nil {
		return err
	}
	if err := expect("REPLCONF listening-port", "+OK"); err != nil {
		return err
	}

	if err := send("REPLCONF", "capa", "psync2"); err != nil {
		return err
	}
	if err := expect("REPLCONF capa", "+OK"); err != nil {
		return err
	}

	if err := send("PSYNC", "?", "-1"); err != nil {
		return err
	}
	resp, err := readLine()
	if err != nil {
		return fmt.Errorf("PSYNC: %w", err)
	}
	if !strings.HasPrefix(resp, "+FULLRESYNC") {
		return fmt.Errorf("unexpected PSYNC reply %q", resp)
	}
	fields := strings.Fields(resp)
	if len(fields) != 3 {
		return fmt.Errorf("malformed FULLRESYNC reply %q", resp)
	}
	startOffset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("malformed FULLRESYNC offset %q", fields[2])
	}
	c.state.SetOffset(startOffset)
	return nil
}

// loadSnapshot reads the snapshot-bulk payload that follows +FULLRESYNC
// and installs every entry it contains into the keyspace.
func (c *Client) loadSnapshot(br *bufio.Reader) error {
	header, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "$") {
		return fmt.Errorf("expected snapshot bulk header, got %q", header)
	}
	length, err := strconv.Atoi(header[1:])
	if err != nil || length < 0 {
		return fmt.Errorf("malformed snapshot length %q", header)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return fmt.Errorf("read snapshot payload: %w", err)
	}

	entries, err := rdb.Load(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	for _, e := range entries {
		if e.ExpiresAtMS != nil {
			c.ks.SetAbsoluteMS(e.Key, e.Value, *e.ExpiresAtMS)
		} else {
			c.ks.Set(e.Key, e.Value)
		}
	}
	return nil
}

// streamLoop applies the continuous command stream in silent mode,
// tracking the offset precisely one frame at a time so that a GETACK
// received mid-buffer reports a byte-accurate offset.
func (c *Client) streamLoop(conn net.Conn, br *bufio.Reader) error {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, err := br.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				args, consumed, derr := protocol.DecodeOne(buf)
				if derr == protocol.ErrIncomplete {
					break
				}
				if derr != nil {
					return fmt.Errorf("stream decode: %w", derr)
				}
				buf = buf[consumed:]

				// GETACK must report the offset as of the bytes processed
				// before this frame, not including it — advance the
				// tracked offset only after dispatch has built its reply.
				res := c.dispatcher.Dispatch(args, true)
				c.state.AddOffset(int64(consumed))
				if res.Response != nil {
					if _, werr := conn.Write(res.Response); werr != nil {
						return fmt.Errorf("write ack: %w", werr)
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("stream read: %w", err)
		}
	}
}
