// Package dispatch matches a parsed RESP request to a handler, executes it
// against the keyspace, and reports whether it must be propagated to
// attached replicas. PSYNC is deliberately not handled here: it requires
// raw connection access to hijack the socket into a replica sink, so the
// server layer intercepts it before a request ever reaches Dispatch — the
// same "bool handled, continue the loop" shape the teacher's pipeline uses
// for PSYNC/REPLCONF interception.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"goredis-core/internal/config"
	"goredis-core/internal/keyspace"
	"goredis-core/internal/protocol"
)

// ReplicationState is the minimal view of replication status the INFO and
// GETACK handlers need. It is satisfied by *replication.State; defining it
// here (rather than importing the replication package) avoids a dependency
// cycle, since the replication package needs to call back into Dispatch to
// apply the stream it receives.
type ReplicationState interface {
	Role() config.Role
	ReplID() string
	Offset() int64
}

// Dispatcher holds everything command handlers need: the keyspace, the
// static configuration (for CONFIG GET), and replication status (for INFO
// REPLICATION and GETACK).
type Dispatcher struct {
	ks   *keyspace.Keyspace
	cfg  config.Config
	repl ReplicationState
}

// New builds a Dispatcher.
func New(ks *keyspace.Keyspace, cfg config.Config, repl ReplicationState) *Dispatcher {
	return &Dispatcher{ks: ks, cfg: cfg, repl: repl}
}

// Result is what Dispatch returns: the bytes to write back to the peer
// (nil when nothing should be written, e.g. in silent mode) and whether
// the primary must fan this command out to its replicas.
type Result struct {
	Response  []byte
	Propagate bool
}

// Dispatch executes one parsed command. silent is true only when the
// caller is the replica's stream applier; in that mode no response is
// produced for any command except REPLCONF GETACK, and nothing is ever
// re-propagated (this core has no sub-replica fan-out).
func (d *Dispatcher) Dispatch(args [][]byte, silent bool) Result {
	if len(args) == 0 {
		return Result{}
	}
	name := strings.ToUpper(string(args[0]))

	switch name {
	case "PING":
		return silentOr(silent, protocol.EncodeSimpleString("PONG"))

	case "ECHO":
		if len(args) != 2 {
			return silentOr(silent, protocol.EncodeError("ERR wrong number of arguments for 'echo' command"))
		}
		return silentOr(silent, protocol.EncodeBulkString(args[1]))

	case "SET":
		return d.dispatchSet(args, silent)

	case "GET":
		if len(args) != 2 {
			return silentOr(silent, protocol.EncodeError("ERR wrong number of arguments for 'get' command"))
		}
		v, ok := d.ks.Get(string(args[1]))
		if !ok {
			return silentOr(silent, protocol.EncodeNullBulkString())
		}
		return silentOr(silent, protocol.EncodeBulkString(v))

	case "CONFIG":
		return silentOr(silent, d.dispatchConfig(args))

	case "KEYS":
		return silentOr(silent, d.dispatchKeys(args))

	case "INFO":
		return silentOr(silent, d.dispatchInfo(args))

	case "REPLCONF":
		return d.dispatchReplConf(args, silent)

	default:
		return silentOr(silent, protocol.EncodeError("ERR unknown command"))
	}
}

// silentOr suppresses the response when silent is set, but always passes
// the propagate=false default through unchanged. Used by every handler
// except SET (the only mutating command) and REPLCONF GETACK (the one
// exception to silent-mode's no-reply rule).
func silentOr(silent bool, resp []byte) Result {
	if silent {
		return Result{}
	}
	return Result{Response: resp}
}

func (d *Dispatcher) dispatchSet(args [][]byte, silent bool) Result {
	arityErr := Result{Response: protocol.EncodeError("ERR wrong number of arguments for 'set' command")}

	switch len(args) {
	case 3:
		d.ks.Set(string(args[1]), args[2])
		if silent {
			return Result{}
		}
		return Result{Response: protocol.EncodeSimpleString("OK"), Propagate: true}

	case 5:
		if !strings.EqualFold(string(args[3]), "PX") {
			if silent {
				return Result{}
			}
			return arityErr
		}
		ms, err := strconv.ParseInt(string(args[4]), 10, 64)
		if err != nil || ms < 0 {
			if silent {
				return Result{}
			}
			return arityErr
		}
		d.ks.SetPX(string(args[1]), args[2], ms)
		if silent {
			return Result{}
		}
		return Result{Response: protocol.EncodeSimpleString("OK"), Propagate: true}

	default:
		if silent {
			return Result{}
		}
		return arityErr
	}
}

func (d *Dispatcher) dispatchConfig(args [][]byte) []byte {
	if len(args) != 3 || !strings.EqualFold(string(args[1]), "GET") {
		return protocol.EncodeError("ERR unknown command")
	}
	name := strings.ToLower(string(args[2]))
	switch name {
	case "dir":
		return protocol.EncodeStringArray([]string{name, d.cfg.Dir})
	case "dbfilename":
		return protocol.EncodeStringArray([]string{name, d.cfg.DBFilename})
	default:
		return protocol.EncodeEmptyArray()
	}
}

func (d *Dispatcher) dispatchKeys(args [][]byte) []byte {
	if len(args) != 2 || string(args[1]) != "*" {
		return protocol.EncodeEmptyArray()
	}
	return protocol.EncodeStringArray(d.ks.KeysAll())
}

func (d *Dispatcher) dispatchInfo(args [][]byte) []byte {
	if len(args) != 2 || !strings.EqualFold(string(args[1]), "REPLICATION") {
		return protocol.EncodeError("ERR unknown command")
	}
	body := fmt.Sprintf("role:%s\nmaster_replid:%s\nmaster_repl_offset:%d",
		d.repl.Role(), d.repl.ReplID(), d.repl.Offset())
	return protocol.EncodeBulkString([]byte(body))
}

// dispatchReplConf handles REPLCONF on both sides of a connection.
// listening-port/capa (primary side, from a connecting replica) always
// reply OK and are otherwise ignored. GETACK (replica side, received on
// the inbound primary connection while applying the stream in silent
// mode) is the one exception to silent-mode's no-reply rule.
func (d *Dispatcher) dispatchReplConf(args [][]byte, silent bool) Result {
	if len(args) >= 2 && strings.EqualFold(string(args[1]), "GETACK") {
		offset := strconv.FormatInt(d.repl.Offset(), 10)
		ack := protocol.EncodeArray([][]byte{[]byte("REPLCONF"), []byte("ACK"), []byte(offset)})
		return Result{Response: ack}
	}
	if silent {
		return Result{}
	}
	return Result{Response: protocol.EncodeSimpleString("OK")}
}
