// Package rdb implements the binary snapshot format: a loader that
// populates a Keyspace from a byte stream, and a writer that serialises a
// Keyspace snapshot into the same format for the primary's live PSYNC
// payload. The primary never writes this format to disk — only the loader
// ever reads a file; the writer's only consumer is the in-memory snapshot
// handed to a newly attached replica.
package rdb

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"

	"goredis-core/internal/keyspace"
)

// Opcodes and type codes, as they appear on the wire.
const (
	opAux          = 0xFA
	opSelectDB     = 0xFE
	opResizeDB     = 0xFB
	opExpireTimeMS = 0xFC
	opExpireTime   = 0xFD
	opEOF          = 0xFF

	typeString = 0x00
)

const (
	magic   = "REDIS"
	version = "0011"
)

var crcTable = crc64.MakeTable(crc64.ECMA)

// Write serialises every live entry in snap into w using the RDB format
// described by the section-loop/size-encoding rules the loader also
// implements. It never touches the filesystem — its caller is the PSYNC
// handler building a snapshot-bulk payload from the live keyspace.
func Write(w io.Writer, snap map[string]keyspace.Value) error {
	hasher := crc64.New(crcTable)
	mw := io.MultiWriter(w, hasher)

	if _, err := mw.Write([]byte(magic + version)); err != nil {
		return fmt.Errorf("rdb: write header: %w", err)
	}

	if _, err := mw.Write([]byte{opSelectDB, 0}); err != nil {
		return fmt.Errorf("rdb: write selectdb: %w", err)
	}

	withExpiry := 0
	for _, v := range snap {
		if v.ExpiresAt != nil {
			withExpiry++
		}
	}
	if _, err := mw.Write([]byte{opResizeDB}); err != nil {
		return err
	}
	writeLength(mw, len(snap))
	writeLength(mw, withExpiry)

	for key, v := range snap {
		if v.ExpiresAt != nil {
			if _, err := mw.Write([]byte{opExpireTimeMS}); err != nil {
				return err
			}
			if err := binary.Write(mw, binary.LittleEndian, uint64(*v.ExpiresAt)); err != nil {
				return err
			}
		}
		if _, err := mw.Write([]byte{typeString}); err != nil {
			return err
		}
		writeString(mw, key)
		writeString(mw, string(v.Data))
	}

	if _, err := mw.Write([]byte{opEOF}); err != nil {
		return fmt.Errorf("rdb: write eof: %w", err)
	}

	checksum := hasher.Sum64()
	return binary.Write(w, binary.LittleEndian, checksum)
}

func writeString(w io.Writer, s string) {
	writeLength(w, len(s))
	w.Write([]byte(s))
}

// writeLength mirrors the loader's readLength in reverse: values under 64
// use the 6-bit form, under 16384 the 14-bit form, otherwise the 32-bit
// form. The special string-int encoding is a reader-side-only concept —
// the writer always emits plain strings, which is always a valid encoding.
func writeLength(w io.Writer, n int) {
	switch {
	case n < 1<<6:
		w.Write([]byte{byte(n)})
	case n < 1<<14:
		w.Write([]byte{0x40 | byte(n>>8), byte(n)})
	default:
		w.Write([]byte{0x80})
		binary.Write(w, binary.BigEndian, uint32(n))
	}
}
