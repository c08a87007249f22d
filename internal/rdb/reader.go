package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"goredis-core/internal/logger"
)

// Entry is one key installed by the loader, ready to hand to a Keyspace.
type Entry struct {
	Key         string
	Value       []byte
	ExpiresAtMS *int64
}

// LoadFile opens path and loads it, returning (nil, nil) if the file does
// not exist — per §4.3, a missing or unreadable snapshot is not an error,
// the keyspace simply starts empty.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	defer f.Close()
	return Load(f)
}

// Load parses an RDB byte stream into a list of entries to install. Loader
// errors (unknown opcode, truncated stream, unsupported encoding) are
// returned to the caller, which per §7 treats them as non-fatal: whatever
// entries were parsed before the failure are still returned.
func Load(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 9)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("rdb: read header: %w", err)
	}
	if string(header[:5]) != magic {
		return nil, fmt.Errorf("rdb: bad magic %q", header[:5])
	}
	logger.Debugf("rdb: snapshot version %q", header[5:])

	var entries []Entry

	for {
		op, err := br.ReadByte()
		if err != nil {
			return entries, fmt.Errorf("rdb: read opcode: %w", err)
		}

		switch op {
		case opAux:
			if _, _, err := readEncodedString(br); err != nil {
				return entries, fmt.Errorf("rdb: aux key: %w", err)
			}
			if _, _, err := readEncodedString(br); err != nil {
				return entries, fmt.Errorf("rdb: aux value: %w", err)
			}

		case opSelectDB:
			if _, err := readSize(br); err != nil {
				return entries, fmt.Errorf("rdb: selectdb: %w", err)
			}

		case opResizeDB:
			if _, err := readSize(br); err != nil {
				return entries, fmt.Errorf("rdb: resizedb main: %w", err)
			}
			if _, err := readSize(br); err != nil {
				return entries, fmt.Errorf("rdb: resizedb expiry: %w", err)
			}

		case opExpireTimeMS:
			var ms uint64
			if err := binary.Read(br, binary.LittleEndian, &ms); err != nil {
				return entries, fmt.Errorf("rdb: expiry ms: %w", err)
			}
			entry, err := readEntryWithType(br)
			if err != nil {
				return entries, err
			}
			expiry := int64(ms)
			entry.ExpiresAtMS = &expiry
			entries = append(entries, entry)

		case opExpireTime:
			var secs uint32
			if err := binary.Read(br, binary.LittleEndian, &secs); err != nil {
				return entries, fmt.Errorf("rdb: expiry s: %w", err)
			}
			entry, err := readEntryWithType(br)
			if err != nil {
				return entries, err
			}
			expiry := int64(secs) * 1000
			entry.ExpiresAtMS = &expiry
			entries = append(entries, entry)

		case typeString:
			key, _, err := readEncodedString(br)
			if err != nil {
				return entries, fmt.Errorf("rdb: key: %w", err)
			}
			val, _, err := readEncodedString(br)
			if err != nil {
				return entries, fmt.Errorf("rdb: value: %w", err)
			}
			entries = append(entries, Entry{Key: key, Value: []byte(val)})

		case opEOF:
			return entries, nil

		default:
			return entries, fmt.Errorf("rdb: unknown opcode 0x%02x", op)
		}
	}
}

// readEntryWithType reads the 1-byte value-type byte that follows an
// expiry field, then the key/value pair. Only the string type (0x00) is
// required in this core.
func readEntryWithType(br *bufio.Reader) (Entry, error) {
	valueType, err := br.ReadByte()
	if err != nil {
		return Entry{}, fmt.Errorf("rdb: value type: %w", err)
	}
	if valueType != typeString {
		return Entry{}, fmt.Errorf("rdb: unsupported value type 0x%02x", valueType)
	}
	key, _, err := readEncodedString(br)
	if err != nil {
		return Entry{}, fmt.Errorf("rdb: key: %w", err)
	}
	val, _, err := readEncodedString(br)
	if err != nil {
		return Entry{}, fmt.Errorf("rdb: value: %w", err)
	}
	return Entry{Key: key, Value: []byte(val)}, nil
}

// readSize reads a size-encoded integer per §4.3's three size forms. It is
// an error to call it on a byte whose top two bits are 11 — that prefix
// selects the special string-int encoding instead, handled only by
// readEncodedString.
func readSize(br *bufio.Reader) (uint32, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b & 0xC0 {
	case 0x00:
		return uint32(b & 0x3F), nil
	case 0x40:
		next, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint32(b&0x3F)<<8 | uint32(next), nil
	case 0x80:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(buf), nil
	default:
		return 0, fmt.Errorf("rdb: 0x%02x is a special-encoding prefix, not a size", b)
	}
}

// readEncodedString implements §4.3's string encoding: peek one byte; if
// its top two bits are 11, it selects the special integer encoding
// (subtype 0/1/2 -> 1/2/4 little-endian bytes, rendered as decimal ASCII);
// otherwise it is a size, followed by that many raw bytes.
//
// Neither of the two RDB parsers this core was adapted from implements the
// special-int branch — both treat 0xC0-prefixed bytes purely as a decode
// error. It is implemented fresh here directly from the wire description.
func readEncodedString(br *bufio.Reader) (string, int, error) {
	peek, err := br.Peek(1)
	if err != nil {
		return "", 0, err
	}

	if peek[0]&0xC0 == 0xC0 {
		b, _ := br.ReadByte()
		subtype := b & 0x3F
		switch subtype {
		case 0:
			v, err := br.ReadByte()
			if err != nil {
				return "", 0, err
			}
			return fmt.Sprintf("%d", v), 2, nil
		case 1:
			buf := make([]byte, 2)
			if _, err := io.ReadFull(br, buf); err != nil {
				return "", 0, err
			}
			v := binary.LittleEndian.Uint16(buf)
			return fmt.Sprintf("%d", v), 3, nil
		case 2:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(br, buf); err != nil {
				return "", 0, err
			}
			v := binary.LittleEndian.Uint32(buf)
			return fmt.Sprintf("%d", v), 5, nil
		default:
			return "", 0, fmt.Errorf("rdb: unsupported special string encoding %d", subtype)
		}
	}

	length, err := readSize(br)
	if err != nil {
		return "", 0, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", 0, err
	}
	return string(buf), int(length), nil
}
