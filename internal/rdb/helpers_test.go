package rdb

import (
	"bufio"
	"bytes"
)

func bufReader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}
