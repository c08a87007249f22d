package keyspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	ks := New()
	ks.Set("foo", []byte("bar"))

	v, ok := ks.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), v)
}

func TestGetMissing(t *testing.T) {
	ks := New()
	_, ok := ks.Get("nope")
	assert.False(t, ok)
}

func TestSetPXExpiry(t *testing.T) {
	ks := New()
	ks.SetPX("foo", []byte("bar"), 50)

	v, ok := ks.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), v)

	time.Sleep(80 * time.Millisecond)
	_, ok = ks.Get("foo")
	assert.False(t, ok)
}

func TestSetReplacesValueAndClearsExpiry(t *testing.T) {
	ks := New()
	ks.SetPX("foo", []byte("bar"), 10)
	ks.Set("foo", []byte("baz"))

	v, ok := ks.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, []byte("baz"), v)

	time.Sleep(20 * time.Millisecond)
	v, ok = ks.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, []byte("baz"), v)
}

func TestKeysAllFiltersExpired(t *testing.T) {
	ks := New()
	ks.Set("a", []byte("1"))
	ks.Set("b", []byte("2"))
	ks.SetPX("c", []byte("3"), 10)

	time.Sleep(30 * time.Millisecond)

	keys := ks.KeysAll()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestSnapshotPrunesExpired(t *testing.T) {
	ks := New()
	ks.Set("a", []byte("1"))
	ks.SetPX("b", []byte("2"), 10)

	time.Sleep(30 * time.Millisecond)

	snap := ks.Snapshot()
	_, ok := snap["b"]
	assert.False(t, ok)
	_, ok = snap["a"]
	assert.True(t, ok)
}

func TestSetAbsoluteMS(t *testing.T) {
	ks := New()
	future := time.Now().Add(time.Hour).UnixMilli()
	ks.SetAbsoluteMS("k", []byte("v"), future)

	v, ok := ks.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	past := time.Now().Add(-time.Hour).UnixMilli()
	ks.SetAbsoluteMS("k2", []byte("v2"), past)
	_, ok = ks.Get("k2")
	assert.False(t, ok)
}
