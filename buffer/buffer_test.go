package buffer

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	b := Allocate(16)
	assert.Equal(t, 16, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.Len(t, b.Writable(), 16)
	assert.Empty(t, b.Readable())

	assert.Equal(t, 0, Allocate(-4).Cap())
}

func TestSetLength(t *testing.T) {
	b := Allocate(8)
	copy(b.Writable(), "abcdef")

	require.NoError(t, b.SetLength(3))
	assert.Equal(t, "abc", b.String())

	err := b.SetLength(9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRange))

	var rangeErr *RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 9, rangeErr.Requested)
	assert.Equal(t, 8, rangeErr.Capacity)

	// Failed call leaves the length untouched.
	assert.Equal(t, 3, b.Len())
	assert.ErrorIs(t, b.SetLength(-1), ErrRange)
}

func TestAppend(t *testing.T) {
	b := Allocate(6)
	require.NoError(t, b.Append([]byte("abc")))
	require.NoError(t, b.Append([]byte("de")))
	assert.Equal(t, "abcde", b.String())

	assert.ErrorIs(t, b.Append([]byte("xy")), ErrRange)
	assert.Equal(t, "abcde", b.String())
}

func TestWriteAt(t *testing.T) {
	b := Allocate(10)

	n, err := b.WriteAt([]byte("world"), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 10, b.Len())

	_, err = b.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", b.String())
	assert.Equal(t, 10, b.Len())

	_, err = b.WriteAt([]byte("!"), 10)
	assert.ErrorIs(t, err, ErrRange)
	_, err = b.WriteAt([]byte("!"), -1)
	assert.ErrorIs(t, err, ErrRange)
}

func TestWriterInterface(t *testing.T) {
	b := Allocate(64)
	require.NoError(t, json.NewEncoder(b).Encode(map[string]int{"result": 7}))
	assert.JSONEq(t, `{"result":7}`, b.String())

	small := Allocate(2)
	assert.ErrorIs(t, json.NewEncoder(small).Encode(map[string]int{"result": 7}), ErrRange)
}

func TestWrapAndBytes(t *testing.T) {
	b := Wrap([]byte("payload"))
	assert.Equal(t, 7, b.Len())
	assert.Equal(t, 7, b.Cap())

	out := b.Bytes()
	out[0] = 'P'
	assert.Equal(t, "payload", b.String())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 7, b.Cap())
}

func TestNilBuffer(t *testing.T) {
	var b *Buffer
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Cap())
	assert.Empty(t, b.Readable())
	assert.Empty(t, b.Bytes())
}
