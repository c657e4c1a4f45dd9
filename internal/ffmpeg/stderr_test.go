package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStderrTail_RetainsRecentLines(t *testing.T) {
	tail := NewStderrTail(3)

	_, err := tail.Write([]byte("one\ntwo\nthree\nfour\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"two", "three", "four"}, tail.Lines())
	assert.Equal(t, "two; three; four", tail.String())
}

func TestStderrTail_ReassemblesPartialWrites(t *testing.T) {
	tail := NewStderrTail(10)

	tail.Write([]byte("split "))
	tail.Write([]byte("line\r\n"))
	tail.Write([]byte("next\n"))

	assert.Equal(t, []string{"split line", "next"}, tail.Lines())
}

func TestStderrTail_EmptyWhenNothingWritten(t *testing.T) {
	tail := NewStderrTail(5)
	assert.Empty(t, tail.Lines())
	assert.Equal(t, "", tail.String())
}
