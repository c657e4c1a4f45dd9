package output

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"framesync/internal/config"
	"framesync/internal/frameslot"
	"framesync/internal/render"
)

func TestShmSink_PushWritesFrameAndAdvancesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framesync.shm")

	width, height := 4, 4
	slotSize := width * height * 3 / 2

	s, err := newShmSink(SinkConfig{
		Output: config.OutputConfig{
			Container: "shm",
			Codec:     "raw",
			ShmPath:   path,
			ShmSize:   config.ByteSize(shmHeaderSize + shmSlots*slotSize),
		},
		Render: config.RenderConfig{Width: width, Height: height, FPS: 30},
	})
	require.NoError(t, err)
	defer s.Close()

	frame := make([]byte, slotSize)
	for i := range frame {
		frame[i] = byte(i)
	}

	sample := render.Sample{Frame: frameslot.Frame{Data: frame}}
	require.NoError(t, s.Push(context.Background(), sample))

	require.Equal(t, shmMagic, binary.LittleEndian.Uint32(s.region[0:4]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(s.region[8:12]))
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(s.region[12:16]))
	require.Equal(t, frame, s.region[shmHeaderSize:shmHeaderSize+slotSize])
}

func TestShmSink_PushRejectsWrongFrameSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framesync.shm")

	slotSize := 4 * 4 * 3 / 2
	s, err := newShmSink(SinkConfig{
		Output: config.OutputConfig{
			Container: "shm",
			Codec:     "raw",
			ShmPath:   path,
			ShmSize:   config.ByteSize(shmHeaderSize + shmSlots*slotSize),
		},
		Render: config.RenderConfig{Width: 4, Height: 4, FPS: 30},
	})
	require.NoError(t, err)
	defer s.Close()

	sample := render.Sample{Frame: frameslot.Frame{Data: []byte{1, 2, 3}}}
	require.Error(t, s.Push(context.Background(), sample))
}
