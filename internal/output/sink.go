// Package output implements the output path: packaging the rendered
// frame stream into one of the supported codec/container combinations
// and delivering it to the configured sink.
package output

import (
	"context"

	"framesync/internal/render"
)

// Sink receives stamped samples from the render loop and delivers them
// to a concrete transport. Every container (rtp, mpegts, shm, raw, file)
// implements this: one Push call per tick, errors classified by the
// caller.
type Sink interface {
	// Push delivers one sample. Returning render.ErrFlowStopped (or an
	// error wrapping it) tells the render loop to stop cleanly.
	Push(ctx context.Context, s render.Sample) error

	// Close releases the sink's resources (sockets, subprocesses, files).
	Close() error
}

// unit is one encoded access unit ready for packaging: either a raw
// decoded frame (codec=raw) or one encoder output frame (codec=h264,
// h265, vp8, vp9), tagged with whether it is a sync point. data is the
// Annex-B form (start-code delimited) for H.264/H.265, used directly by
// the RTP payloader; nalus is the same access unit as a start-code-free
// slice of NAL units, the shape mediacommon's mpegts.Writer expects.
type unit struct {
	data     []byte
	nalus    [][]byte
	keyframe bool
	pts      int64
	dts      int64
}
