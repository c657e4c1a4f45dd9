// Package frameslot implements the single-frame hand-off point between the
// ingest path and the render loop: a mutex-guarded slot holding exactly one
// decoded frame, written by the ingest side and read by copy on the render
// side. Nothing else touches it.
package frameslot

import (
	"sync"
	"time"
)

// staleAfter is the default for how long a slot may go without a write
// before its last frame is considered too old to render; past this, the
// render loop falls back.
const staleAfter = 5 * time.Second

// Caps describes the geometry and pixel layout of frames currently stored in
// a Slot. A Replace that changes Caps signals a source hot-swap to whatever
// consumes the slot's snapshots.
type Caps struct {
	Width  int
	Height int
	Format string // e.g. "yuv420p"
}

// Frame is a single normalized, planar video frame plus its caps at the time
// it was written.
type Frame struct {
	Data []byte
	Caps Caps
}

// Snapshot is the result of reading a Slot: either a deep copy of the
// current frame, or no frame at all if the slot is empty or stale.
type Snapshot struct {
	Frame    Frame
	HasFrame bool
	Stale    bool
	// IngestSeq is the sequence number of the write that produced Frame.
	// Zero when HasFrame is false.
	IngestSeq uint64
}

// Slot is a single-writer/single-reader frame buffer. The writer is the
// ingest path; the reader is the render loop. No reference to internal
// state ever escapes Replace or Snapshot — every hand-off is a copy.
type Slot struct {
	mu sync.Mutex

	frame   Frame
	hasData bool

	lastIngest time.Time
	ingestSeq  uint64

	staleAfter time.Duration
	now        func() time.Time // overridable for tests
}

// New constructs an empty Slot.
func New() *Slot {
	return &Slot{staleAfter: staleAfter, now: time.Now}
}

// SetStaleAfter overrides the no-signal threshold. Call before the slot is
// shared between goroutines; a non-positive d keeps the current value.
func (s *Slot) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

// Replace stores a copy of data as the new current frame. The caller's
// slice is never retained, so it's free to reuse or mutate it after Replace
// returns. It updates the ingest timestamp and increments the ingest
// sequence. Safe to call only from the ingest path.
func (s *Slot) Replace(data []byte, caps Caps) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = Frame{Data: dataCopy, Caps: caps}
	s.hasData = true
	s.lastIngest = s.now()
	s.ingestSeq++
}

// Snapshot returns a deep copy of the current frame, or HasFrame=false if
// the slot has never been written to or has gone stale (no write within
// the stale threshold, 5 seconds unless changed by SetStaleAfter). Safe to
// call only from the render loop.
func (s *Slot) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := s.lastIngest.IsZero() || s.now().Sub(s.lastIngest) > s.staleAfter

	if !s.hasData || stale {
		return Snapshot{Stale: stale}
	}

	dataCopy := make([]byte, len(s.frame.Data))
	copy(dataCopy, s.frame.Data)

	return Snapshot{
		Frame:     Frame{Data: dataCopy, Caps: s.frame.Caps},
		HasFrame:  true,
		Stale:     false,
		IngestSeq: s.ingestSeq,
	}
}

// FallbackFrame builds the neutral-gray frame pushed by the render loop when
// the slot holds nothing usable: no input yet, or a stale/empty snapshot.
// Built once at startup and reused; planar YUV 4:2:0 at the given geometry,
// luma 0x80 and both chroma planes 0x80 (mid-gray, no tint).
func FallbackFrame(width, height int) Frame {
	lumaSize := width * height
	chromaW, chromaH := (width+1)/2, (height+1)/2
	chromaSize := chromaW * chromaH

	data := make([]byte, lumaSize+2*chromaSize)
	for i := range data {
		data[i] = 0x80
	}

	return Frame{
		Data: data,
		Caps: Caps{Width: width, Height: height, Format: "yuv420p"},
	}
}
