// Package klv demultiplexes SMPTE 336M KLV metadata from an MPEG-TS stream.
// It runs as an independent branch off the same ingest tee that feeds the
// video decode path: it never touches codec frames, only PES payloads
// carried on the stream's known KLV PIDs.
package klv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"framesync/pkg/tspacket"
)

// defaultMaxSlotBytes bounds each per-PID reassembly slot. A slot that
// grows past this without a payload_unit_start boundary is corrupt or not
// really KLV; drop it rather than let one bad PID grow without limit.
const defaultMaxSlotBytes = 64 * 1024

// UASLocalSetKey is the SMPTE 336M UAS Local Set Universal Key. A completed
// PES payload is only emitted as a KLV event if it begins with this prefix.
var UASLocalSetKey = []byte{
	0x06, 0x0E, 0x2B, 0x34, 0x02, 0x0B, 0x01, 0x01,
	0x0E, 0x01, 0x03, 0x01, 0x01, 0x00, 0x00, 0x00,
}

// DefaultPIDs are the KLV PIDs recognized out of the box. Packets on any
// other PID are ignored by the demultiplexer.
var DefaultPIDs = []uint16{0x0042, 0x0044, 0x0100, 0x0101, 0x0102, 0x01F1, 0x1000}

// pesStreamID is a PES stream_id byte accepted as carrying KLV metadata.
const (
	streamIDPrivateStream1 = 0xBD
	streamIDMetadata       = 0xFC
)

// Event is one validated KLV unit: a byte sequence whose first 16 bytes are
// the UAS Local Set Universal Key. Duplicates on a PID are possible and are
// not de-duplicated here; callers are responsible for that if they care.
type Event struct {
	PID  uint16
	Data []byte
}

// Demux reassembles PES payloads from TS packets on a fixed set of KLV PIDs
// and emits validated KLV units on Events. It is single-owner: one goroutine
// drives Run, and the per-PID reassembly slots it holds are never touched
// from outside that goroutine.
type Demux struct {
	pids         map[uint16]struct{}
	logger       *slog.Logger
	maxSlotBytes int

	slots map[uint16]*bytes.Buffer

	events chan Event

	framesIn uint64
	unitsOut uint64
}

// Option configures a Demux at construction time.
type Option func(*Demux)

// WithPIDs overrides DefaultPIDs with a caller-supplied set of KLV PIDs.
func WithPIDs(pids []uint16) Option {
	return func(d *Demux) {
		set := make(map[uint16]struct{}, len(pids))
		for _, p := range pids {
			set[p] = struct{}{}
		}
		d.pids = set
	}
}

// WithLogger attaches a logger; transient parse failures are logged at
// debug level and otherwise swallowed, per the ingest-transient error class.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Demux) {
		d.logger = logger
	}
}

// WithMaxSlotBytes overrides the per-PID reassembly cap. A non-positive n
// keeps the default.
func WithMaxSlotBytes(n int) Option {
	return func(d *Demux) {
		if n > 0 {
			d.maxSlotBytes = n
		}
	}
}

// WithEventBuffer sets the buffer depth of the Events channel. The default
// is 64, generous enough that a slow subscriber doesn't stall the TS reader
// under normal KLV cadences (STANAG 4609 metadata is at most a few Hz).
func WithEventBuffer(n int) Option {
	return func(d *Demux) {
		d.events = make(chan Event, n)
	}
}

// NewDemux constructs a Demux. Reassembly slots are created lazily, one per
// KLV PID, on first sighting of that PID.
func NewDemux(opts ...Option) *Demux {
	d := &Demux{
		logger:       slog.Default(),
		maxSlotBytes: defaultMaxSlotBytes,
		slots:        make(map[uint16]*bytes.Buffer),
		events:       make(chan Event, 64),
	}
	WithPIDs(DefaultPIDs)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events returns the channel on which validated KLV units are delivered, in
// PES-completion order as observed on the wire. The channel is closed when
// Run returns.
func (d *Demux) Events() <-chan Event {
	return d.events
}

// Stats reports frames observed on known KLV PIDs and units successfully
// emitted. It is intended for periodic logging only; callers must not rely
// on these for anything beyond observability.
type Stats struct {
	FramesIn uint64
	UnitsOut uint64
}

// Stats returns a point-in-time snapshot. Run is the sole writer of these
// counters, so this is safe to call concurrently only because it is a plain
// read of values that Run updates monotonically; exact cadence between a
// read and the next increment is not synchronized, matching the relaxed
// semantics used for statistics elsewhere in this system.
func (d *Demux) Stats() Stats {
	return Stats{FramesIn: d.framesIn, UnitsOut: d.unitsOut}
}

// Run reads TS packets from r until it hits EOF or ctx is done, reassembling
// PES payloads on known KLV PIDs and emitting validated KLV units on Events.
// It closes Events before returning. Run owns every reassembly slot it
// creates; nothing else may read or write them.
func (d *Demux) Run(ctx context.Context, r io.Reader) error {
	defer close(d.events)

	reader := tspacket.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			d.logger.Debug("klv: malformed TS packet, skipping", "error", err)
			continue
		}

		if _, known := d.pids[pkt.PID]; !known {
			continue
		}
		d.framesIn++

		if pkt.PayloadUnitStart {
			if slot, ok := d.slots[pkt.PID]; ok && slot.Len() > 0 {
				d.frame(ctx, pkt.PID, slot.Bytes())
			}
			d.slots[pkt.PID] = bytes.NewBuffer(make([]byte, 0, len(pkt.Payload)))
		}

		slot, ok := d.slots[pkt.PID]
		if !ok {
			// PUSI never seen for this PID yet; nothing to append to.
			continue
		}
		slot.Write(pkt.Payload)

		if slot.Len() > d.maxSlotBytes {
			d.logger.Debug("klv: reassembly slot exceeded cap, discarding", "pid", pkt.PID, "bytes", slot.Len())
			delete(d.slots, pkt.PID)
		}
	}
}

// frame runs the PES framer over a completed reassembly slot and, if it
// validates, emits the KLV unit on Events.
func (d *Demux) frame(ctx context.Context, pid uint16, pes []byte) {
	unit, ok := framePES(pes)
	if !ok {
		return
	}
	d.unitsOut++
	select {
	case d.events <- Event{PID: pid, Data: unit}:
	case <-ctx.Done():
	}
}

// framePES validates a completed PES payload and extracts its KLV body.
// Returns ok=false for anything that fails PES framing or UAS key
// validation; these are transient, per-unit failures, never fatal.
func framePES(pes []byte) (unit []byte, ok bool) {
	if len(pes) < 9 {
		return nil, false
	}
	if pes[0] != 0x00 || pes[1] != 0x00 || pes[2] != 0x01 {
		return nil, false
	}
	streamID := pes[3]
	if streamID != streamIDPrivateStream1 && streamID != streamIDMetadata {
		return nil, false
	}

	// Honor PES_packet_length when set: the reassembled slot may carry
	// transport stuffing past the end of the PES packet proper, which
	// must not leak into the emitted unit. Zero means unbounded.
	pesLen := int(pes[4])<<8 | int(pes[5])
	if pesLen > 0 && 6+pesLen <= len(pes) {
		pes = pes[:6+pesLen]
	}

	pesHeaderDataLen := int(pes[8])
	payloadStart := 9 + pesHeaderDataLen
	if payloadStart > len(pes) {
		return nil, false
	}
	payload := pes[payloadStart:]

	if len(payload) < len(UASLocalSetKey) {
		return nil, false
	}
	if !bytes.Equal(payload[:len(UASLocalSetKey)], UASLocalSetKey) {
		return nil, false
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true
}
