// Package tspacket provides packet-level access to an MPEG-TS byte stream:
// sync-byte resynchronization, PID/PUSI/adaptation-field extraction, and
// per-PID payload delivery. It exists alongside the elementary-stream-level
// demuxing that mediacommon performs, for the one case that needs raw
// packet access: filtering by PID ahead of codec framing.
package tspacket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
)

// PacketSize is the fixed MPEG-TS packet length.
const PacketSize = 188

// SyncByte is the required first byte of every TS packet.
const SyncByte = 0x47

// Packet is the subset of a demuxed TS packet the KLV demultiplexer needs.
type Packet struct {
	PID               uint16
	PayloadUnitStart  bool
	AdaptationControl uint8 // 1 = payload only, 2 = adaptation only, 3 = both
	Payload           []byte
}

// Reader reads consecutive TS packets off a byte stream, resynchronizing on
// 0x47 when the stream is corrupt or mis-aligned to 188-byte boundaries.
type Reader struct {
	dmx *astits.Demuxer
}

// NewReader wraps r as a source of TS packets. The underlying go-astits
// demuxer owns sync-byte scanning and adaptation-field offset arithmetic;
// this type narrows its output to the fields the KLV path consumes. The
// packet size is pinned to 188 rather than autodetected, since a live
// stream may deliver its first packet alone.
func NewReader(r io.Reader) *Reader {
	br := bufio.NewReaderSize(r, PacketSize*64)
	return &Reader{
		dmx: astits.NewDemuxer(context.Background(), br, astits.DemuxerOptPacketSize(PacketSize)),
	}
}

// Next returns the next TS packet, or io.EOF once the stream is exhausted.
// Malformed packets are skipped internally by the underlying demuxer, which
// resynchronizes on the next 0x47; Next never returns a partial packet.
func (r *Reader) Next() (*Packet, error) {
	pkt, err := r.dmx.NextPacket()
	if err != nil {
		// Any exhausted or broken byte source ends the stream; only a
		// recoverable mid-stream parse failure is surfaced to the caller,
		// which can skip the packet and keep reading.
		if errors.Is(err, astits.ErrNoMorePackets) ||
			errors.Is(err, io.EOF) ||
			errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, io.ErrClosedPipe) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading TS packet: %w", err)
	}
	if pkt == nil {
		return nil, io.EOF
	}

	afc := uint8(1)
	if pkt.Header.HasAdaptationField && pkt.Header.HasPayload {
		afc = 3
	} else if pkt.Header.HasAdaptationField {
		afc = 2
	}

	return &Packet{
		PID:               uint16(pkt.Header.PID),
		PayloadUnitStart:  pkt.Header.PayloadUnitStartIndicator,
		AdaptationControl: afc,
		Payload:           pkt.Payload,
	}, nil
}
