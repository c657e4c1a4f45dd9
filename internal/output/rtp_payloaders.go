package output

// rtpRawPayloader splits an arbitrary elementary-stream frame into
// MTU-sized chunks with no per-chunk framing of its own — acceptable
// for codec=raw, where there is no standardized RTP payload spec to
// follow and the receiver is expected to be this system's own sibling
// process, not a third-party RTP endpoint.
type rtpRawPayloader struct{}

func (rtpRawPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	return chunk(payload, int(mtu))
}

// rtpH265Payloader implements RFC 7798's single NAL unit and
// fragmentation unit (FU) packetization modes. pion/rtp/codecs has no
// H.265 payloader as of this module's dependency version; this covers
// the two modes this system's encode chain actually produces (one NAL
// per access unit fits in an MTU, or it doesn't and needs fragmenting),
// and skips aggregation packets (AP), which the encoder here never
// requires since every access unit is emitted as a single NAL run.
type rtpH265Payloader struct{}

const (
	h265NALHeaderSize = 2
	h265FUHeaderSize  = 1
	h265NALTypeFU     = 49
)

func (rtpH265Payloader) Payload(mtu uint16, payload []byte) [][]byte {
	if len(payload) < h265NALHeaderSize {
		return nil
	}
	maxFragmentSize := int(mtu) - h265NALHeaderSize - h265FUHeaderSize

	if len(payload) <= int(mtu) {
		return [][]byte{payload}
	}
	if maxFragmentSize <= 0 {
		return nil
	}

	nalHeader := payload[:h265NALHeaderSize]
	nalType := (nalHeader[0] >> 1) & 0x3F
	body := payload[h265NALHeaderSize:]

	var packets [][]byte
	for offset := 0; offset < len(body); offset += maxFragmentSize {
		end := offset + maxFragmentSize
		if end > len(body) {
			end = len(body)
		}
		fragment := body[offset:end]

		// FU indicator: same layer/tid as original, type replaced with 49.
		fuIndicator := []byte{
			(nalHeader[0] & 0x81) | (h265NALTypeFU << 1),
			nalHeader[1],
		}
		fuHeader := byte(nalType)
		if offset == 0 {
			fuHeader |= 0x80 // start
		}
		if end == len(body) {
			fuHeader |= 0x40 // end
		}

		pkt := make([]byte, 0, h265NALHeaderSize+h265FUHeaderSize+len(fragment))
		pkt = append(pkt, fuIndicator...)
		pkt = append(pkt, fuHeader)
		pkt = append(pkt, fragment...)
		packets = append(packets, pkt)
	}
	return packets
}

// chunk splits data into pieces no larger than size, used by payloaders
// with no format-specific framing of their own.
func chunk(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	var out [][]byte
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[offset:end])
	}
	return out
}
