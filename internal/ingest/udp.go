package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
)

// readBufSize is the per-read scratch buffer. UDP datagrams carrying
// MPEG-TS are conventionally sized to a multiple of 188 bytes and well
// under this; it's generous headroom, not a protocol constant.
const readBufSize = 64 * 1024

// UDPSource binds a UDP port and feeds every datagram it receives into a
// JitterQueue as the jitter queue's sole producer.
type UDPSource struct {
	conn *net.UDPConn
}

// ListenUDP binds port on all interfaces and sets the OS receive buffer
// to bufferBytes so bursts are absorbed without the kernel dropping
// datagrams before this process reads them.
func ListenUDP(port int, bufferBytes int) (*UDPSource, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", port, err)
	}
	if bufferBytes > 0 {
		if err := conn.SetReadBuffer(bufferBytes); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting udp read buffer to %d bytes: %w", bufferBytes, err)
		}
	}
	return &UDPSource{conn: conn}, nil
}

// Close releases the underlying socket.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// Run reads datagrams until ctx is canceled or the socket errors, pushing
// each one onto q as an independent chunk. UDP delivers no ordering
// guarantee and this makes none either: datagrams are treated as an
// arbitrary byte stream of TS packets.
//
// When tee is non-nil, every datagram is also written to it unparsed,
// before being queued; this is the TS tee the KLV demux branch reads
// from independently of the decode path. A slow or closed tee never
// blocks or fails ingest, so tee write errors are swallowed here.
func (s *UDPSource) Run(ctx context.Context, q *JitterQueue, tee io.Writer) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	buf := make([]byte, readBufSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading udp datagram: %w", err)
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if tee != nil {
			_, _ = tee.Write(data)
		}
		q.Push(data)
	}
}
