package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"framesync/internal/render"
)

// shmMagic identifies the region layout to readers that map the file
// independently of this process.
const shmMagic = uint32(0x46534d31) // "FSM1"

// shmHeaderSize is the fixed header at the start of the mapped region:
// magic, slot size, write index, sequence (all little-endian uint32/64).
const shmHeaderSize = 24

// shmSlots is the number of frame-sized slots in the ring. Two is enough
// for a reader to always have one complete, stable frame to read while
// the writer fills the other.
const shmSlots = 2

// shmSink writes each rendered frame into a POSIX shared-memory region
// (a regular file, mmap'd MAP_SHARED) and notifies any connected reader
// over a companion UNIX domain socket. The region is file-backed and
// sized for one codec=raw frame per slot. Only codec=raw is meaningful
// for this container: the shared-memory sink is for same-box IPC to a
// consumer reading uncompressed frames, not a bitstream.
type shmSink struct {
	file     *os.File
	region   []byte
	slotSize int

	listener net.Listener

	readersMu sync.Mutex
	readers   []net.Conn

	writeIdx uint32
	seq      uint32
}

func newShmSink(cfg SinkConfig) (*shmSink, error) {
	slotSize := cfg.Render.Width * cfg.Render.Height * 3 / 2 // yuv420p
	regionSize := shmHeaderSize + shmSlots*slotSize
	if int64(regionSize) > cfg.Output.ShmSize.Bytes() {
		return nil, fmt.Errorf("shm region %d bytes exceeds configured shm_size %s", regionSize, cfg.Output.ShmSize)
	}

	f, err := os.OpenFile(cfg.Output.ShmPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening shm file %s: %w", cfg.Output.ShmPath, err)
	}
	if err := f.Truncate(int64(cfg.Output.ShmSize.Bytes())); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sizing shm file: %w", err)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(cfg.Output.ShmSize.Bytes()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mapping shm file: %w", err)
	}

	binary.LittleEndian.PutUint32(region[0:4], shmMagic)
	binary.LittleEndian.PutUint32(region[4:8], uint32(slotSize))

	socketPath := cfg.Output.ShmPath + ".sock"
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		_ = unix.Munmap(region)
		_ = f.Close()
		return nil, fmt.Errorf("listening on notify socket %s: %w", socketPath, err)
	}

	s := &shmSink{
		file:     f,
		region:   region,
		slotSize: slotSize,
		listener: listener,
	}
	go s.acceptReaders()

	return s, nil
}

// acceptReaders adds each connecting reader to the notify list until the
// listener is closed.
func (s *shmSink) acceptReaders() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.readersMu.Lock()
		s.readers = append(s.readers, conn)
		s.readersMu.Unlock()
	}
}

// Push writes the frame into the next slot of the ring and bumps the
// header's write index and sequence, then pings every connected reader
// with the new sequence number so it knows a new frame is ready without
// polling the region.
func (s *shmSink) Push(ctx context.Context, sample render.Sample) error {
	if len(sample.Frame.Data) != s.slotSize {
		return fmt.Errorf("frame size %d does not match shm slot size %d", len(sample.Frame.Data), s.slotSize)
	}

	slot := s.writeIdx % shmSlots
	offset := shmHeaderSize + int(slot)*s.slotSize
	copy(s.region[offset:offset+s.slotSize], sample.Frame.Data)

	s.writeIdx++
	s.seq++
	binary.LittleEndian.PutUint32(s.region[8:12], s.writeIdx)
	binary.LittleEndian.PutUint32(s.region[12:16], s.seq)

	s.notify()
	return nil
}

// notify pings every connected reader with the new sequence number so it
// knows a fresh frame is ready without polling the region. A reader
// whose write fails (gone away) is dropped from the list.
func (s *shmSink) notify() {
	var seqBuf [4]byte
	binary.LittleEndian.PutUint32(seqBuf[:], s.seq)

	s.readersMu.Lock()
	defer s.readersMu.Unlock()

	live := s.readers[:0]
	for _, conn := range s.readers {
		if _, err := conn.Write(seqBuf[:]); err != nil {
			_ = conn.Close()
			continue
		}
		live = append(live, conn)
	}
	s.readers = live
}

func (s *shmSink) Close() error {
	_ = s.listener.Close()

	s.readersMu.Lock()
	for _, conn := range s.readers {
		_ = conn.Close()
	}
	s.readers = nil
	s.readersMu.Unlock()

	err := unix.Munmap(s.region)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
