package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Command is one inbound line-delimited JSON record from stdin. Only
// Type is guaranteed to be set; the remaining fields are populated
// according to which command Type names and are otherwise zero.
type Command struct {
	Type string `json:"type"`

	// offer/answer
	SDP string `json:"sdp,omitempty"`

	// ice
	Candidate     string `json:"candidate,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
}

// Record is one outbound JSON record written to stdout.
type Record struct {
	Type string `json:"type"`

	// stats
	FramesIn       uint64 `json:"frames_in,omitempty"`
	FramesOut      uint64 `json:"frames_out,omitempty"`
	FramesRepeated uint64 `json:"frames_repeated,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// signaling pass-through (offer/answer/ice), mirrored verbatim
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
}

func readyRecord() Record { return Record{Type: "ready"} }
func eosRecord() Record   { return Record{Type: "eos"} }
func errorRecord(err error) Record {
	return Record{Type: "error", Message: err.Error()}
}
func statsRecord(s stats) Record {
	return Record{Type: "stats", FramesIn: s.FramesIn, FramesOut: s.FramesOut, FramesRepeated: s.FramesRepeated}
}

// signalingChannel owns the stdio command/response stream: it tails r
// for line-delimited JSON Commands and serializes Record writes to w so
// concurrent emitters (the stats timer, the command handler, error
// reporting) never interleave a partial line.
type signalingChannel struct {
	r      *bufio.Scanner
	w      io.Writer
	wmu    sync.Mutex
	logger *slog.Logger

	commands chan Command
}

// maxLineBytes bounds one stdin record. SDP offers/answers can run to a
// few KB with many ICE candidates pre-gathered; this leaves generous
// headroom over bufio.Scanner's 64 KiB default.
const maxLineBytes = 1 << 20

func newSignalingChannel(r io.Reader, w io.Writer, logger *slog.Logger) *signalingChannel {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &signalingChannel{
		r:        scanner,
		w:        w,
		logger:   logger,
		commands: make(chan Command),
	}
}

// Commands returns the channel on which decoded inbound commands are
// delivered. Closed when the input stream ends.
func (c *signalingChannel) Commands() <-chan Command {
	return c.commands
}

// Tail reads lines from stdin until EOF or ctx is done, decoding each as
// a Command and delivering it on Commands(). A line that fails to parse
// as JSON is logged and skipped rather than treated as fatal: a peer
// sending one malformed record shouldn't tear down the session.
func (c *signalingChannel) Tail(ctx context.Context) error {
	defer close(c.commands)

	for c.r.Scan() {
		line := c.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			c.logger.Warn("supervisor: malformed command record, skipping", "error", err)
			continue
		}

		select {
		case c.commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.r.Err()
}

// Emit writes rec to stdout as a single JSON line.
func (c *signalingChannel) Emit(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling signaling record: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(data)
	return err
}
