package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessStats is a point-in-time snapshot of one ffmpeg subprocess's
// resource usage: CPU and memory sampled from /proc, byte counters fed by
// CountingReader/CountingWriter wrappers on the subprocess's pipes.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent     float64 `json:"cpu_percent"`      // 0-100 per core
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"` // Resident set size

	BytesRead     uint64  `json:"bytes_read"`      // Pipe bytes into the process
	BytesWritten  uint64  `json:"bytes_written"`   // Pipe bytes out of the process
	ReadRateKbps  float64 `json:"read_rate_kbps"`  // Current input rate
	WriteRateKbps float64 `json:"write_rate_kbps"` // Current output rate

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ProcessMonitor samples one subprocess's /proc entries on a fixed interval
// for as long as the process lives. It is attached by PID right after the
// subprocess starts and stopped when the chain is torn down.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	// CPU percentage is a delta between consecutive samples.
	lastCPUTime   time.Duration
	lastCheckTime time.Time

	// Rate calculation deltas.
	lastBytesRead    uint64
	lastBytesWritten uint64
	lastBytesCheck   time.Time

	// Fed by the pipe wrappers, read by sample().
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	clockTicksHz int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessMonitor creates a monitor for pid. Call Start to begin sampling.
func NewProcessMonitor(pid int) *ProcessMonitor {
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		// 100 Hz is the USER_HZ value on every mainstream Linux build;
		// reading it properly needs sysconf(_SC_CLK_TCK) via cgo.
		clockTicksHz: 100,
	}
}

// Start begins the sampling loop. Safe to call once per monitor.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.done != nil {
		pm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.done = make(chan struct{})
	pm.lastCheckTime = time.Now()
	pm.lastBytesCheck = pm.lastCheckTime
	done := pm.done
	pm.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		pm.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.sample()
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it to exit.
func (pm *ProcessMonitor) Stop() {
	pm.mu.Lock()
	cancel, done := pm.cancel, pm.done
	pm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stats returns the latest sampled snapshot plus live byte counters.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.BytesRead = pm.bytesRead.Load()
	stats.BytesWritten = pm.bytesWritten.Load()
	return stats
}

// AddBytesRead feeds the input byte counter.
func (pm *ProcessMonitor) AddBytesRead(n uint64) { pm.bytesRead.Add(n) }

// AddBytesWritten feeds the output byte counter.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) { pm.bytesWritten.Add(n) }

// sample takes one snapshot of the process's resource usage.
func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	if runtime.GOOS == "linux" {
		pm.sampleProc(now)
	}
	pm.sampleRates(now)
}

// sampleProc reads /proc/[pid]/stat and /proc/[pid]/statm. A read failure
// means the process exited between samples; the last snapshot stands.
func (pm *ProcessMonitor) sampleProc(now time.Time) {
	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pm.pid))
	if err != nil {
		return
	}

	// The command name is parenthesized and may contain spaces; fields of
	// interest are utime (14) and stime (15), counted after the ")".
	statStr := string(statData)
	commEnd := strings.LastIndex(statStr, ")")
	if commEnd == -1 {
		return
	}
	fields := strings.Fields(statStr[commEnd+2:])
	if len(fields) < 13 {
		return
	}
	utime, _ := strconv.ParseInt(fields[11], 10, 64)
	stime, _ := strconv.ParseInt(fields[12], 10, 64)

	tick := time.Second / time.Duration(pm.clockTicksHz)
	cpuTotal := time.Duration(utime+stime) * tick

	if elapsed := now.Sub(pm.lastCheckTime); elapsed > 0 && pm.lastCPUTime > 0 {
		pm.stats.CPUPercent = float64(cpuTotal-pm.lastCPUTime) / float64(elapsed) * 100.0
	}
	pm.lastCPUTime = cpuTotal
	pm.lastCheckTime = now

	statmData, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pm.pid))
	if err != nil {
		return
	}
	statmFields := strings.Fields(string(statmData))
	if len(statmFields) >= 2 {
		rss, _ := strconv.ParseUint(statmFields[1], 10, 64)
		pm.stats.MemoryRSSBytes = rss * uint64(os.Getpagesize())
	}
}

// sampleRates derives the current pipe throughput from counter deltas.
func (pm *ProcessMonitor) sampleRates(now time.Time) {
	read := pm.bytesRead.Load()
	written := pm.bytesWritten.Load()

	if elapsed := now.Sub(pm.lastBytesCheck); elapsed > 0 {
		pm.stats.ReadRateKbps = float64(read-pm.lastBytesRead) * 8 / 1000 / elapsed.Seconds()
		pm.stats.WriteRateKbps = float64(written-pm.lastBytesWritten) * 8 / 1000 / elapsed.Seconds()
	}

	pm.stats.BytesRead = read
	pm.stats.BytesWritten = written
	pm.lastBytesRead = read
	pm.lastBytesWritten = written
	pm.lastBytesCheck = now
}

// CountingReader wraps the reader side of a subprocess pipe and feeds the
// monitor's input byte counter.
type CountingReader struct {
	r       io.Reader
	monitor *ProcessMonitor
}

// NewCountingReader wraps r; a nil monitor makes it a plain passthrough.
func NewCountingReader(r io.Reader, monitor *ProcessMonitor) *CountingReader {
	return &CountingReader{r: r, monitor: monitor}
}

func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.monitor != nil {
		cr.monitor.AddBytesRead(uint64(n))
	}
	return n, err
}

// CountingWriter wraps a destination writer and feeds the monitor's output
// byte counter.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter wraps w; a nil monitor makes it a plain passthrough.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

func (cw *CountingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.monitor != nil {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
