// Package progress tracks the state of the file currently streaming to the
// Switch and publishes snapshots of it to observers such as a CLI watcher or
// a future GUI.
package progress

import (
	"fmt"
	"sync"
	"time"
)

const ringCapacity = 50

// Progress is a point-in-time copy of a transfer's state, safe to read
// without holding any lock.
type Progress struct {
	File       string
	BytesSent  int64
	TotalSize  int64
	SpeedMbps  float64
	Log        []string
	UpdateTime time.Time
}

// Recorder is the mutex-guarded, long-lived progress record for the server.
// One Recorder exists per server instance.
type Recorder struct {
	mu sync.Mutex

	file      string
	bytesSent int64
	totalSize int64
	speedMbps float64

	sampleAt    time.Time
	sampleBytes int64

	ring     []string
	ringHead int

	subscribers []chan<- Progress
}

// NewRecorder creates an empty, zeroed progress recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		ring: make([]string, 0, ringCapacity),
	}
}

// Subscribe registers ch to receive a pushed Progress snapshot on every
// BeginFile and at most every 500ms during AddBytes. Sends never block: a
// slow or full subscriber simply misses updates.
func (r *Recorder) Subscribe(ch chan<- Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, ch)
}

// Snapshot returns a copy of the current progress state.
func (r *Recorder) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() Progress {
	log := make([]string, len(r.ring))
	copy(log, r.ring)
	return Progress{
		File:       r.file,
		BytesSent:  r.bytesSent,
		TotalSize:  r.totalSize,
		SpeedMbps:  r.speedMbps,
		Log:        log,
		UpdateTime: r.sampleAt,
	}
}

// BeginFile resets the record for a new file transfer and appends a log
// line, then pushes a snapshot to every subscriber.
func (r *Recorder) BeginFile(name string, totalSize int64) {
	r.mu.Lock()
	r.file = name
	r.bytesSent = 0
	r.totalSize = totalSize
	r.speedMbps = 0
	r.sampleAt = time.Now()
	r.sampleBytes = 0
	r.appendLocked(fmt.Sprintf("starting %s (%d bytes)", name, totalSize))
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(snap)
}

// AddBytes records n additional bytes streamed for the current file and
// recomputes throughput if at least 500ms have passed since the last
// sample. It appends no log line. A snapshot is pushed to subscribers only
// when the throughput sample fires.
func (r *Recorder) AddBytes(n int64) {
	r.mu.Lock()
	r.bytesSent += n

	now := time.Now()
	elapsed := now.Sub(r.sampleAt)
	var shouldPublish bool
	if elapsed >= 500*time.Millisecond {
		delta := r.bytesSent - r.sampleBytes
		seconds := elapsed.Seconds()
		if seconds > 0 {
			r.speedMbps = (float64(delta) / seconds) / (1024 * 1024)
		}
		r.sampleAt = now
		r.sampleBytes = r.bytesSent
		shouldPublish = true
	}
	var snap Progress
	if shouldPublish {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if shouldPublish {
		r.publish(snap)
	}
}

// Logf appends a formatted line to the bounded ring log, trimming to the
// newest 50 entries.
func (r *Recorder) Logf(format string, args ...any) {
	r.mu.Lock()
	r.appendLocked(fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *Recorder) appendLocked(line string) {
	r.ring = append(r.ring, line)
	if len(r.ring) > ringCapacity {
		r.ring = r.ring[len(r.ring)-ringCapacity:]
	}
}

func (r *Recorder) publish(p Progress) {
	r.mu.Lock()
	subs := make([]chan<- Progress, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
}
