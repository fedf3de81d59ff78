package logging

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the ring buffer.
const DefaultBufferSize = 1000

// LogEntry is a single captured log line as served by GET /v1/logs.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// RingBuffer is a fixed-size, concurrency-safe store of the most recent log entries.
// It implements logrus.Hook.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// NewRingBuffer creates a ring buffer. A non-positive capacity selects DefaultBufferSize.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Levels implements logrus.Hook.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	source := ""
	if entry.Caller != nil {
		source = filepath.Base(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
	}
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if errValue, ok := v.(error); ok {
				v = errValue.Error()
			}
			fields[k] = v
		}
	}

	rb.Write(LogEntry{
		Timestamp: entry.Time,
		Level:     level,
		Message:   entry.Message,
		Source:    source,
		Fields:    fields,
	})
	return nil
}

// Write appends entry, evicting the oldest one when the buffer is full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
}

// Entries returns a copy of every buffered entry, oldest first.
func (rb *RingBuffer) Entries() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]LogEntry, rb.count)
	if rb.count == 0 {
		return result
	}
	start := (rb.head - rb.count + rb.capacity) % rb.capacity
	for i := 0; i < rb.count; i++ {
		e := rb.entries[(start+i)%rb.capacity]
		if e.Fields != nil {
			fieldsCopy := make(map[string]interface{}, len(e.Fields))
			for k, v := range e.Fields {
				fieldsCopy[k] = v
			}
			e.Fields = fieldsCopy
		}
		result[i] = e
	}
	return result
}

// Recent returns up to limit of the newest entries at or above minLevel, oldest first.
// A non-positive limit returns every matching entry.
func (rb *RingBuffer) Recent(limit int, minLevel log.Level) []LogEntry {
	all := rb.Entries()
	filtered := all[:0]
	for _, e := range all {
		lvl, err := log.ParseLevel(e.Level)
		if err != nil || lvl <= minLevel {
			filtered = append(filtered, e)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}

// Clear removes all entries from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.head = 0
	rb.count = 0
	for i := range rb.entries {
		rb.entries[i] = LogEntry{}
	}
}

// GlobalBuffer captures every entry logged through the standard logrus logger
// once SetupBaseLogger has run.
var GlobalBuffer = NewRingBuffer(DefaultBufferSize)
