package game

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	EventBufferSize      = 1024                   // ring buffer capacity
	MaxEventsPerSec      = 2000                   // global rate limit
	MaxEventsPerClient   = 50                     // per-client rate limit per second
	BatchFlushSize       = 64                     // events per write batch
	BatchFlushInterval   = 100 * time.Millisecond // how often to flush
	ClientLimiterCleanup = 5 * time.Minute        // idle time before a client limiter is dropped
)

// EventLog is a bounded, rate-limited audit log written as JSON lines. It is
// write-only: nothing reads it back into room state. A nil *EventLog is a
// valid, disabled log.
type EventLog struct {
	mu       sync.Mutex
	buffer   [EventBufferSize]Event
	head     uint64 // next sequence to assign
	tail     uint64 // oldest sequence not yet flushed
	dropped  uint64
	total    uint64
	running  bool
	limiters map[string]*clientLimiterEntry

	global *rate.Limiter
	logger *zap.Logger

	out    io.Writer
	closer io.Closer

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

type clientLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewEventLog creates a stopped event log.
func NewEventLog(logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{
		global:   rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		limiters: make(map[string]*clientLimiterEntry),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start opens path for append and begins the writer. An empty path keeps the
// log running in memory only.
func (el *EventLog) Start(path string) error {
	if path == "" {
		return el.StartWriter(nil)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if err := el.StartWriter(file); err != nil {
		file.Close()
		return err
	}
	el.closer = file
	return nil
}

// StartWriter begins the writer goroutines against w.
func (el *EventLog) StartWriter(w io.Writer) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.running {
		return nil
	}
	el.out = w
	el.running = true
	el.wg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
	return nil
}

// Stop flushes pending events and closes the output.
func (el *EventLog) Stop() {
	if el == nil {
		return
	}
	el.stopOnce.Do(func() {
		el.mu.Lock()
		el.running = false
		el.mu.Unlock()

		close(el.stopChan)
		el.wg.Wait()

		if el.closer != nil {
			if err := el.closer.Close(); err != nil {
				el.logger.Warn("close event log", zap.Error(err))
			}
		}
	})
}

// Emit queues an event. It returns false when the log is stopped or the event
// was rate limited; a full buffer drops the oldest pending event instead.
func (el *EventLog) Emit(event Event) bool {
	if el == nil {
		return false
	}
	el.mu.Lock()
	defer el.mu.Unlock()

	if !el.running {
		return false
	}
	if !el.global.Allow() {
		el.dropped++
		return false
	}
	if event.ClientID != "" && !el.clientLimiterLocked(event.ClientID).Allow() {
		el.dropped++
		return false
	}

	if el.head-el.tail >= EventBufferSize {
		el.tail++
		el.dropped++
	}
	el.head++
	event.Sequence = el.head
	el.buffer[el.head%EventBufferSize] = event
	el.total++
	return true
}

// Record builds and queues an event in one call.
func (el *EventLog) Record(eventType EventType, now time.Time, roomID, clientID string, payload any) bool {
	if el == nil {
		return false
	}
	return el.Emit(NewEvent(eventType, now, roomID, clientID, payload))
}

func (el *EventLog) clientLimiterLocked(clientID string) *rate.Limiter {
	now := time.Now()
	if entry, ok := el.limiters[clientID]; ok {
		entry.lastUsed = now
		return entry.limiter
	}
	entry := &clientLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerClient, MaxEventsPerClient/5),
		lastUsed: now,
	}
	el.limiters[clientID] = entry
	return entry.limiter
}

func (el *EventLog) writerLoop() {
	defer el.wg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.wg.Done()

	ticker := time.NewTicker(ClientLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupLimiters(time.Now())
		}
	}
}

func (el *EventLog) cleanupLimiters(now time.Time) {
	cutoff := now.Add(-ClientLimiterCleanup)
	el.mu.Lock()
	defer el.mu.Unlock()
	for id, entry := range el.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(el.limiters, id)
		}
	}
}

func (el *EventLog) collectBatch(batch []Event) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()
	for el.tail < el.head && len(batch) < BatchFlushSize {
		el.tail++
		batch = append(batch, el.buffer[el.tail%EventBufferSize])
	}
	return batch
}

// flushBatch appends newline-delimited JSON to the output.
func (el *EventLog) flushBatch(batch []Event) {
	if el.out == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		if _, err := el.out.Write(data); err != nil {
			el.logger.Warn("write event log", zap.Error(err))
			return
		}
	}
}

// Stats returns counters for monitoring.
func (el *EventLog) Stats() map[string]any {
	if el == nil {
		return map[string]any{"running": false}
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return map[string]any{
		"total":   el.total,
		"dropped": el.dropped,
		"pending": el.head - el.tail,
		"running": el.running,
	}
}
