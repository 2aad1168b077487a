package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Log. It is durable only for the life of the process
// and cannot fan out across instances; use it for tests and local development.
type Memory struct {
	mu     sync.RWMutex
	topics map[string]*memTopic
	maxLen int
	closed bool
	wake   *signal
}

type memTopic struct {
	entries []Entry // ascending by ID
	lastID  EntryID
}

// NewMemory returns an empty in-memory log. When maxLen > 0 each topic keeps at
// most maxLen entries, evicting the oldest.
func NewMemory(maxLen int) *Memory {
	return &Memory{
		topics: make(map[string]*memTopic),
		maxLen: maxLen,
		wake:   newSignal(),
	}
}

var _ Log = (*Memory)(nil)

func (m *Memory) Append(ctx context.Context, topic string, fields map[string]string) (EntryID, error) {
	if err := ValidateTopic(topic); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	t, ok := m.topics[topic]
	if !ok {
		t = &memTopic{}
		m.topics[topic] = t
	}
	t.lastID++
	id := t.lastID
	t.entries = append(t.entries, Entry{Topic: topic, ID: id, Fields: copyFields(fields)})
	if m.maxLen > 0 && len(t.entries) > m.maxLen {
		t.entries = append([]Entry(nil), t.entries[len(t.entries)-m.maxLen:]...)
	}
	m.mu.Unlock()

	m.wake.broadcast()
	return id, nil
}

func (m *Memory) ReadRange(ctx context.Context, topic string, from, to EntryID, limit int) ([]Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.topics[topic]
	if !ok {
		return nil, nil
	}
	limit = rangeLimit(limit)

	var out []Entry
	for _, e := range t.entries[firstIndexAtLeast(t.entries, from):] {
		if to != 0 && e.ID > to {
			break
		}
		out = append(out, cloneEntry(e))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ReadLatest(ctx context.Context, topic string) (*Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.topics[topic]
	if !ok || len(t.entries) == 0 {
		return nil, nil
	}
	e := cloneEntry(t.entries[len(t.entries)-1])
	return &e, nil
}

func (m *Memory) ReadSince(ctx context.Context, topics []string, after []EntryID, limit int, block time.Duration) (map[string][]Entry, error) {
	if err := checkSinceArgs(topics, after); err != nil {
		return nil, err
	}
	limit = rangeLimit(limit)
	return waitForEntries(ctx, block, m.wake, func() (map[string][]Entry, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.closed {
			return nil, ErrClosed
		}
		out := make(map[string][]Entry)
		for i, topic := range topics {
			t, ok := m.topics[topic]
			if !ok {
				continue
			}
			var batch []Entry
			for _, e := range t.entries[firstIndexAtLeast(t.entries, after[i]+1):] {
				batch = append(batch, cloneEntry(e))
				if len(batch) == limit {
					break
				}
			}
			if len(batch) > 0 {
				out[topic] = batch
			}
		}
		return out, nil
	})
}

// Close marks the log closed and wakes any blocked readers.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake.broadcast()
	return nil
}

func firstIndexAtLeast(entries []Entry, id EntryID) int {
	return sort.Search(len(entries), func(i int) bool { return entries[i].ID >= id })
}

func cloneEntry(e Entry) Entry {
	e.Fields = copyFields(e.Fields)
	return e
}

// signal is a broadcast wakeup: every append closes the current channel and
// installs a fresh one.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// waitForEntries runs read until it yields entries, an error, or block elapses.
// The wake channel is captured before each read so an append landing between
// the read and the wait is never missed.
func waitForEntries(ctx context.Context, block time.Duration, wake *signal, read func() (map[string][]Entry, error)) (map[string][]Entry, error) {
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		woken := wake.wait()
		out, err := read()
		if err != nil || len(out) > 0 || block <= 0 {
			return out, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return map[string][]Entry{}, nil
		case <-woken:
		}
	}
}
