// Package eventlog defines the durable, topic-partitioned append log that
// order events flow through, plus the backends that implement it.
//
// Every topic is an independently ordered sequence of entries. Entry IDs are
// assigned by the backend at append time, strictly increase within a topic,
// and are never reused. Readers track their position with a Cursor and tail
// the log with ReadSince.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultRangeLimit caps ReadRange when the caller passes limit <= 0.
const DefaultRangeLimit = 1000

var (
	// ErrCursorMismatch is returned by ReadSince when topics and cursors differ in length.
	ErrCursorMismatch = errors.New("eventlog: topics and cursors length mismatch")
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("eventlog: log closed")
	// ErrInvalidTopic is returned for topic names outside [a-z0-9][a-z0-9-]*.
	ErrInvalidTopic = errors.New("eventlog: invalid topic name")
)

var topicPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateTopic reports whether topic is usable as a log topic name.
func ValidateTopic(topic string) error {
	if !topicPattern.MatchString(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// EntryID identifies an entry within its topic. Zero sorts before every entry.
type EntryID uint64

func (id EntryID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseEntryID parses the decimal form produced by EntryID.String.
func ParseEntryID(s string) (EntryID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse entry id %q: %w", s, err)
	}
	return EntryID(n), nil
}

// Entry is an immutable record appended to exactly one topic.
type Entry struct {
	Topic  string            `json:"topic"`
	ID     EntryID           `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Log is the append/read capability shared by publishers and dispatchers.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append adds one entry to topic and returns its ID. The topic is created
	// on first append.
	Append(ctx context.Context, topic string, fields map[string]string) (EntryID, error)

	// ReadRange returns entries with from <= ID <= to in ascending order.
	// A zero to means no upper bound; limit <= 0 means DefaultRangeLimit.
	ReadRange(ctx context.Context, topic string, from, to EntryID, limit int) ([]Entry, error)

	// ReadLatest returns the newest entry in topic, or nil if it has none.
	ReadLatest(ctx context.Context, topic string) (*Entry, error)

	// ReadSince returns up to limit entries per topic with IDs greater than the
	// matching cursor in after. If nothing is available it waits up to block
	// for new entries and returns an empty map when none arrive.
	ReadSince(ctx context.Context, topics []string, after []EntryID, limit int, block time.Duration) (map[string][]Entry, error)

	Close() error
}

// Cursor records the last entry ID seen per topic.
type Cursor map[string]EntryID

// Clone returns an independent copy of c.
func (c Cursor) Clone() Cursor {
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Encode renders the cursor as "topic=id;topic=id" with topics sorted, suitable
// for use as an SSE event id.
func (c Cursor) Encode() string {
	topics := make([]string, 0, len(c))
	for t := range c {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	parts := make([]string, 0, len(topics))
	for _, t := range topics {
		parts = append(parts, t+"="+c[t].String())
	}
	return strings.Join(parts, ";")
}

// ParseCursor parses the output of Cursor.Encode.
func ParseCursor(s string) (Cursor, error) {
	c := make(Cursor)
	s = strings.TrimSpace(s)
	if s == "" {
		return c, nil
	}
	for _, part := range strings.Split(s, ";") {
		topic, idStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("parse cursor: malformed segment %q", part)
		}
		if err := ValidateTopic(topic); err != nil {
			return nil, fmt.Errorf("parse cursor: %w", err)
		}
		id, err := ParseEntryID(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse cursor: %w", err)
		}
		c[topic] = id
	}
	return c, nil
}

func checkSinceArgs(topics []string, after []EntryID) error {
	if len(topics) != len(after) {
		return ErrCursorMismatch
	}
	for _, t := range topics {
		if err := ValidateTopic(t); err != nil {
			return err
		}
	}
	return nil
}

func rangeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRangeLimit
	}
	return limit
}

// copyFields returns a private copy so callers can never mutate stored entries.
func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
