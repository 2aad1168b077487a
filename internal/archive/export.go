// Package archive exports event log entries as JSONL to durable storage on
// a schedule, so history outlives the log's retention.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

// header is the first JSONL record of every export.
type header struct {
	Version   string           `json:"version"`
	Type      string           `json:"type"`
	Topic     string           `json:"topic"`
	FirstID   eventlog.EntryID `json:"first_id"`
	LastID    eventlog.EntryID `json:"last_id"`
	Count     int              `json:"count"`
	Timestamp time.Time        `json:"timestamp"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data *eventlog.Entry `json:"data"`
}

// ReadAfter returns every entry of topic with an ID greater than after, in
// log order, paging through the log's range limit.
func ReadAfter(ctx context.Context, log eventlog.Log, topic string, after eventlog.EntryID) ([]eventlog.Entry, error) {
	var out []eventlog.Entry
	for {
		page, err := log.ReadRange(ctx, topic, after+1, 0, eventlog.DefaultRangeLimit)
		if err != nil {
			return nil, fmt.Errorf("read %s after %d: %w", topic, after, err)
		}
		out = append(out, page...)
		if len(page) < eventlog.DefaultRangeLimit {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

// ExportJSONL writes a header followed by one record per entry to w. All
// entries must belong to topic.
func ExportJSONL(topic string, entries []eventlog.Entry, w io.Writer) error {
	h := header{
		Version:   "1",
		Type:      "header",
		Topic:     topic,
		Count:     len(entries),
		Timestamp: time.Now().UTC(),
	}
	if len(entries) > 0 {
		h.FirstID = entries[0].ID
		h.LastID = entries[len(entries)-1].ID
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for i := range entries {
		if entries[i].Topic != topic {
			return fmt.Errorf("entry %d belongs to %q, not %q", entries[i].ID, entries[i].Topic, topic)
		}
		if err := enc.Encode(record{Type: "entry", Data: &entries[i]}); err != nil {
			return fmt.Errorf("encode entry %d: %w", entries[i].ID, err)
		}
	}
	return nil
}

// ObjectKey names the export of topic entries first..last.
func ObjectKey(prefix, topic string, first, last eventlog.EntryID) string {
	return topicPrefix(prefix, topic) + fmt.Sprintf("%020d-%020d.jsonl", first, last)
}

// topicPrefix is the key prefix, ending in a slash, shared by every export
// of topic.
func topicPrefix(prefix, topic string) string {
	if prefix == "" {
		return topic + "/"
	}
	return prefix + "/" + topic + "/"
}

// ParseObjectKey returns the entry range an ObjectKey names.
func ParseObjectKey(key string) (first, last eventlog.EntryID, ok bool) {
	name, found := strings.CutSuffix(path.Base(key), ".jsonl")
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	first, err := eventlog.ParseEntryID(a)
	if err != nil {
		return 0, 0, false
	}
	last, err = eventlog.ParseEntryID(b)
	if err != nil || last < first {
		return 0, 0, false
	}
	return first, last, true
}
