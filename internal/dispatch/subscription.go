package dispatch

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

// Subscription is the per-connection read state: which topics to poll, how
// far each has been read, and which entries to deliver. It belongs to exactly
// one Dispatcher and is never shared.
type Subscription struct {
	Topics []string
	Cursor eventlog.Cursor
	Filter Filter
}

// Seed starts a subscription at the current tail of each topic, so the
// connection sees only entries appended after it opened.
func Seed(ctx context.Context, log eventlog.Log, topics []string, filter Filter) (*Subscription, error) {
	return Resume(ctx, log, topics, filter, nil)
}

// Resume starts a subscription from a cursor the client last saw. Topics the
// cursor does not mention start at the tail, and positions beyond the tail are
// clamped to it.
func Resume(ctx context.Context, log eventlog.Log, topics []string, filter Filter, from eventlog.Cursor) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscription needs at least one topic")
	}
	if filter == nil {
		filter = AllEntries()
	}
	cursor := make(eventlog.Cursor, len(topics))
	for _, topic := range topics {
		latest, err := log.ReadLatest(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("seeding cursor for %s: %w", topic, err)
		}
		var tail eventlog.EntryID
		if latest != nil {
			tail = latest.ID
		}
		pos, ok := from[topic]
		if !ok || pos > tail {
			pos = tail
		}
		cursor[topic] = pos
	}
	return &Subscription{
		Topics: append([]string(nil), topics...),
		Cursor: cursor,
		Filter: filter,
	}, nil
}
