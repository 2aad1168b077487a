package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

// EventLog is an eventlog.Log stored in the event_entries table. Appends to a
// topic are serialized with a transaction-scoped advisory lock, so entry IDs
// become visible to readers in the order they were assigned.
type EventLog struct {
	db           *sql.DB
	maxLen       int
	pollInterval time.Duration
}

var _ eventlog.Log = (*EventLog)(nil)

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithMaxLen keeps at most n entries per topic.
func WithMaxLen(n int) EventLogOption {
	return func(l *EventLog) { l.maxLen = n }
}

// WithPollInterval sets how often a blocking ReadSince re-queries (default 250ms).
func WithPollInterval(d time.Duration) EventLogOption {
	return func(l *EventLog) { l.pollInterval = d }
}

// NewEventLog returns a log on db. The caller keeps ownership of db and must
// have applied the store migrations.
func NewEventLog(db *sql.DB, opts ...EventLogOption) *EventLog {
	l := &EventLog{db: db, pollInterval: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *EventLog) Append(ctx context.Context, topic string, fields map[string]string) (eventlog.EntryID, error) {
	if err := eventlog.ValidateTopic(topic); err != nil {
		return 0, err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, topic); err != nil {
		return 0, fmt.Errorf("lock topic %s: %w", topic, err)
	}
	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO event_entries (topic, seq, fields)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2 FROM event_entries WHERE topic = $1
		RETURNING seq`,
		topic, data,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", topic, err)
	}
	if l.maxLen > 0 && seq > int64(l.maxLen) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM event_entries WHERE topic = $1 AND seq <= $2`,
			topic, seq-int64(l.maxLen)); err != nil {
			return 0, fmt.Errorf("trim %s: %w", topic, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return eventlog.EntryID(seq), nil
}

func (l *EventLog) ReadRange(ctx context.Context, topic string, from, to eventlog.EntryID, limit int) ([]eventlog.Entry, error) {
	if err := eventlog.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = eventlog.DefaultRangeLimit
	}
	query := `SELECT seq, fields FROM event_entries WHERE topic = $1 AND seq >= $2`
	args := []any{topic, int64(from)}
	if to != 0 {
		query += ` AND seq <= $3 ORDER BY seq LIMIT $4`
		args = append(args, int64(to), limit)
	} else {
		query += ` ORDER BY seq LIMIT $3`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", topic, err)
	}
	defer rows.Close()

	var out []eventlog.Entry
	for rows.Next() {
		e, err := scanEntry(topic, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read range %s: %w", topic, err)
	}
	return out, nil
}

func (l *EventLog) ReadLatest(ctx context.Context, topic string) (*eventlog.Entry, error) {
	if err := eventlog.ValidateTopic(topic); err != nil {
		return nil, err
	}
	row := l.db.QueryRowContext(ctx, `
		SELECT seq, fields FROM event_entries
		WHERE topic = $1 ORDER BY seq DESC LIMIT 1`, topic)
	e, err := scanEntry(topic, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest %s: %w", topic, err)
	}
	return &e, nil
}

// ReadSince re-queries every pollInterval until entries arrive or block
// elapses.
func (l *EventLog) ReadSince(ctx context.Context, topics []string, after []eventlog.EntryID, limit int, block time.Duration) (map[string][]eventlog.Entry, error) {
	if len(topics) != len(after) {
		return nil, eventlog.ErrCursorMismatch
	}
	var deadline time.Time
	if block > 0 {
		deadline = time.Now().Add(block)
	}
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		out := make(map[string][]eventlog.Entry)
		for i, topic := range topics {
			batch, err := l.ReadRange(ctx, topic, after[i]+1, 0, limit)
			if err != nil {
				return nil, err
			}
			if len(batch) > 0 {
				out[topic] = batch
			}
		}
		if len(out) > 0 || block <= 0 || !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close is a no-op; the database handle belongs to the caller.
func (l *EventLog) Close() error { return nil }

func scanEntry(topic string, row scannable) (eventlog.Entry, error) {
	var seq int64
	var data []byte
	if err := row.Scan(&seq, &data); err != nil {
		return eventlog.Entry{}, err
	}
	fields := make(map[string]string)
	if err := json.Unmarshal(data, &fields); err != nil {
		return eventlog.Entry{}, fmt.Errorf("decode entry %s/%d: %w", topic, seq, err)
	}
	return eventlog.Entry{Topic: topic, ID: eventlog.EntryID(seq), Fields: fields}, nil
}
