package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketTopics = []byte("topics")

// Bolt is a Log persisted in a single BoltDB file. Each topic is a nested
// bucket keyed by big-endian entry IDs drawn from the bucket's sequence.
// BoltDB holds an exclusive file lock, so this backend serves one process;
// horizontally scaled deployments need JetStream or PostgreSQL.
type Bolt struct {
	db     *bolt.DB
	maxLen uint64
	wake   *signal
	closed atomic.Bool
}

var _ Log = (*Bolt)(nil)

// OpenBolt opens (or creates) the log file at path. When maxLen > 0 each topic
// retains at most maxLen entries.
func OpenBolt(path string, maxLen int) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt log: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTopics)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create topics bucket: %w", err)
	}
	var keep uint64
	if maxLen > 0 {
		keep = uint64(maxLen)
	}
	return &Bolt{db: db, maxLen: keep, wake: newSignal()}, nil
}

func (b *Bolt) Append(ctx context.Context, topic string, fields map[string]string) (EntryID, error) {
	if err := ValidateTopic(topic); err != nil {
		return 0, err
	}
	if b.closed.Load() {
		return 0, ErrClosed
	}
	data, err := json.Marshal(copyFields(fields))
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}

	var id uint64
	err = b.db.Update(func(tx *bolt.Tx) error {
		tb, err := tx.Bucket(bucketTopics).CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return err
		}
		id, err = tb.NextSequence()
		if err != nil {
			return err
		}
		if err := tb.Put(itob(id), data); err != nil {
			return err
		}
		if b.maxLen > 0 && id > b.maxLen {
			return tb.Delete(itob(id - b.maxLen))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", topic, err)
	}

	b.wake.broadcast()
	return EntryID(id), nil
}

func (b *Bolt) ReadRange(ctx context.Context, topic string, from, to EntryID, limit int) ([]Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	limit = rangeLimit(limit)

	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTopics).Bucket([]byte(topic))
		if tb == nil {
			return nil
		}
		c := tb.Cursor()
		for k, v := c.Seek(itob(uint64(from))); k != nil; k, v = c.Next() {
			id := EntryID(binary.BigEndian.Uint64(k))
			if to != 0 && id > to {
				break
			}
			e, err := decodeBoltEntry(topic, id, v)
			if err != nil {
				return err
			}
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", topic, err)
	}
	return out, nil
}

func (b *Bolt) ReadLatest(ctx context.Context, topic string) (*Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var latest *Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTopics).Bucket([]byte(topic))
		if tb == nil {
			return nil
		}
		k, v := tb.Cursor().Last()
		if k == nil {
			return nil
		}
		e, err := decodeBoltEntry(topic, EntryID(binary.BigEndian.Uint64(k)), v)
		if err != nil {
			return err
		}
		latest = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read latest %s: %w", topic, err)
	}
	return latest, nil
}

func (b *Bolt) ReadSince(ctx context.Context, topics []string, after []EntryID, limit int, block time.Duration) (map[string][]Entry, error) {
	if err := checkSinceArgs(topics, after); err != nil {
		return nil, err
	}
	limit = rangeLimit(limit)
	return waitForEntries(ctx, block, b.wake, func() (map[string][]Entry, error) {
		if b.closed.Load() {
			return nil, ErrClosed
		}
		out := make(map[string][]Entry)
		for i, topic := range topics {
			batch, err := b.ReadRange(ctx, topic, after[i]+1, 0, limit)
			if err != nil {
				return nil, err
			}
			if len(batch) > 0 {
				out[topic] = batch
			}
		}
		return out, nil
	})
}

// Close closes the underlying database and wakes blocked readers.
func (b *Bolt) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.wake.broadcast()
	return b.db.Close()
}

func decodeBoltEntry(topic string, id EntryID, v []byte) (Entry, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal(v, &fields); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s/%d: %w", topic, id, err)
	}
	return Entry{Topic: topic, ID: id, Fields: fields}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
