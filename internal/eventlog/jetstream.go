package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig tunes how topics map onto JetStream streams.
type JetStreamConfig struct {
	// Prefix namespaces stream names and subjects (default "CAFE").
	Prefix string
	// Replicas is the stream replication factor (default 1).
	Replicas int
	// MaxMsgs caps each stream; 0 keeps everything.
	MaxMsgs int64
	// MaxAge expires old entries; 0 keeps everything.
	MaxAge time.Duration
}

// JetStream is a Log backed by NATS JetStream. Each topic is its own stream,
// so the stream sequence is the entry ID and is shared by every server
// instance connected to the same NATS cluster.
type JetStream struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	cfg      JetStreamConfig
	ownsConn bool

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

var _ Log = (*JetStream)(nil)

// ConnectJetStream dials url with automatic reconnection and returns a log
// that owns the connection. Extra nats.Option values are appended.
func ConnectJetStream(url string, cfg JetStreamConfig, opts ...nats.Option) (*JetStream, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	l, err := NewJetStream(nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	l.ownsConn = true
	return l, nil
}

// NewJetStream wraps an existing connection. The caller keeps ownership of nc.
func NewJetStream(nc *nats.Conn, cfg JetStreamConfig) (*JetStream, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "CAFE"
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &JetStream{
		nc:      nc,
		js:      js,
		cfg:     cfg,
		streams: make(map[string]jetstream.Stream),
	}, nil
}

func (l *JetStream) streamName(topic string) string {
	return strings.ToUpper(l.cfg.Prefix + "_" + strings.ReplaceAll(topic, "-", "_"))
}

func (l *JetStream) subject(topic string) string {
	return strings.ToLower(l.cfg.Prefix) + ".events." + topic
}

// stream returns the stream for topic. When create is false a missing stream
// yields (nil, nil) so readers treat unknown topics as empty.
func (l *JetStream) stream(ctx context.Context, topic string, create bool) (jetstream.Stream, error) {
	l.mu.Lock()
	s, ok := l.streams[topic]
	l.mu.Unlock()
	if ok {
		return s, nil
	}

	var err error
	if create {
		s, err = l.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      l.streamName(topic),
			Subjects:  []string{l.subject(topic)},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			Replicas:  l.cfg.Replicas,
			MaxMsgs:   l.cfg.MaxMsgs,
			MaxAge:    l.cfg.MaxAge,
		})
	} else {
		s, err = l.js.Stream(ctx, l.streamName(topic))
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stream for %s: %w", topic, err)
	}

	l.mu.Lock()
	l.streams[topic] = s
	l.mu.Unlock()
	return s, nil
}

func (l *JetStream) Append(ctx context.Context, topic string, fields map[string]string) (EntryID, error) {
	if err := ValidateTopic(topic); err != nil {
		return 0, err
	}
	if _, err := l.stream(ctx, topic, true); err != nil {
		return 0, err
	}
	data, err := json.Marshal(copyFields(fields))
	if err != nil {
		return 0, fmt.Errorf("marshal fields: %w", err)
	}
	ack, err := l.js.Publish(ctx, l.subject(topic), data, jetstream.WithExpectStream(l.streamName(topic)))
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", topic, err)
	}
	return EntryID(ack.Sequence), nil
}

func (l *JetStream) ReadRange(ctx context.Context, topic string, from, to EntryID, limit int) ([]Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	s, err := l.stream(ctx, topic, false)
	if err != nil || s == nil {
		return nil, err
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info %s: %w", topic, err)
	}
	first, last := EntryID(info.State.FirstSeq), EntryID(info.State.LastSeq)
	if last == 0 {
		return nil, nil
	}
	start := from
	if start < first {
		start = first
	}
	if start == 0 {
		start = 1
	}
	end := last
	if to != 0 && to < end {
		end = to
	}
	limit = rangeLimit(limit)

	var out []Entry
	for seq := start; seq <= end && len(out) < limit; seq++ {
		msg, err := s.GetMsg(ctx, uint64(seq))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue // deleted or expired
		}
		if err != nil {
			return nil, fmt.Errorf("get %s/%d: %w", topic, seq, err)
		}
		e, err := decodeRawMsg(topic, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *JetStream) ReadLatest(ctx context.Context, topic string) (*Entry, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	s, err := l.stream(ctx, topic, false)
	if err != nil || s == nil {
		return nil, err
	}
	msg, err := s.GetLastMsgForSubject(ctx, l.subject(topic))
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message %s: %w", topic, err)
	}
	e, err := decodeRawMsg(topic, msg)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ReadSince polls each topic's stream. When block > 0 it first subscribes to
// the topic subjects on the core connection, so an append that lands after
// the read still wakes the wait.
func (l *JetStream) ReadSince(ctx context.Context, topics []string, after []EntryID, limit int, block time.Duration) (map[string][]Entry, error) {
	if err := checkSinceArgs(topics, after); err != nil {
		return nil, err
	}

	var notify chan struct{}
	if block > 0 {
		notify = make(chan struct{}, 1)
		for _, topic := range topics {
			sub, err := l.nc.Subscribe(l.subject(topic), func(*nats.Msg) {
				select {
				case notify <- struct{}{}:
				default:
				}
			})
			if err != nil {
				return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
			}
			defer sub.Unsubscribe() //nolint:errcheck
		}
		if err := l.nc.Flush(); err != nil {
			return nil, fmt.Errorf("flushing subscriptions: %w", err)
		}
	}

	read := func() (map[string][]Entry, error) {
		out := make(map[string][]Entry)
		for i, topic := range topics {
			batch, err := l.ReadRange(ctx, topic, after[i]+1, 0, limit)
			if err != nil {
				return nil, err
			}
			if len(batch) > 0 {
				out[topic] = batch
			}
		}
		return out, nil
	}

	out, err := read()
	if err != nil || len(out) > 0 || block <= 0 {
		return out, err
	}

	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return map[string][]Entry{}, nil
		case <-notify:
			out, err := read()
			if err != nil || len(out) > 0 {
				return out, err
			}
		}
	}
}

// Close closes the NATS connection when the log owns it.
func (l *JetStream) Close() error {
	if l.ownsConn {
		l.nc.Close()
	}
	return nil
}

func decodeRawMsg(topic string, msg *jetstream.RawStreamMsg) (Entry, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal(msg.Data, &fields); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s/%d: %w", topic, msg.Sequence, err)
	}
	return Entry{Topic: topic, ID: EntryID(msg.Sequence), Fields: fields}, nil
}
