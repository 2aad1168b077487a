// Package dispatch runs one polling loop per open stream connection: it tails
// the event log from the connection's cursor, filters entries for that
// connection and writes them out as frames, with a keepalive alongside.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/metrics"
)

// State is the lifecycle of a Dispatcher.
type State int32

const (
	Connecting State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrCancelled is returned by writes attempted after the dispatcher was cancelled.
var ErrCancelled = errors.New("dispatch: cancelled")

// Config tunes the poll and keepalive loops.
type Config struct {
	// PollInterval is the pause between poll cycles.
	PollInterval time.Duration
	// KeepaliveInterval is the period of keepalive frames.
	KeepaliveInterval time.Duration
	// BlockTimeout, when positive, makes each poll a blocking read that waits
	// up to this long for new entries. Successful cycles then run back to back.
	BlockTimeout time.Duration
	// BatchSize caps entries read per topic per cycle.
	BatchSize int
}

// DefaultConfig returns the stock intervals.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		BatchSize:         100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	return c
}

// Dispatcher streams one subscription to one connection.
type Dispatcher struct {
	id     string
	log    eventlog.Log
	sub    *Subscription
	w      FrameWriter
	cfg    Config
	logger *slog.Logger

	state      atomic.Int32
	ran        atomic.Bool
	done       chan struct{}
	cancelOnce sync.Once

	// writeMu serializes poll and keepalive writes.
	writeMu sync.Mutex
	// curMu guards sub.Cursor.
	curMu sync.Mutex
}

// New returns a dispatcher in the Connecting state. Authorization must have
// succeeded before Run is called.
func New(log eventlog.Log, sub *Subscription, w FrameWriter, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sub.Filter == nil {
		sub.Filter = AllEntries()
	}
	id := uuid.NewString()
	return &Dispatcher{
		id:     id,
		log:    log,
		sub:    sub,
		w:      w,
		cfg:    cfg.withDefaults(),
		logger: logger.With("conn", id),
		done:   make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (d *Dispatcher) ID() string { return d.id }

// State returns the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Done is closed once the dispatcher is cancelled.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Cursor returns a copy of the last position read per topic.
func (d *Dispatcher) Cursor() eventlog.Cursor {
	d.curMu.Lock()
	defer d.curMu.Unlock()
	return d.sub.Cursor.Clone()
}

// Cancel stops both loops. It is safe to call any number of times from any
// goroutine, before or during Run.
func (d *Dispatcher) Cancel() {
	d.cancelOnce.Do(func() {
		d.state.Store(int32(Closed))
		close(d.done)
	})
}

// Run writes the connected frame and then streams until ctx ends, Cancel is
// called, or a write fails. It returns after both loops have exited. A
// dispatcher runs at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.ran.CompareAndSwap(false, true) {
		return errors.New("dispatch: Run called twice")
	}
	defer d.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.done:
		case <-ctx.Done():
		}
		cancel()
	}()

	if err := d.write(connectedFrame(d.id, d.sub), false); err != nil {
		return nil
	}
	if !d.state.CompareAndSwap(int32(Connecting), int32(Streaming)) {
		return nil
	}

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()
	d.logger.Debug("stream opened", "topics", d.sub.Topics, "cursor", d.sub.Cursor.Encode())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.keepaliveLoop(ctx)
	}()

	d.pollLoop(ctx)
	d.Cancel()
	wg.Wait()

	d.logger.Debug("stream closed")
	return nil
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		ok := d.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if ok && d.cfg.BlockTimeout > 0 {
			continue
		}
		timer.Reset(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// poll runs one cycle. It reports false if the read failed or the connection
// went away.
func (d *Dispatcher) poll(ctx context.Context) bool {
	d.curMu.Lock()
	after := make([]eventlog.EntryID, len(d.sub.Topics))
	for i, topic := range d.sub.Topics {
		after[i] = d.sub.Cursor[topic]
	}
	d.curMu.Unlock()

	start := time.Now()
	batch, err := d.log.ReadSince(ctx, d.sub.Topics, after, d.cfg.BatchSize, d.cfg.BlockTimeout)
	metrics.StreamPollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.StreamPollErrors.Inc()
		d.logger.Warn("poll failed, retrying next cycle", "err", err)
		return false
	}

	for _, topic := range d.sub.Topics {
		for _, e := range batch[topic] {
			if !d.advance(topic, e.ID) {
				continue
			}
			if !d.sub.Filter(e) {
				metrics.StreamEntriesFiltered.Inc()
				continue
			}
			f, err := EntryFrame(e, d.Cursor())
			if err != nil {
				d.logger.Warn("dropping unencodable entry", "topic", topic, "id", e.ID, "err", err)
				continue
			}
			if err := d.write(f, false); err != nil {
				return false
			}
		}
	}
	return true
}

// advance moves the topic cursor to id. It reports false for entries at or
// behind the cursor, which have already been handled.
func (d *Dispatcher) advance(topic string, id eventlog.EntryID) bool {
	d.curMu.Lock()
	defer d.curMu.Unlock()
	if id <= d.sub.Cursor[topic] {
		return false
	}
	d.sub.Cursor[topic] = id
	return true
}

func (d *Dispatcher) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.write(Frame{}, true); err != nil {
				return
			}
		}
	}
}

// write sends one frame under the write lock. A failed write means the client
// is gone: the dispatcher cancels itself and the error is not logged.
func (d *Dispatcher) write(f Frame, keepalive bool) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	select {
	case <-d.done:
		return ErrCancelled
	default:
	}

	var err error
	if keepalive {
		err = d.w.WriteKeepalive()
	} else {
		err = d.w.WriteFrame(f)
	}
	if err != nil {
		d.Cancel()
		return err
	}
	if keepalive {
		metrics.StreamFramesSent.WithLabelValues("keepalive").Inc()
	} else {
		metrics.StreamFramesSent.WithLabelValues(f.Type).Inc()
	}
	return nil
}
