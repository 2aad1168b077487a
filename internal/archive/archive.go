package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cron "github.com/robfig/cron/v3"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/metrics"
)

// Destination stores one export under key.
type Destination interface {
	Write(ctx context.Context, key string, data []byte) error
}

// Lister is implemented by destinations that can enumerate stored keys.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver exports new entries of each topic since its last successful run.
// A topic's mark only advances once every destination accepted its export.
// On its first run the marks are recovered from the keys already stored in
// destinations that implement Lister.
type Archiver struct {
	log          eventlog.Log
	topics       []string
	destinations []Destination
	prefix       string
	logger       *slog.Logger

	mu     sync.Mutex
	mark   eventlog.Cursor
	loaded bool

	cron *cron.Cron
	wg   sync.WaitGroup
}

// New creates an archiver for topics. Prefix is prepended to every object key.
func New(log eventlog.Log, topics []string, destinations []Destination, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		log:          log,
		topics:       topics,
		destinations: destinations,
		prefix:       prefix,
		logger:       logger,
		mark:         make(eventlog.Cursor, len(topics)),
	}
}

// Marks returns the last archived entry ID per topic.
func (a *Archiver) Marks() eventlog.Cursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mark.Clone()
}

// RunOnce exports every topic once. Topics are independent: a failure on one
// is reported but does not stop the others.
func (a *Archiver) RunOnce(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		if err := a.loadMarks(ctx); err != nil {
			a.logger.Error("archive marks not recovered", "err", err)
			metrics.ArchiveRuns.WithLabelValues("error").Inc()
			return err
		}
		a.loaded = true
	}

	var errs []error
	for _, topic := range a.topics {
		n, err := a.exportTopic(ctx, topic)
		if err != nil {
			a.logger.Error("archive export failed", "topic", topic, "err", err)
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			metrics.ArchivedEntries.WithLabelValues(topic).Add(float64(n))
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return err
	}
	metrics.ArchiveRuns.WithLabelValues("ok").Inc()
	return nil
}

// loadMarks sets each topic's mark to the newest entry every listing
// destination already holds.
func (a *Archiver) loadMarks(ctx context.Context) error {
	for _, topic := range a.topics {
		var (
			mark  eventlog.EntryID
			found bool
		)
		for i, dest := range a.destinations {
			l, ok := dest.(Lister)
			if !ok {
				continue
			}
			keys, err := l.List(ctx, topicPrefix(a.prefix, topic))
			if err != nil {
				return fmt.Errorf("destination %d: %w", i, err)
			}
			var newest eventlog.EntryID
			for _, key := range keys {
				if _, last, ok := ParseObjectKey(key); ok && last > newest {
					newest = last
				}
			}
			if !found || newest < mark {
				mark = newest
			}
			found = true
		}
		if mark > a.mark[topic] {
			a.mark[topic] = mark
			a.logger.Info("archive mark recovered", "topic", topic, "mark", mark)
		}
	}
	return nil
}

func (a *Archiver) exportTopic(ctx context.Context, topic string) (int, error) {
	entries, err := ReadAfter(ctx, a.log, topic, a.mark[topic])
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	if err := ExportJSONL(topic, entries, &buf); err != nil {
		return 0, err
	}
	first, last := entries[0].ID, entries[len(entries)-1].ID
	key := ObjectKey(a.prefix, topic, first, last)

	for i, dest := range a.destinations {
		if err := dest.Write(ctx, key, buf.Bytes()); err != nil {
			return 0, fmt.Errorf("destination %d: %w", i, err)
		}
	}
	a.mark[topic] = last
	a.logger.Info("archive completed", "topic", topic, "key", key, "entries", len(entries), "bytes", buf.Len())
	return len(entries), nil
}

// ParseSchedule validates a cron expression. Seconds are optional and
// descriptors such as "@every 1h" are accepted.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

// Start runs an export immediately, then on every tick of schedule.
func (a *Archiver) Start(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", schedule, err)
	}
	a.cron = cron.New()
	a.cron.Schedule(sched, cron.FuncJob(func() {
		_ = a.RunOnce(ctx)
	}))
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.RunOnce(ctx)
	}()
	a.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running export to finish.
func (a *Archiver) Stop() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
	a.wg.Wait()
}
