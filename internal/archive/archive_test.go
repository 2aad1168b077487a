package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
)

// mockDestination records calls to Write.
type mockDestination struct {
	mu     sync.Mutex
	writes map[string][]byte
	keys   []string
	err    error
}

func (d *mockDestination) Write(_ context.Context, key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.writes == nil {
		d.writes = make(map[string][]byte)
	}
	d.writes[key] = append([]byte(nil), data...)
	d.keys = append(d.keys, key)
	return nil
}

func (d *mockDestination) List(_ context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, k := range d.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (d *mockDestination) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func appendN(t *testing.T, log eventlog.Log, topic string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := log.Append(context.Background(), topic, map[string]string{"orderId": "ord-1", "status": "PENDING"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(events.TopicOrderCreated, nil, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.Count != 0 || h.Topic != events.TopicOrderCreated {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Entries(t *testing.T) {
	entries := []eventlog.Entry{
		{Topic: "order-created", ID: 7, Fields: map[string]string{"orderId": "a<b"}},
		{Topic: "order-created", ID: 9, Fields: map[string]string{"orderId": "c"}},
	}
	var buf bytes.Buffer
	if err := ExportJSONL("order-created", entries, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var h header
	json.Unmarshal([]byte(lines[0]), &h) //nolint:errcheck
	if h.FirstID != 7 || h.LastID != 9 || h.Count != 2 {
		t.Errorf("header = %+v", h)
	}
	if !strings.Contains(lines[1], `"orderId":"a<b"`) {
		t.Errorf("HTML escaping applied: %s", lines[1])
	}
	var rec struct {
		Type string         `json:"type"`
		Data eventlog.Entry `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Type != "entry" || rec.Data.ID != 9 || rec.Data.Fields["orderId"] != "c" {
		t.Errorf("record = %+v", rec)
	}

	mixed := append(entries, eventlog.Entry{Topic: "low-stock-alert", ID: 1})
	if err := ExportJSONL("order-created", mixed, io.Discard); err == nil {
		t.Error("expected error for entry from another topic")
	}
}

func TestReadAfter_Pages(t *testing.T) {
	log := eventlog.NewMemory(0)
	appendN(t, log, events.TopicOrderCreated, eventlog.DefaultRangeLimit+5)

	all, err := ReadAfter(context.Background(), log, events.TopicOrderCreated, 0)
	if err != nil {
		t.Fatalf("ReadAfter: %v", err)
	}
	if len(all) != eventlog.DefaultRangeLimit+5 {
		t.Fatalf("got %d entries", len(all))
	}
	for i, e := range all {
		if e.ID != eventlog.EntryID(i+1) {
			t.Fatalf("entry %d has ID %d", i, e.ID)
		}
	}

	tail, err := ReadAfter(context.Background(), log, events.TopicOrderCreated, eventlog.EntryID(len(all)-2))
	if err != nil || len(tail) != 2 {
		t.Fatalf("tail = %d entries, %v", len(tail), err)
	}
}

func TestArchiver_Incremental(t *testing.T) {
	log := eventlog.NewMemory(0)
	dest := &mockDestination{}
	a := New(log, []string{events.TopicOrderCreated, events.TopicLowStockAlert}, []Destination{dest}, "cafe", quietLogger())
	ctx := context.Background()

	appendN(t, log, events.TopicOrderCreated, 3)
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	appendN(t, log, events.TopicOrderCreated, 2)
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := []string{
		ObjectKey("cafe", events.TopicOrderCreated, 1, 3),
		ObjectKey("cafe", events.TopicOrderCreated, 4, 5),
	}
	got := dest.written()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("keys = %q, want %q", got, want)
	}
	if n := len(nonEmptyLines(string(dest.writes[want[1]]))); n != 3 {
		t.Errorf("second export has %d lines, want 3", n)
	}
	if m := a.Marks(); m[events.TopicOrderCreated] != 5 || m[events.TopicLowStockAlert] != 0 {
		t.Errorf("marks = %v", m)
	}
}

func TestArchiver_FailedDestinationKeepsMark(t *testing.T) {
	log := eventlog.NewMemory(0)
	dest := &mockDestination{err: errors.New("bucket gone")}
	a := New(log, []string{events.TopicOrderCreated}, []Destination{dest}, "", quietLogger())
	ctx := context.Background()

	appendN(t, log, events.TopicOrderCreated, 2)
	if err := a.RunOnce(ctx); err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Fatalf("RunOnce = %v", err)
	}
	if m := a.Marks(); m[events.TopicOrderCreated] != 0 {
		t.Fatalf("mark advanced after failure: %v", m)
	}

	dest.mu.Lock()
	dest.err = nil
	dest.mu.Unlock()
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := dest.written(); len(got) != 1 || got[0] != ObjectKey("", events.TopicOrderCreated, 1, 2) {
		t.Errorf("retry keys = %q", got)
	}
}

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	d := &FileDestination{Dir: dir}
	key := ObjectKey("cafe", "order-created", 1, 2)
	if err := d.Write(context.Background(), key, []byte("line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "line\n" {
		t.Errorf("content = %q", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "cafe", "order-created", ".archive-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	err  error
	keys []string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.keys {
		if strings.HasPrefix(k, *in.Prefix) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, f.err
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakeS3{}
	d := &S3Destination{client: fake, bucket: "archive"}
	if err := d.Write(context.Background(), "cafe/x.jsonl", []byte("{}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if *fake.in.Bucket != "archive" || *fake.in.Key != "cafe/x.jsonl" || *fake.in.ContentType != "application/x-ndjson" {
		t.Errorf("input = bucket %s key %s type %s", *fake.in.Bucket, *fake.in.Key, *fake.in.ContentType)
	}
	body, _ := io.ReadAll(fake.in.Body)
	if string(body) != "{}\n" {
		t.Errorf("body = %q", body)
	}

	fake.err = errors.New("denied")
	if err := d.Write(context.Background(), "k", nil); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("err = %v", err)
	}
}

func TestArchiver_StartStop(t *testing.T) {
	log := eventlog.NewMemory(0)
	appendN(t, log, events.TopicOrderCreated, 1)
	dest := &mockDestination{}
	a := New(log, []string{events.TopicOrderCreated}, []Destination{dest}, "", quietLogger())

	if err := a.Start(context.Background(), "@every 20ms"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(dest.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.Stop()
	if len(dest.written()) != 1 {
		t.Fatalf("writes = %q, want exactly the initial export", dest.written())
	}

	if err := New(log, nil, nil, "", nil).Start(context.Background(), "every hour"); err == nil {
		t.Error("expected invalid schedule error")
	}
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 * * * *", "*/30 * * * * *", "@hourly", "@every 5m"} {
		if _, err := ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
}

func TestArchiver_RecoversMarksAfterRestart(t *testing.T) {
	log := eventlog.NewMemory(0)
	dir := t.TempDir()
	ctx := context.Background()

	appendN(t, log, events.TopicOrderCreated, 3)
	first := New(log, []string{events.TopicOrderCreated}, []Destination{&FileDestination{Dir: dir}}, "cafe", quietLogger())
	if err := first.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	appendN(t, log, events.TopicOrderCreated, 2)
	restarted := New(log, []string{events.TopicOrderCreated}, []Destination{&FileDestination{Dir: dir}}, "cafe", quietLogger())
	if err := restarted.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce after restart: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "cafe", events.TopicOrderCreated, "*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		filepath.Join(dir, filepath.FromSlash(ObjectKey("cafe", events.TopicOrderCreated, 1, 3))): true,
		filepath.Join(dir, filepath.FromSlash(ObjectKey("cafe", events.TopicOrderCreated, 4, 5))): true,
	}
	if len(files) != len(want) {
		t.Fatalf("files = %q, want exports 1-3 and 4-5 only", files)
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected export %s", f)
		}
	}
	if m := restarted.Marks(); m[events.TopicOrderCreated] != 5 {
		t.Errorf("marks = %v", m)
	}
}

func TestArchiver_RecoveryUsesLaggingDestination(t *testing.T) {
	log := eventlog.NewMemory(0)
	appendN(t, log, events.TopicOrderCreated, 6)
	ahead := &mockDestination{}
	ahead.Write(context.Background(), ObjectKey("", events.TopicOrderCreated, 1, 4), nil) //nolint:errcheck
	behind := &fakeS3{keys: []string{ObjectKey("", events.TopicOrderCreated, 1, 2), "order-created/notes.txt"}}

	a := New(log, []string{events.TopicOrderCreated}, []Destination{ahead, &S3Destination{client: behind, bucket: "b"}}, "", quietLogger())
	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if *behind.in.Key != ObjectKey("", events.TopicOrderCreated, 3, 6) {
		t.Errorf("exported %s, want entries 3-6", *behind.in.Key)
	}
}

func TestArchiver_ListFailureStopsRun(t *testing.T) {
	log := eventlog.NewMemory(0)
	appendN(t, log, events.TopicOrderCreated, 1)
	fake := &fakeS3{err: errors.New("access denied")}
	a := New(log, []string{events.TopicOrderCreated}, []Destination{&S3Destination{client: fake, bucket: "b"}}, "", quietLogger())
	if err := a.RunOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("RunOnce = %v", err)
	}
	if fake.in != nil {
		t.Error("exported without knowing what was already archived")
	}
}

func TestParseObjectKey(t *testing.T) {
	first, last, ok := ParseObjectKey(ObjectKey("cafe", "order-created", 12, 40))
	if !ok || first != 12 || last != 40 {
		t.Errorf("ParseObjectKey = %d, %d, %v", first, last, ok)
	}
	for _, bad := range []string{"cafe/order-created/notes.txt", "x/5.jsonl", "x/9-3.jsonl", "x/a-b.jsonl"} {
		if _, _, ok := ParseObjectKey(bad); ok {
			t.Errorf("ParseObjectKey(%q) accepted", bad)
		}
	}
}
