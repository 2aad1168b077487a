package client

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxFrameLine = 1 << 20

// sseEvent is one dispatched block of an event stream. Retry is non-zero
// when the block carried a valid retry field.
type sseEvent struct {
	ID    string
	Type  string
	Data  []byte
	Retry time.Duration
}

// sseScanner reads events from a text/event-stream body. Comment lines are
// skipped and the last event ID persists across events.
type sseScanner struct {
	s      *bufio.Scanner
	lastID string
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxFrameLine)
	return &sseScanner{s: s}
}

// Next returns the next block that set at least one field. It returns
// io.EOF when the body ends cleanly.
func (p *sseScanner) Next() (sseEvent, error) {
	var (
		ev      sseEvent
		data    bytes.Buffer
		hasData bool
		touched bool
	)
	for p.s.Scan() {
		line := p.s.Text()
		if line == "" {
			if !touched {
				continue
			}
			ev.ID = p.lastID
			if hasData {
				ev.Data = append([]byte{}, data.Bytes()...)
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				p.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				ev.Retry = time.Duration(ms) * time.Millisecond
			}
		default:
			continue
		}
		touched = true
	}
	if err := p.s.Err(); err != nil {
		return sseEvent{}, err
	}
	return sseEvent{}, io.EOF
}
