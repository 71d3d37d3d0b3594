package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one server-sent event frame. Data joins multi-line data fields
// with newlines, per the event-stream format.
type sseEvent struct {
	Name string
	Data []byte
}

type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &sseReader{scanner: scanner}
}

// Next returns the next complete event, or io.EOF when the stream ends
// cleanly. Comment lines and id:/retry: fields are skipped.
func (r *sseReader) Next() (*sseEvent, error) {
	event := &sseEvent{}
	var data [][]byte
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if event.Name != "" || len(data) > 0 {
				event.Data = bytes.Join(data, []byte("\n"))
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			event.Name = strings.TrimSpace(name)
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, []byte(strings.TrimPrefix(value, " ")))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if event.Name != "" || len(data) > 0 {
		event.Data = bytes.Join(data, []byte("\n"))
		return event, nil
	}
	return nil, io.EOF
}
