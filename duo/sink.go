package duo

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// WriterSink writes one JSON object per line:
// {"endpoint": "<endpoint>", "event": <event>}.
type WriterSink struct {
	m sync.Mutex
	w io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

type sinkRecord struct {
	Endpoint string          `json:"endpoint"`
	Event    json.RawMessage `json:"event"`
}

func (s *WriterSink) Ship(ctx context.Context, endpoint string, event json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(sinkRecord{Endpoint: endpoint, Event: event})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.m.Lock()
	defer s.m.Unlock()
	_, err = s.w.Write(line)
	return err
}
