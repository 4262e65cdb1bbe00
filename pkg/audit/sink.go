package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// Sink receives audit entries after the owning record has been committed.
type Sink interface {
	Publish(ctx context.Context, entry contracts.AuditEntry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry contracts.AuditEntry) error

func (f SinkFunc) Publish(ctx context.Context, entry contracts.AuditEntry) error {
	return f(ctx, entry)
}

type writerSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink writes each entry as one "AUDIT: "-prefixed JSON line.
// A nil writer means os.Stdout.
func NewWriterSink(w io.Writer) Sink {
	if w == nil {
		w = os.Stdout
	}
	return &writerSink{writer: w}
}

func (s *writerSink) Publish(_ context.Context, entry contracts.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
	return err
}

// Discard drops every entry.
var Discard Sink = SinkFunc(func(context.Context, contracts.AuditEntry) error { return nil })
