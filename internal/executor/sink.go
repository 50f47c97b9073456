package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kestrelworks/conductor/internal/validation"
)

// FileSink appends escalations to a JSON-lines file so a human can
// review them out of band.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to the given path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Escalate appends the escalation as one JSON line.
func (s *FileSink) Escalate(_ context.Context, esc *validation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("sink: create directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", s.path, err)
	}
	defer f.Close()

	line, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("sink: encode escalation: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("sink: write escalation: %w", err)
	}
	return nil
}

// Verify FileSink implements the escalation sink at compile time.
var _ validation.Sink = (*FileSink)(nil)
