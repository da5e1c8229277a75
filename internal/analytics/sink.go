// Package analytics receives best-effort intent outcome records. Nothing
// here participates in the commit path: records are dropped under pressure
// rather than stalling the tick loop.
package analytics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"agentcity.ai/internal/engine"
)

// JSONLSink appends outcome records to hour-rotated zstd-compressed JSONL
// files through a buffered channel.
type JSONLSink struct {
	w *jsonlZstdWriter

	ch   chan engine.IntentOutcome
	wg   sync.WaitGroup
	once sync.Once

	// mu orders in-flight sends before close(ch): Record holds the read
	// side for the whole send, Close takes the write side to flip closed.
	mu     sync.RWMutex
	closed bool
}

func NewJSONLSink(baseDir string) *JSONLSink {
	s := &JSONLSink{
		w:  newJSONLZstdWriter(filepath.Join(baseDir, "outcomes"), "outcomes"),
		ch: make(chan engine.IntentOutcome, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rec := range s.ch {
			_ = s.w.write(rec)
		}
	}()
	return s
}

func (s *JSONLSink) RecordIntentOutcome(rec engine.IntentOutcome) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
		// Drop when the writer falls behind; the events table is the audit
		// source of truth.
	}
}

func (s *JSONLSink) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
		s.wg.Wait()
		err = s.w.close()
	})
	return err
}

type jsonlZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func newJSONLZstdWriter(baseDir, prefix string) *jsonlZstdWriter {
	return &jsonlZstdWriter{baseDir: baseDir, prefix: prefix}
}

func (w *jsonlZstdWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *jsonlZstdWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *jsonlZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err
}
