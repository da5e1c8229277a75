package analytics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"agentcity.ai/internal/engine"
)

func TestJSONLSink_WritesRecords(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONLSink(dir)

	for i := 0; i < 10; i++ {
		s.RecordIntentOutcome(engine.IntentOutcome{
			ActorID:    "A1",
			Tick:       uint64(i),
			IntentType: "WORK",
			Outcome:    engine.OutcomeSuccess,
		})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ents, err := os.ReadDir(filepath.Join(dir, "outcomes"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(ents) != 1 {
		t.Fatalf("file count = %d", len(ents))
	}

	f, err := os.Open(filepath.Join(dir, "outcomes", ents[0].Name()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var count int
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var rec engine.IntentOutcome
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d: %v", count, err)
		}
		if rec.Tick != uint64(count) || rec.IntentType != "WORK" {
			t.Fatalf("line %d: %+v", count, rec)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 10 {
		t.Fatalf("records = %d", count)
	}
}

func TestJSONLSink_ConcurrentRecordAndClose(t *testing.T) {
	s := NewJSONLSink(t.TempDir())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.RecordIntentOutcome(engine.IntentOutcome{ActorID: "A1", Tick: uint64(i)})
			}
		}()
	}
	// Close while recorders are mid-flight; no send may hit the closed
	// channel.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
}

func TestJSONLSink_RecordAfterCloseIsNoop(t *testing.T) {
	s := NewJSONLSink(t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic on the closed channel.
	s.RecordIntentOutcome(engine.IntentOutcome{ActorID: "A1"})
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
