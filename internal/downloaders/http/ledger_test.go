package splithttp

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestLedgerMissingFile(t *testing.T) {
	l := NewLedger(filepath.Join(t.TempDir(), "out.bin.download.json"))
	if got := l.Load(1000); len(got) != 0 {
		t.Errorf("expected empty set, got %v", got)
	}
}

func TestLedgerRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	l := NewLedger(path)
	l.Load(1000)
	for _, r := range []Range{{0, 249}, {500, 749}} {
		if err := l.RecordComplete(r); err != nil {
			t.Fatalf("RecordComplete(%v): %v", r, err)
		}
	}

	got := NewLedger(path).Load(1000)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	for _, r := range []Range{{0, 249}, {500, 749}} {
		if _, ok := got[r]; !ok {
			t.Errorf("missing %v after reload", r)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		t.Fatalf("ledger is not valid JSON: %v", err)
	}
	if lf.Size != 1000 {
		t.Errorf("expected size 1000, got %d", lf.Size)
	}
}

func TestLedgerEveryPrefixIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	ranges, err := PlanSegments(10000, Policy{Segments: 16})
	if err != nil {
		t.Fatalf("PlanSegments: %v", err)
	}
	order := rand.New(rand.NewSource(42)).Perm(len(ranges))

	l := NewLedger(path)
	l.Load(10000)
	for i, idx := range order {
		if err := l.RecordComplete(ranges[idx]); err != nil {
			t.Fatalf("RecordComplete: %v", err)
		}
		got := NewLedger(path).Load(10000)
		if len(got) != i+1 {
			t.Fatalf("after %d records reload has %d entries", i+1, len(got))
		}
		for _, prev := range order[:i+1] {
			if _, ok := got[ranges[prev]]; !ok {
				t.Fatalf("after %d records %v is missing", i+1, ranges[prev])
			}
		}
	}
}

func TestLedgerCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	if err := os.WriteFile(path, []byte(`{"size":1000,"completed":[[0,24`), 0644); err != nil {
		t.Fatal(err)
	}
	if got := NewLedger(path).Load(1000); len(got) != 0 {
		t.Errorf("expected empty set for corrupt ledger, got %v", got)
	}
}

func TestLedgerSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	if err := os.WriteFile(path, []byte(`{"size":2000,"completed":[[0,999]]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if got := NewLedger(path).Load(1000); len(got) != 0 {
		t.Errorf("expected empty set for differently sized resource, got %v", got)
	}
}

func TestLedgerSkipsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	doc := `{"size":1000,"completed":[[0,249],[300,200],[-1,5],[900,1200],[0,249]]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	got := NewLedger(path).Load(1000)
	if len(got) != 1 {
		t.Fatalf("expected only the valid entry, got %v", got)
	}
	if _, ok := got[Range{0, 249}]; !ok {
		t.Errorf("expected 0-249 to survive, got %v", got)
	}
}

func TestLedgerDuplicateRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	l := NewLedger(path)
	l.Load(1000)
	for range 3 {
		if err := l.RecordComplete(Range{0, 499}); err != nil {
			t.Fatalf("RecordComplete: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		t.Fatal(err)
	}
	if len(lf.Completed) != 1 {
		t.Errorf("expected one entry on disk, got %v", lf.Completed)
	}
}

func TestLedgerConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	ranges, err := PlanSegments(64000, Policy{Segments: 64})
	if err != nil {
		t.Fatal(err)
	}
	l := NewLedger(path)
	l.Load(64000)

	var wg sync.WaitGroup
	for _, r := range ranges {
		wg.Add(1)
		go func(r Range) {
			defer wg.Done()
			if err := l.RecordComplete(r); err != nil {
				t.Errorf("RecordComplete(%v): %v", r, err)
			}
		}(r)
	}
	wg.Wait()

	got := NewLedger(path).Load(64000)
	if len(got) != len(ranges) {
		t.Errorf("expected %d entries, got %d", len(ranges), len(got))
	}
}

func TestLedgerResetAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin.download.json")
	l := NewLedger(path)
	l.Load(1000)
	if err := l.RecordComplete(Range{0, 499}); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(1000); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := NewLedger(path).Load(1000); len(got) != 0 {
		t.Errorf("expected empty ledger after reset, got %v", got)
	}

	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected ledger file to be removed, stat err = %v", err)
	}
	if err := l.Clear(); err != nil {
		t.Errorf("second Clear should be a no-op, got %v", err)
	}
}
