package splithttp

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/splitfetch/internal/progress"
	"github.com/tanq16/splitfetch/internal/utils"
)

func sortRanges(ranges []Range) []Range {
	out := slices.Clone(ranges)
	slices.SortFunc(out, func(a, b Range) int { return int(a.Start - b.Start) })
	return out
}

func assertNoSideCars(t *testing.T, dest string) {
	t.Helper()
	for _, p := range []string{utils.WorkingPath(dest), utils.LedgerPath(dest)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed, stat err = %v", p, err)
		}
	}
}

func TestDownloadRangeMode(t *testing.T) {
	data := newTestData(100_000)
	srv := &rangeServer{data: data, acceptRanges: true}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")
	counter := &progress.Counter{}

	res, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, counter)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file differs from the source")
	}
	if res.Mode != ModeRange || res.Total != int64(len(data)) || res.Resumed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Fetched) != 4 || len(srv.requestedRanges()) != 4 {
		t.Errorf("expected 4 ranges, fetched %v requested %v", res.Fetched, srv.requestedRanges())
	}
	total, completed, added, finished := counter.Snapshot()
	if total != int64(len(data)) || completed != 0 || added != int64(len(data)) || !finished {
		t.Errorf("unexpected progress total=%d completed=%d added=%d finished=%v", total, completed, added, finished)
	}
	assertNoSideCars(t, dest)
}

func TestPackageDownloadWithCallback(t *testing.T) {
	data := newTestData(4096)
	server := startServer(t, &rangeServer{data: data, acceptRanges: true})
	dest := filepath.Join(t.TempDir(), "out.bin")

	var received atomic.Int64
	sink := progress.Callback(func(n int64) { received.Add(n) })
	res, err := Download(context.Background(), server.URL, dest, Options{Concurrency: 2, Segments: 3}, sink)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Path != dest || res.Mode != ModeRange {
		t.Errorf("unexpected result %+v", res)
	}
	if received.Load() != int64(len(data)) {
		t.Errorf("callback received %d bytes, want %d", received.Load(), len(data))
	}
}

func TestDownloadResumesFromLedger(t *testing.T) {
	data := newTestData(1000)
	srv := &rangeServer{data: data, acceptRanges: true}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	// a previous run finished the first and third quarters
	working := make([]byte, 1000)
	copy(working[0:250], data[0:250])
	copy(working[500:750], data[500:750])
	if err := os.WriteFile(utils.WorkingPath(dest), working, 0644); err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(utils.LedgerPath(dest))
	ledger.Load(1000)
	for _, r := range []Range{{0, 249}, {500, 749}} {
		if err := ledger.RecordComplete(r); err != nil {
			t.Fatal(err)
		}
	}

	counter := &progress.Counter{}
	res, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, counter)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := []Range{{250, 499}, {750, 999}}
	if got := sortRanges(srv.requestedRanges()); !reflect.DeepEqual(got, want) {
		t.Errorf("expected only pending ranges %v, requested %v", want, got)
	}
	if res.Resumed != 500 {
		t.Errorf("expected 500 resumed bytes, got %d", res.Resumed)
	}
	_, completed, added, _ := counter.Snapshot()
	if completed != 500 || added != 500 {
		t.Errorf("expected progress to start at 500 and add 500, got %d and %d", completed, added)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed file differs from the source")
	}
	assertNoSideCars(t, dest)
}

func TestDownloadSingleStream(t *testing.T) {
	tests := []struct {
		name string
		srv  *rangeServer
	}{
		{"no range support", &rangeServer{data: newTestData(5000)}},
		{"unknown length", &rangeServer{data: newTestData(5000), acceptRanges: true, omitLength: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.srv)
			dest := filepath.Join(t.TempDir(), "out.bin")
			res, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, progress.Discard{})
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if res.Mode != ModeSingle {
				t.Errorf("expected single mode, got %s", res.Mode)
			}
			if n := len(tt.srv.requestedRanges()); n != 0 {
				t.Errorf("expected no range requests, got %d", n)
			}
			got, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.srv.data) {
				t.Error("downloaded file differs from the source")
			}
			assertNoSideCars(t, dest)
		})
	}
}

func TestDownloadFailureThenResume(t *testing.T) {
	data := newTestData(1000)
	var failing atomic.Bool
	failing.Store(true)
	srv := &rangeServer{data: data, acceptRanges: true}
	srv.failRange = func(start, end int64) bool {
		return failing.Load() && (start == 250 || start == 750)
	}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err == nil {
		t.Fatal("expected the first run to fail")
	}
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) || rangeErr.Status != http.StatusInternalServerError {
		t.Errorf("expected a RangeError with status 500, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination must not exist after a failed range run")
	}
	recorded := NewLedger(utils.LedgerPath(dest)).Load(1000)
	if len(recorded) != 2 {
		t.Fatalf("expected two recorded ranges, got %v", recorded)
	}
	for _, r := range []Range{{0, 249}, {500, 749}} {
		if _, ok := recorded[r]; !ok {
			t.Errorf("expected %v in the ledger", r)
		}
	}

	failing.Store(false)
	srv.resetRequests()
	res, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	want := []Range{{250, 499}, {750, 999}}
	if got := sortRanges(srv.requestedRanges()); !reflect.DeepEqual(got, want) {
		t.Errorf("expected resume to request %v, got %v", want, got)
	}
	if res.Resumed != 500 {
		t.Errorf("expected 500 resumed bytes, got %d", res.Resumed)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed file differs from the source")
	}
	assertNoSideCars(t, dest)
}

func TestDownloadWrongSizeWorkingFile(t *testing.T) {
	data := newTestData(1000)
	srv := &rangeServer{data: data, acceptRanges: true}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	if err := os.WriteFile(utils.WorkingPath(dest), make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(utils.LedgerPath(dest))
	ledger.Load(1000)
	if err := ledger.RecordComplete(Range{0, 249}); err != nil {
		t.Fatal(err)
	}

	res, err := testEngine(Options{Concurrency: 4}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Resumed != 0 || len(srv.requestedRanges()) != 4 {
		t.Errorf("expected every range to be refetched, resumed=%d requested=%v", res.Resumed, srv.requestedRanges())
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file differs from the source")
	}
}

func TestDownloadSegmentSizePolicy(t *testing.T) {
	data := newTestData(1000)
	srv := &rangeServer{data: data, acceptRanges: true}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := testEngine(Options{Concurrency: 2, SegmentSize: 300}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := []Range{{0, 299}, {300, 599}, {600, 899}, {900, 999}}
	if got := sortRanges(res.Fetched); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, fetched %v", want, got)
	}
}

func TestDownloadSegmentLargerThanResource(t *testing.T) {
	data := newTestData(1000)
	srv := &rangeServer{data: data, acceptRanges: true}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	res, err := testEngine(Options{SegmentSize: math.MaxInt64}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded file differs from the source")
	}
	if want := []Range{{0, 999}}; !reflect.DeepEqual(res.Fetched, want) {
		t.Errorf("expected fetched %v, got %v", want, res.Fetched)
	}
}

func TestDownloadBoundedConcurrency(t *testing.T) {
	data := newTestData(16_000)
	srv := &rangeServer{data: data, acceptRanges: true, delay: 20 * time.Millisecond}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := testEngine(Options{Concurrency: 3, Segments: 16}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	srv.mu.Lock()
	peak := srv.maxInflight
	srv.mu.Unlock()
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent range requests, saw %d", peak)
	}
	if n := len(srv.requestedRanges()); n != 16 {
		t.Errorf("expected 16 range requests, got %d", n)
	}
}

func TestDownloadCancelled(t *testing.T) {
	data := newTestData(1000)
	started := make(chan struct{})
	srv := &rangeServer{
		data:         data,
		acceptRanges: true,
		block: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			if start != 500 {
				return false
			}
			w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[start : start+100])
			w.(http.Flusher).Flush()
			close(started)
			<-r.Context().Done()
			return true
		},
	}
	server := startServer(t, srv)
	dest := filepath.Join(t.TempDir(), "out.bin")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := testEngine(Options{Concurrency: 4}).Download(ctx, server.URL, dest, progress.Discard{})
	cancel()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination must not exist after cancellation")
	}
	recorded := NewLedger(utils.LedgerPath(dest)).Load(1000)
	if _, ok := recorded[Range{500, 749}]; ok {
		t.Error("the interrupted range must not be recorded")
	}
	if _, statErr := os.Stat(utils.WorkingPath(dest)); statErr != nil {
		t.Errorf("working file should survive cancellation: %v", statErr)
	}
}

func TestDownloadProbeFailure(t *testing.T) {
	server := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := testEngine(Options{}).Download(context.Background(), server.URL, dest, progress.Discard{})
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("expected ErrProbeFailed, got %v", err)
	}
	assertNoSideCars(t, dest)
}
