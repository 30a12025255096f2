package splithttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/splitfetch/internal/utils"
)

type rangeServer struct {
	data         []byte
	acceptRanges bool
	omitLength   bool
	headStatus   int
	extra        []byte
	failRange    func(start, end int64) bool
	block        func(w http.ResponseWriter, r *http.Request, start, end int64) bool
	delay        time.Duration

	mu          sync.Mutex
	requested   []Range
	inflight    int
	maxInflight int
}

func newTestData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/256)
	}
	return data
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.acceptRanges {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if r.Method == http.MethodHead {
		if s.headStatus != 0 {
			w.WriteHeader(s.headStatus)
			return
		}
		if !s.omitLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		}
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || !s.acceptRanges {
		if s.omitLength {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(s.data)))
		}
		w.Write(s.data)
		return
	}

	var start, end int64
	if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err != nil {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requested = append(s.requested, Range{Start: start, End: end})
	s.inflight++
	s.maxInflight = max(s.maxInflight, s.inflight)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failRange != nil && s.failRange(start, end) {
		time.Sleep(50 * time.Millisecond)
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if s.block != nil && s.block(w, r, start, end) {
		return
	}
	body := append(append([]byte{}, s.data[start:end+1]...), s.extra...)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(s.data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(body)
}

func (s *rangeServer) requestedRanges() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Range(nil), s.requested...)
}

func (s *rangeServer) resetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = nil
	s.maxInflight = 0
}

func startServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server
}

func testEngine(opts Options) *Engine {
	return New(utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second}), opts)
}
