package splithttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/progress"
)

// tracker is the single owner of the ledger and the progress sink while
// ranges are being fetched; fetchers talk to it only through events.
type tracker struct {
	events chan trackerEvent
	done   chan struct{}
}

type trackerEvent struct {
	bytes    int64
	complete *Range
	reply    chan error
}

func startTracker(ledger *Ledger, sink progress.Sink) *tracker {
	t := &tracker{
		events: make(chan trackerEvent, 100),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for ev := range t.events {
			if ev.complete != nil {
				ev.reply <- ledger.RecordComplete(*ev.complete)
				continue
			}
			sink.Add(ev.bytes)
		}
	}()
	return t
}

func (t *tracker) progress(n int64) {
	t.events <- trackerEvent{bytes: n}
}

func (t *tracker) complete(r Range) error {
	reply := make(chan error, 1)
	t.events <- trackerEvent{complete: &r, reply: reply}
	return <-reply
}

func (t *tracker) close() {
	close(t.events)
	<-t.done
}

// watchdog cancels a request when no bytes arrive for the configured timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})
	return w
}

func (w *watchdog) kick() {
	w.timer.Reset(w.timeout)
}

func (w *watchdog) stop() {
	w.timer.Stop()
}

func (w *watchdog) explain(err error) error {
	if w.fired.Load() {
		return fmt.Errorf("no data received for %s: %w", w.timeout, context.DeadlineExceeded)
	}
	return err
}

// fetchRange writes exactly the bytes of r at offset r.Start, then flushes the
// file and records r. Nothing is recorded unless every byte was written.
func (e *Engine) fetchRange(ctx context.Context, link string, r Range, file *os.File, t *tracker) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return &RangeError{Range: r, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End))
	req.Header.Set("Connection", "keep-alive")
	resp, err := e.client.Do(req)
	if err != nil {
		return &RangeError{Range: r, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &RangeError{Range: r, Status: resp.StatusCode}
	}

	wd := newWatchdog(e.opts.Timeout, cancel)
	defer wd.stop()

	body := io.Reader(resp.Body)
	if resp.StatusCode == http.StatusOK && r.Start > 0 {
		// full body despite the Range header: skip to our offset
		log.Debug().Str("op", "http/chunk-handlers").Msgf("Server ignored range %s, skipping %d bytes", r, r.Start)
		if _, err := io.CopyN(io.Discard, &kickReader{r: body, wd: wd}, r.Start); err != nil {
			return &RangeError{Range: r, Err: wd.explain(err)}
		}
	}

	want := r.Len()
	var written int64
	buffer := make([]byte, e.opts.ChunkSize)
	for written < want {
		if err := parent.Err(); err != nil {
			return &RangeError{Range: r, Err: err}
		}
		n, readErr := body.Read(buffer)
		wd.kick()
		if n > 0 {
			chunk := buffer[:n]
			overrun := false
			if remaining := want - written; int64(n) > remaining {
				chunk = chunk[:remaining]
				overrun = true
			}
			if _, err := file.WriteAt(chunk, r.Start+written); err != nil {
				return &RangeError{Range: r, Err: fmt.Errorf("error writing to working file: %w", err)}
			}
			written += int64(len(chunk))
			t.progress(int64(len(chunk)))
			if overrun {
				log.Debug().Str("op", "http/chunk-handlers").Err(errRangeOverrun).Msgf("Clamped range %s", r)
				break
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if err := parent.Err(); err != nil {
				return &RangeError{Range: r, Err: err}
			}
			return &RangeError{Range: r, Err: wd.explain(readErr)}
		}
	}
	if written != want {
		return &RangeError{Range: r, Err: fmt.Errorf("size mismatch: expected %d bytes, got %d: %w", want, written, io.ErrUnexpectedEOF)}
	}
	if err := file.Sync(); err != nil {
		return &RangeError{Range: r, Err: fmt.Errorf("error flushing working file: %w", err)}
	}
	if err := t.complete(r); err != nil {
		return &RangeError{Range: r, Err: fmt.Errorf("error recording range: %w", err)}
	}
	return nil
}

type kickReader struct {
	r  io.Reader
	wd *watchdog
}

func (k *kickReader) Read(p []byte) (int, error) {
	n, err := k.r.Read(p)
	k.wd.kick()
	return n, err
}
