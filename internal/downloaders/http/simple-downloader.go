package splithttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/progress"
)

// downloadSingle streams the whole body straight into the destination. There
// is no ledger here, so a failure leaves a truncated destination and a retry
// starts from zero.
func (e *Engine) downloadSingle(ctx context.Context, j *downloadJob, sink progress.Sink) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, j.fail(fmt.Errorf("error creating GET request: %w", err))
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, j.fail(fmt.Errorf("error executing GET request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, j.fail(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	total := max(resp.ContentLength, 0)

	if err := os.MkdirAll(filepath.Dir(j.dest), 0755); err != nil {
		return nil, j.fail(fmt.Errorf("error creating output directory: %w", err))
	}
	outFile, err := os.Create(j.dest)
	if err != nil {
		return nil, j.fail(fmt.Errorf("error creating output file: %w", err))
	}
	defer outFile.Close()

	j.transition(StateFetching)
	sink.Start(total, 0)
	wd := newWatchdog(e.opts.Timeout, cancel)
	written, err := copyChunks(ctx, outFile, resp.Body, e.opts.ChunkSize, sink, wd)
	wd.stop()
	sink.Finish()
	if err != nil {
		return nil, j.fail(err)
	}
	if total > 0 && written != total {
		return nil, j.fail(fmt.Errorf("size mismatch: expected %d bytes, got %d: %w", total, written, io.ErrUnexpectedEOF))
	}

	j.transition(StateFinalizing)
	if err := outFile.Sync(); err != nil {
		return nil, j.fail(fmt.Errorf("error flushing output file: %w", err))
	}
	j.transition(StateDone)
	log.Info().Str("op", "http/simple-downloader").Msgf("Simple download successful for %s", j.dest)
	return &Result{Path: j.dest, Mode: ModeSingle, Total: written}, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, sink progress.Sink, wd *watchdog) (int64, error) {
	buffer := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, wd.explain(err)
		}
		n, readErr := src.Read(buffer)
		wd.kick()
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return written, fmt.Errorf("error writing to output file: %w", err)
			}
			written += int64(n)
			sink.Add(int64(n))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("error reading response body: %w", wd.explain(readErr))
		}
	}
}
