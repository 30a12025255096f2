package splithttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/progress"
	"github.com/tanq16/splitfetch/internal/utils"
)

type Engine struct {
	client *utils.HTTPClient
	opts   Options
}

func New(client *utils.HTTPClient, opts Options) *Engine {
	if opts.Timeout <= 0 && client != nil {
		opts.Timeout = client.Timeout()
	}
	opts = opts.withDefaults()
	if client == nil {
		client = utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: opts.Timeout})
	}
	return &Engine{client: client, opts: opts}
}

// Download fetches link into dest. A nil sink renders a terminal progress bar.
func Download(ctx context.Context, link, dest string, opts Options, sink progress.Sink) (*Result, error) {
	return New(nil, opts).Download(ctx, link, dest, sink)
}

type downloadJob struct {
	url         string
	dest        string
	workingPath string
	ledgerPath  string
	state       State
}

func (j *downloadJob) transition(s State) {
	log.Debug().Str("op", "http/multi-down").Str("dest", j.dest).Msgf("%s -> %s", j.state, s)
	j.state = s
}

func (j *downloadJob) fail(err error) error {
	j.transition(StateFailed)
	log.Error().Str("op", "http/multi-down").Err(err).Msgf("Download failed for %s", j.dest)
	return err
}

// Download runs one job. On failure in range mode the working file and the
// ledger stay on disk so an identical call resumes.
func (e *Engine) Download(ctx context.Context, link, dest string, sink progress.Sink) (*Result, error) {
	if sink == nil {
		sink = progress.NewTerminal(filepath.Base(dest))
	}
	j := &downloadJob{
		url:         link,
		dest:        dest,
		workingPath: utils.WorkingPath(dest),
		ledgerPath:  utils.LedgerPath(dest),
		state:       StateProbing,
	}
	caps, err := e.Probe(ctx, link)
	if err != nil {
		return nil, j.fail(err)
	}
	if caps.Size == 0 || !caps.RangeSupported {
		j.transition(StateSingleStreamMode)
		log.Info().Str("op", "http/multi-down").Msgf("Range requests not supported (size %d), using single connection", caps.Size)
		return e.downloadSingle(ctx, j, sink)
	}
	j.transition(StateRangeMode)

	j.transition(StatePlanning)
	plan, err := PlanSegments(caps.Size, e.opts.policy())
	if err != nil {
		return nil, j.fail(err)
	}

	j.transition(StateReconciling)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, j.fail(fmt.Errorf("error creating output directory: %w", err))
	}
	ledger := NewLedger(j.ledgerPath)
	completed := ledger.Load(caps.Size)
	file, fresh, err := openWorkingFile(j.workingPath, caps.Size)
	if err != nil {
		return nil, j.fail(err)
	}
	if fresh && len(completed) > 0 {
		log.Warn().Str("op", "http/multi-down").Msgf("Working file for %s was reallocated, discarding %d ledger entries", dest, len(completed))
		if err := ledger.Reset(caps.Size); err != nil {
			file.Close()
			return nil, j.fail(fmt.Errorf("error resetting ledger: %w", err))
		}
		completed = map[Range]struct{}{}
	}
	pending := make([]Range, 0, len(plan))
	var resumed int64
	for _, r := range plan {
		if _, ok := completed[r]; ok {
			resumed += r.Len()
			continue
		}
		pending = append(pending, r)
	}
	log.Debug().Str("op", "http/multi-down").Msgf("%d of %d ranges pending, %d bytes already complete", len(pending), len(plan), resumed)

	j.transition(StateFetching)
	sink.Start(caps.Size, resumed)
	t := startTracker(ledger, sink)
	fetched, fetchErr := e.fetchAll(ctx, link, pending, file, t)
	t.close()
	sink.Finish()
	if fetchErr != nil {
		file.Close()
		return nil, j.fail(fetchErr)
	}

	covered := resumed
	for _, r := range fetched {
		covered += r.Len()
	}
	if covered != caps.Size {
		file.Close()
		return nil, j.fail(fmt.Errorf("%w: ranges cover %d of %d bytes", ErrFinalize, covered, caps.Size))
	}

	j.transition(StateFinalizing)
	if err := file.Close(); err != nil {
		return nil, j.fail(fmt.Errorf("%w: error closing working file: %v", ErrFinalize, err))
	}
	if err := os.Rename(j.workingPath, dest); err != nil {
		return nil, j.fail(fmt.Errorf("%w: %v", ErrFinalize, err))
	}
	if err := ledger.Clear(); err != nil {
		log.Warn().Str("op", "http/multi-down").Err(err).Msgf("Could not remove ledger %s", j.ledgerPath)
	}
	j.transition(StateDone)
	log.Info().Str("op", "http/multi-down").Msgf("Download completed for %s", dest)
	return &Result{Path: dest, Mode: ModeRange, Total: caps.Size, Resumed: resumed, Fetched: fetched}, nil
}

// openWorkingFile opens the preallocated working file, creating and sizing it
// when it is missing or has the wrong size. fresh reports the latter case.
func openWorkingFile(path string, size int64) (file *os.File, fresh bool, err error) {
	if info, statErr := os.Stat(path); statErr == nil && info.Mode().IsRegular() && info.Size() == size {
		file, err = os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, false, fmt.Errorf("error opening working file: %w", err)
		}
		return file, false, nil
	}
	file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("error creating working file: %w", err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, false, fmt.Errorf("error preallocating working file: %w", err)
	}
	return file, true, nil
}

// fetchAll runs pending ranges on a bounded pool. After the first failure no
// new range is dispatched; ranges already in flight run to completion.
func (e *Engine) fetchAll(ctx context.Context, link string, pending []Range, file *os.File, t *tracker) ([]Range, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	var (
		mu      sync.Mutex
		errs    []error
		fetched []Range
		failed  bool
		wg      sync.WaitGroup
	)
	rangeCh := make(chan Range)
	workers := min(e.opts.Concurrency, len(pending))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rangeCh {
				err := e.fetchRange(ctx, link, r, file, t)
				mu.Lock()
				if err != nil {
					log.Debug().Str("op", "http/multi-down").Err(err).Msgf("Range %s failed", r)
					errs = append(errs, err)
					failed = true
				} else {
					fetched = append(fetched, r)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, r := range pending {
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
		select {
		case rangeCh <- r:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(rangeCh)
	wg.Wait()

	if len(errs) == 0 && ctx.Err() != nil && len(fetched) < len(pending) {
		errs = append(errs, ctx.Err())
	}
	return fetched, errors.Join(errs...)
}
