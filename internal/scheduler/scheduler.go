package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/downloaders/av"
	splithttp "github.com/tanq16/splitfetch/internal/downloaders/http"
	"github.com/tanq16/splitfetch/internal/downloaders/s3"
	"github.com/tanq16/splitfetch/internal/downloaders/stream"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/progress"
	"github.com/tanq16/splitfetch/internal/utils"
)

// downloaderRegistry maps job types to their respective downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"http":   &splithttp.HTTPDownloader{},
	"av":     &av.AVDownloader{},
	"stream": &stream.StreamDownloader{},
	"s3":     &s3.S3Downloader{},
}

// Run executes the jobs on numWorkers workers. With display set, progress is
// rendered by the output manager; otherwise each job draws its own bar.
func Run(ctx context.Context, jobs []utils.Job, numWorkers int, display bool) error {
	var outputMgr *output.Manager
	if display {
		outputMgr = output.NewManager()
		outputMgr.StartDisplay()
		defer outputMgr.StopDisplay()
	}
	return run(ctx, downloaderRegistry, jobs, numWorkers, outputMgr)
}

func run(ctx context.Context, registry map[string]utils.Downloader, jobs []utils.Job, numWorkers int, outputMgr *output.Manager) error {
	jobCh := make(chan utils.Job, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		jobCh <- job
	}
	close(jobCh)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for range max(1, min(numWorkers, len(jobs))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := processJob(ctx, registry, &job, outputMgr); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

type reporter struct {
	id        string
	outputMgr *output.Manager
}

func (r reporter) message(msg string) {
	if r.outputMgr != nil {
		r.outputMgr.SetMessage(r.id, msg)
		return
	}
	log.Info().Str("op", "scheduler/scheduler").Str("job", r.id).Msg(msg)
}

func (r reporter) fail(label string, err error) error {
	if r.outputMgr != nil {
		r.outputMgr.ReportError(r.id, err)
	} else {
		output.PrintError(fmt.Sprintf("%s %s: %v", output.StyleSymbols["fail"], label, err))
	}
	log.Error().Str("op", "scheduler/scheduler").Str("job", r.id).Err(err).Msgf("Job failed for %s", label)
	return err
}

func (r reporter) complete(label string) {
	if r.outputMgr != nil {
		r.outputMgr.Complete(r.id, fmt.Sprintf("Completed %s", label))
		return
	}
	output.PrintSuccess(fmt.Sprintf("%s Completed %s", output.StyleSymbols["pass"], label))
}

func jobLabel(job *utils.Job) string {
	if job.OutputPath != "" {
		return job.OutputPath
	}
	return job.URL
}

func processJob(ctx context.Context, registry map[string]utils.Downloader, job *utils.Job, outputMgr *output.Manager) error {
	r := reporter{id: job.ID, outputMgr: outputMgr}
	if outputMgr != nil {
		outputMgr.Register(job.ID, jobLabel(job))
		job.Progress = outputMgr.Sink(job.ID)
		job.StreamFunc = func(line string) { outputMgr.AddStreamLine(job.ID, line) }
	} else if job.StreamFunc == nil {
		job.StreamFunc = func(line string) {
			log.Info().Str("op", "scheduler/scheduler").Str("job", job.ID).Msg(line)
		}
	}

	if err := ctx.Err(); err != nil {
		return r.fail(jobLabel(job), err)
	}
	downloader, exists := registry[job.JobType]
	if !exists {
		return r.fail(jobLabel(job), fmt.Errorf("unknown job type: %s", job.JobType))
	}

	r.message(fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(job); err != nil {
		return r.fail(jobLabel(job), fmt.Errorf("validation failed: %w", err))
	}
	r.message(fmt.Sprintf("Building %s job", job.JobType))
	if err := downloader.BuildJob(job); err != nil {
		return r.fail(jobLabel(job), fmt.Errorf("build failed: %w", err))
	}

	label := jobLabel(job)
	if job.Progress == nil {
		job.Progress = progress.NewTerminal(label)
	}
	r.message(fmt.Sprintf("Downloading %s", label))
	if err := downloader.Download(ctx, job); err != nil {
		return r.fail(label, fmt.Errorf("download failed: %w", err))
	}
	log.Info().Str("op", "scheduler/scheduler").Str("job", job.ID).Msgf("Job completed for %s", label)
	r.complete(label)
	return nil
}
