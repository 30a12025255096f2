package splithttp

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Probe reports the resource size and range support. A HEAD request is tried
// first; when it fails for any reason a GET is issued and only its headers
// are read.
func (e *Engine) Probe(ctx context.Context, link string) (Capabilities, error) {
	caps, headErr := e.probeWith(ctx, http.MethodHead, link)
	if headErr == nil {
		return caps, nil
	}
	log.Debug().Str("op", "http/initial").Err(headErr).Msg("HEAD probe failed, falling back to GET")
	caps, getErr := e.probeWith(ctx, http.MethodGet, link)
	if getErr != nil {
		return Capabilities{}, fmt.Errorf("%w: head: %v; get: %v", ErrProbeFailed, headErr, getErr)
	}
	return caps, nil
}

func (e *Engine) probeWith(ctx context.Context, method, link string) (Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return Capabilities{}, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return Capabilities{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Capabilities{}, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return capabilitiesFromResponse(resp), nil
}

func capabilitiesFromResponse(resp *http.Response) Capabilities {
	caps := Capabilities{
		RangeSupported: strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "bytes"),
		Filename:       filenameFromHeader(resp.Header.Get("Content-Disposition")),
	}
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil && size > 0 {
			caps.Size = size
		}
	} else if resp.ContentLength > 0 {
		caps.Size = resp.ContentLength
	}
	return caps
}

func filenameFromHeader(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}

// filenameFromURL returns the last path element of link, or "download".
func filenameFromURL(link string) string {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	name := path.Base(parsedURL.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return filenameRegex.ReplaceAllString(name, "_")
}

type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(job *utils.Job) error {
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	if job.OutputPath != "" {
		if _, err := os.Stat(job.OutputPath); err == nil {
			job.OutputPath = utils.RenewOutputPath(job.OutputPath)
		}
		return nil
	}
	engine := newJobEngine(job)
	caps, err := engine.Probe(context.Background(), job.URL)
	if err != nil {
		return fmt.Errorf("error getting file info: %w", err)
	}
	job.OutputPath = caps.Filename
	if job.OutputPath == "" {
		job.OutputPath = filenameFromURL(job.URL)
	}
	if existing, err := os.Stat(job.OutputPath); err == nil {
		if caps.Size > 0 && existing.Size() == caps.Size {
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	log.Debug().Str("op", "http/initial").Msgf("Output path determined as %s", job.OutputPath)
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.Job) error {
	_, err := newJobEngine(job).Download(ctx, job.URL, job.OutputPath, job.Progress)
	return err
}

func newJobEngine(job *utils.Job) *Engine {
	return New(utils.NewHTTPClient(job.HTTPClientConfig), Options{
		Concurrency: job.Connections,
		SegmentSize: job.SegmentSize,
		Timeout:     job.HTTPClientConfig.Timeout,
	})
}
