package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/splitfetch/internal/progress"
)

type JobOutput struct {
	ID          string
	Label       string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int

	tracking bool
	total    int64
	resumed  int64
	added    int64
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders the live state of every registered job and owns the
// per-job progress sinks.
type Manager struct {
	Out io.Writer

	jobs        map[string]*JobOutput
	mutex       sync.RWMutex
	numLines    int
	maxStreams  int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		Out:         os.Stdout,
		jobs:        make(map[string]*JobOutput),
		maxStreams:  10,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(id, label string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.jobs[id] = &JobOutput{
		ID:          id,
		Label:       label,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.jobCount,
	}
}

func (m *Manager) update(id string, fn func(*JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.jobs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id, message string) {
	m.update(id, func(info *JobOutput) {
		info.Message = message
	})
}

func (m *Manager) SetStatus(id, status string) {
	m.update(id, func(info *JobOutput) {
		info.Status = status
	})
}

func (m *Manager) Status(id string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.jobs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) AddStreamLine(id, line string) {
	width, _ := getTerminalSize()
	m.update(id, func(info *JobOutput) {
		info.StreamLines = append(info.StreamLines, wrapText(line, 2+4, width)...)
		if len(info.StreamLines) > m.maxStreams {
			info.StreamLines = info.StreamLines[len(info.StreamLines)-m.maxStreams:]
		}
	})
}

func (m *Manager) Complete(id, message string) {
	m.update(id, func(info *JobOutput) {
		info.StreamLines = nil
		info.tracking = false
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Message = message
		info.Complete = true
		info.Status = "success"
	})
}

func (m *Manager) ReportError(id string, err error) {
	m.update(id, func(info *JobOutput) {
		info.tracking = false
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	})
}

// Sink returns the progress sink that feeds the job's progress line.
func (m *Manager) Sink(id string) progress.Sink {
	return &jobSink{m: m, id: id}
}

type jobSink struct {
	m  *Manager
	id string
}

func (s *jobSink) Start(total, completed int64) {
	s.m.update(s.id, func(info *JobOutput) {
		info.tracking = true
		info.total = total
		info.resumed = completed
		info.added = 0
		info.StartTime = time.Now()
	})
}

func (s *jobSink) Add(n int64) {
	s.m.mutex.Lock()
	defer s.m.mutex.Unlock()
	if info, exists := s.m.jobs[s.id]; exists {
		info.added += n
	}
}

func (s *jobSink) Finish() {
	s.m.update(s.id, func(info *JobOutput) {
		info.tracking = false
	})
}

// Progress returns the bytes on disk and the expected total for a job.
func (m *Manager) Progress(id string) (done, total int64) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.jobs[id]; exists {
		return info.resumed + info.added, info.total
	}
	return 0, 0
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success", "pass":
		return successStyle.Render(StyleSymbols["pass"])
	case "error", "fail":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "warning":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortJobs() (active, pending, completed []*JobOutput) {
	all := make([]*JobOutput, 0, len(m.jobs))
	for _, info := range m.jobs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, info := range all {
		switch {
		case info.Complete:
			completed = append(completed, info)
		case info.Status == "pending" && info.Message == "" && !info.tracking:
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}
	return active, pending, completed
}

// render writes one frame and returns the number of lines it used.
func (m *Manager) render(availableLines int) int {
	lineCount := 0
	indent := strings.Repeat(" ", 2+4)
	printLine := func(format string, args ...any) bool {
		if lineCount >= availableLines {
			return false
		}
		fmt.Fprintf(m.Out, format, args...)
		lineCount++
		return true
	}

	active, pending, completed := m.sortJobs()
	needed := len(completed)
	for _, info := range append(active, pending...) {
		needed += 1 + len(info.StreamLines)
		if info.tracking {
			needed++
		}
	}
	if needed > availableLines {
		keep := max(availableLines-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	for _, info := range active {
		elapsed := time.Since(info.StartTime).Round(time.Second)
		if !printLine("  %s %s %s\n", m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, info.Message)) {
			break
		}
		if info.tracking {
			line := progressLine(info.resumed+info.added, info.total, info.added, time.Since(info.StartTime))
			printLine("%s%s\n", indent, debugStyle.Render(line))
		}
		for _, line := range info.StreamLines {
			if !printLine("%s%s\n", indent, streamStyle.Render(line)) {
				break
			}
		}
	}
	for _, info := range pending {
		if !printLine("  %s %s\n", m.statusIndicator(info.Status), pendingStyle.Render("Waiting...")) {
			break
		}
	}
	if len(completed) > 10 && lineCount < availableLines {
		printLine("%s\n", infoStyle.Render(fmt.Sprintf("  %d jobs completed with varying hidden status ...", len(completed)-8)))
		completed = completed[len(completed)-8:]
	}
	for _, info := range completed {
		total := info.LastUpdated.Sub(info.StartTime).Round(time.Second)
		if !printLine("  %s %s %s\n", m.statusIndicator(info.Status), debugStyle.Render(total.String()), styleMessage(info.Status, info.Message)) {
			break
		}
	}
	return lineCount
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, height := getTerminalSize()
	if m.numLines > 0 {
		fmt.Fprintf(m.Out, "\033[%dA\033[J", m.numLines)
	}
	m.numLines = m.render(height - 3)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

// Counts returns the number of succeeded and failed jobs.
func (m *Manager) Counts() (success, failures int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.jobs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	return success, failures
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.Out)
	fmt.Fprintln(m.Out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.jobs))))
	if failures > 0 {
		fmt.Fprintln(m.Out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.jobs))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.Out)
		fmt.Fprintln(m.Out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.Out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.Out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.Out)
}
