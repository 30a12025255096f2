package splithttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

type ledgerFile struct {
	Size      int64      `json:"size"`
	Completed [][2]int64 `json:"completed"`
}

// Ledger is the durable record of completed ranges for one destination.
// Every persist rewrites the whole document through a temp file and a rename,
// so readers only ever see a complete record.
type Ledger struct {
	path string

	mu        sync.Mutex
	size      int64
	order     []Range
	completed map[Range]struct{}
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path, completed: make(map[Range]struct{})}
}

// Load reads the ledger for a resource of the given size. A missing,
// unparsable or differently sized ledger yields an empty set.
func (l *Ledger) Load(size int64) map[Range]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
	l.order = nil
	l.completed = make(map[Range]struct{})

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("op", "http/ledger").Err(err).Msgf("Unreadable ledger %s, starting empty", l.path)
		}
		return l.snapshot()
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		log.Debug().Str("op", "http/ledger").Err(err).Msgf("Corrupt ledger %s, starting empty", l.path)
		return l.snapshot()
	}
	if lf.Size != 0 && size != 0 && lf.Size != size {
		log.Debug().Str("op", "http/ledger").Msgf("Ledger size %d does not match resource size %d, starting empty", lf.Size, size)
		return l.snapshot()
	}
	for _, pair := range lf.Completed {
		r := Range{Start: pair[0], End: pair[1]}
		if r.Start < 0 || r.End < r.Start || (size > 0 && r.End >= size) {
			continue
		}
		if _, ok := l.completed[r]; ok {
			continue
		}
		l.completed[r] = struct{}{}
		l.order = append(l.order, r)
	}
	return l.snapshot()
}

// Reset drops every entry and persists the empty record.
func (l *Ledger) Reset(size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
	l.order = nil
	l.completed = make(map[Range]struct{})
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return l.persist()
}

// RecordComplete appends r. Recording an already present range is a no-op.
func (l *Ledger) RecordComplete(r Range) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.completed[r]; ok {
		return nil
	}
	l.completed[r] = struct{}{}
	l.order = append(l.order, r)
	if err := l.persist(); err != nil {
		delete(l.completed, r)
		l.order = l.order[:len(l.order)-1]
		return err
	}
	return nil
}

func (l *Ledger) Completed() map[Range]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Clear removes the ledger file.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.completed = make(map[Range]struct{})
	os.Remove(l.path + ".tmp")
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Ledger) snapshot() map[Range]struct{} {
	out := make(map[Range]struct{}, len(l.completed))
	for r := range l.completed {
		out[r] = struct{}{}
	}
	return out
}

// persist must be called with mu held.
func (l *Ledger) persist() error {
	lf := ledgerFile{Size: l.size, Completed: make([][2]int64, 0, len(l.order))}
	for _, r := range l.order {
		lf.Completed = append(lf.Completed, [2]int64{r.Start, r.End})
	}
	data, err := json.Marshal(lf)
	if err != nil {
		return fmt.Errorf("error encoding ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("error creating ledger directory: %w", err)
	}
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error writing ledger: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("error writing ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("error syncing ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("error replacing ledger: %w", err)
	}
	return nil
}
