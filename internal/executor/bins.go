package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/siteadapter"
)

// BinSet owns the four append-only result files for one task. Writes are
// serialised and flushed immediately, so a crash loses at most one line.
type BinSet struct {
	mu                              sync.Mutex
	ok, ok2, notOK, unknown         *os.File
	okPath, ok2Path, notOKPath, unknownPath string
}

// OpenBins creates (if needed) and opens the four bin files under
// baseDir/<alias>/<ok|ok2|not_ok|unknown>/<date>/<time>.txt, matching the
// original crawler's directory layout.
func OpenBins(baseDir, alias string, at time.Time) (*BinSet, error) {
	date := at.Format("2006_01_02")
	stamp := at.Format("15_04_05") + ".txt"

	paths := map[string]string{
		"ok":      filepath.Join(baseDir, alias, "ok", date, stamp),
		"ok2":     filepath.Join(baseDir, alias, "ok2", date, stamp),
		"not_ok":  filepath.Join(baseDir, alias, "not_ok", date, stamp),
		"unknown": filepath.Join(baseDir, alias, "unknown", date, stamp),
	}

	files := make(map[string]*os.File, 4)
	for kind, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("executor: mkdir for %s bin: %w", kind, err)
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("executor: open %s bin: %w", kind, err)
		}
		files[kind] = f
	}

	return &BinSet{
		ok: files["ok"], ok2: files["ok2"], notOK: files["not_ok"], unknown: files["unknown"],
		okPath: paths["ok"], ok2Path: paths["ok2"], notOKPath: paths["not_ok"], unknownPath: paths["unknown"],
	}, nil
}

// Route appends number to the bin matching classification and flushes
// immediately. Registered2 and Unknown/RequestStop classifications route
// to ok2 and unknown respectively; RequestStop itself is never routed —
// the executor handles it as a terminal signal before calling Route.
func (b *BinSet) Route(number string, class siteadapter.Classification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var f *os.File
	switch class {
	case siteadapter.Registered:
		f = b.ok
	case siteadapter.Registered2:
		f = b.ok2
	case siteadapter.NotRegistered:
		f = b.notOK
	default:
		f = b.unknown
	}
	if _, err := f.WriteString(number + "\n"); err != nil {
		return fmt.Errorf("executor: write bin: %w", err)
	}
	return f.Sync()
}

// Close closes all four files.
func (b *BinSet) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, f := range []*os.File{b.ok, b.ok2, b.notOK, b.unknown} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
