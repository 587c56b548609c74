// Package healer repairs a stopped task's files so it can be resumed:
// deduplicating each result bin, recounting processed from their line
// totals, and truncating the task's working input to its untried tail.
package healer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/drsoft-oss/numbercheck/internal/store"
)

// Heal repairs one stopped task and writes back its processed/ip_used
// counters with status=Stopped. It does not check the task's current
// status: whatever task it is given ends up Stopped. The healer CLI only
// passes it tasks that GetStoppedTasks returned.
func Heal(ctx context.Context, st store.TaskStore, t store.Task, ipUsed int64) error {
	var processed int64
	for _, path := range []string{t.OKFile, t.NotOKFile, t.OK2File, t.UnknownFile} {
		if path == "" {
			continue
		}
		n, err := dedupSortFile(path)
		if err != nil {
			return fmt.Errorf("healer: dedup %s: %w", path, err)
		}
		processed += n
	}

	if t.InputFilename != "" {
		if err := truncateToTail(t.InputFilename, t.TotalNumbers-processed); err != nil {
			return fmt.Errorf("healer: truncate input: %w", err)
		}
	}

	if err := st.SetStatus(ctx, t.ID, store.Stopped, processed, ipUsed); err != nil {
		return fmt.Errorf("healer: set status: %w", err)
	}
	return nil
}

// dedupSortFile sort-deduplicates path in place (mirroring the original
// utility's "sort -u", done natively rather than shelling out to a
// system binary) and returns the resulting line count.
func dedupSortFile(path string) (int64, error) {
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	seen := make(map[string]struct{}, len(lines))
	unique := lines[:0]
	for _, l := range lines {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}
	sort.Strings(unique)

	if err := writeLines(path, unique); err != nil {
		return 0, err
	}
	return int64(len(unique)), nil
}

// truncateToTail rewrites path to keep only its last `keep` lines (the
// numbers not yet tried), matching the original healer's `tail -n` step.
// keep <= 0 empties the file; keep >= the file's line count leaves it
// untouched.
func truncateToTail(path string, keep int64) error {
	if keep < 0 {
		keep = 0
	}
	lines, err := readLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if keep >= int64(len(lines)) {
		return nil
	}
	tail := lines[int64(len(lines))-keep:]
	return writeLines(path, tail)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ParseTaskIDs parses the healer CLI's -t flag: a comma-separated list
// that may contain "a-b" inclusive ranges alongside bare ids.
func ParseTaskIDs(spec string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err := parseInt(lo)
			if err != nil {
				return nil, fmt.Errorf("healer: bad range %q: %w", part, err)
			}
			hiN, err := parseInt(hi)
			if err != nil {
				return nil, fmt.Errorf("healer: bad range %q: %w", part, err)
			}
			for i := loN; i <= hiN; i++ {
				ids = append(ids, i)
			}
			continue
		}
		n, err := parseInt(part)
		if err != nil {
			return nil, fmt.Errorf("healer: bad task id %q: %w", part, err)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

func parseInt(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	return n, err
}
