package executor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// isPhoneNumberLike is deliberately permissive: a non-blank line of
// digits, optionally with a leading '+'. Anything else is dropped rather
// than rejected outright, since upstream uploads are not always clean.
func isPhoneNumberLike(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if s[0] == '+' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ConcatenateInputs merges the given uploaded input files into a single
// randomly named working file under dir, counting the phone-number-like
// lines it carries forward. The random name (rather than reusing an
// upload's own name) avoids collisions across concurrent tasks sharing
// the same working directory.
func ConcatenateInputs(dir string, inputs []string) (workingPath string, total int64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("executor: mkdir %s: %w", dir, err)
	}
	workingPath = filepath.Join(dir, uuid.NewString()+".txt")

	out, err := os.Create(workingPath)
	if err != nil {
		return "", 0, fmt.Errorf("executor: create working file: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	for _, in := range inputs {
		n, err := appendInput(w, in)
		if err != nil {
			return "", 0, err
		}
		total += n
	}
	if err := w.Flush(); err != nil {
		return "", 0, fmt.Errorf("executor: flush working file: %w", err)
	}
	return workingPath, total, nil
}

func appendInput(w *bufio.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("executor: open input %s: %w", path, err)
	}
	defer f.Close()

	var n int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !isPhoneNumberLike(line) {
			continue
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return n, fmt.Errorf("executor: write working file: %w", err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("executor: scan input %s: %w", path, err)
	}
	return n, nil
}

// CountLines counts the non-blank lines of an existing working file,
// used on the resume path where the healer has already trimmed the input
// to its untried tail.
func CountLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("executor: open %s: %w", path, err)
	}
	defer f.Close()

	var n int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("executor: count lines %s: %w", path, err)
	}
	return n, nil
}

// DeleteWorkingFile removes the task's working input file on a clean
// completion; callers retain it on error for diagnostics.
func DeleteWorkingFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("executor: delete working file %s: %w", path, err)
	}
	return nil
}

