// Package cliutil holds the small startup-banner formatting shared by
// both numbercheck binaries, adapted from the original single-binary
// CLI's banner printer.
package cliutil

import (
	"fmt"
	"strings"
)

// PadRight pads s with spaces to width n, leaving longer strings as-is.
func PadRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// Banner renders a boxed startup summary of name/value rows, in the same
// box-drawing style the corpus's single-binary CLI used for its startup
// banner.
func Banner(title string, rows [][2]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(&b, "║ %s\n", PadRight(title, 64))
	fmt.Fprintf(&b, "╠══════════════════════════════════════════════════════════════╣\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "║ %s: %s\n", PadRight(row[0], 14), PadRight(row[1], 47))
	}
	fmt.Fprintf(&b, "╚══════════════════════════════════════════════════════════════╝\n")
	return b.String()
}
