// Package dbconfig parses the database configuration file format shared
// by the crawler and healer binaries: one or more named sections, each
// introduced by a "#~<name>" header line, followed by "key:value" lines
// until the next header or end of file.
package dbconfig

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Section holds the recognised keys of one "#~name" block. Unrecognised
// keys are ignored rather than rejected, so older/newer config files stay
// forward- and backward-compatible.
type Section struct {
	Name     string
	Username string
	Password string
	DBDsn    string
}

// Parse reads every section in r, keyed by section name.
func Parse(r io.Reader) (map[string]Section, error) {
	sections := make(map[string]Section)
	var current *Section

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#~") {
			name := strings.TrimSpace(strings.TrimPrefix(line, "#~"))
			sections[name] = Section{Name: name}
			sec := sections[name]
			current = &sec
			continue
		}
		if current == nil {
			continue // key:value before any header — ignore, matches permissive upstream parser
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "username":
			current.Username = val
		case "password":
			current.Password = val
		case "db_dns":
			current.DBDsn = val
		}
		sections[current.Name] = *current
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dbconfig: scan: %w", err)
	}
	return sections, nil
}

// Get looks up a single named section, mirroring the CLIs' flag pairs:
// -d names the file, and -l (healer) or -y (crawler) names the section
// within it.
func Get(r io.Reader, name string) (Section, error) {
	sections, err := Parse(r)
	if err != nil {
		return Section{}, err
	}
	sec, ok := sections[name]
	if !ok {
		return Section{}, fmt.Errorf("dbconfig: no section %q", name)
	}
	return sec, nil
}
