// Package linetable loads the string table that maps line IDs to display
// text, plus the optional line metadata table that carries tags.
//
// Both are CSV files with a header row. The string table requires the
// columns "id" and "text"; "file", "node" and "lineNumber" are read when
// present and any other column is ignored. The metadata table requires
// "id" and "tags" (space separated).
package linetable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/yarnvm/bytecode"
)

var ErrMalformedStringTable = errors.New("malformed string table")

// Entry is one line of the string table.
type Entry struct {
	ID         string
	Text       string
	File       string
	Node       string
	LineNumber int
	Tags       []string
}

// Table is an immutable line-ID to text mapping.
type Table struct {
	entries map[string]*Entry
}

// Load reads a string table.
func Load(r io.Reader) (*Table, error) {
	return LoadWithMetadata(r, nil)
}

// LoadWithMetadata reads a string table and, when metadata is non-nil, a
// metadata table whose tags are attached to the matching entries.
func LoadWithMetadata(r io.Reader, metadata io.Reader) (*Table, error) {
	t := &Table{entries: make(map[string]*Entry)}

	err := readCSV(r, []string{"id", "text"}, func(row record) error {
		id := row.get("id")
		if id == "" {
			return fmt.Errorf("line %d: empty id", row.line)
		}
		if _, dup := t.entries[id]; dup {
			return fmt.Errorf("line %d: duplicate id %q", row.line, id)
		}
		e := &Entry{
			ID:   id,
			Text: row.get("text"),
			File: row.get("file"),
			Node: row.get("node"),
		}
		if s := row.get("lineNumber"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("line %d: bad lineNumber %q", row.line, s)
			}
			e.LineNumber = n
		}
		t.entries[id] = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	if metadata == nil {
		return t, nil
	}
	seen := make(map[string]bool)
	err = readCSV(metadata, []string{"id", "tags"}, func(row record) error {
		id := row.get("id")
		if seen[id] {
			return fmt.Errorf("metadata line %d: duplicate id %q", row.line, id)
		}
		seen[id] = true
		e, ok := t.entries[id]
		if !ok {
			return fmt.Errorf("metadata line %d: %w: no line %q", row.line, bytecode.ErrUnresolvedReference, id)
		}
		e.Tags = strings.Fields(row.get("tags"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LoadFiles reads a string table file and an optional metadata file.
func LoadFiles(stringsPath, metadataPath string) (*Table, error) {
	f, err := os.Open(stringsPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open string table: %w", err)
	}
	defer f.Close()

	if metadataPath == "" {
		return Load(f)
	}
	m, err := os.Open(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open line metadata: %w", err)
	}
	defer m.Close()
	return LoadWithMetadata(f, m)
}

// Lookup returns the entry for id.
func (t *Table) Lookup(id string) (Entry, bool) {
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Text returns the raw text for id, or "" when absent.
func (t *Table) Text(id string) string {
	if e, ok := t.entries[id]; ok {
		return e.Text
	}
	return ""
}

// Tags returns the metadata tags for id.
func (t *Table) Tags(id string) []string {
	if e, ok := t.entries[id]; ok {
		return e.Tags
	}
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// IDs returns every line ID, sorted.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the display text of id with substitutions applied.
func (t *Table) Resolve(id string, subs []string) (string, error) {
	e, ok := t.entries[id]
	if !ok {
		return "", fmt.Errorf("%w: line %q", bytecode.ErrUnresolvedReference, id)
	}
	return bytecode.Substitute(e.Text, subs), nil
}

// Validate checks that every line referenced by prog is in the table.
func (t *Table) Validate(prog *bytecode.Program) error {
	var missing []string
	for _, id := range prog.LineIDs() {
		if _, ok := t.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: lines not in string table: %s", bytecode.ErrUnresolvedReference, strings.Join(missing, ", "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// CSV reading
// ---------------------------------------------------------------------------

type record struct {
	line   int
	fields []string
	cols   map[string]int
}

func (r record) get(name string) string {
	if i, ok := r.cols[name]; ok {
		return r.fields[i]
	}
	return ""
}

// readCSV reads a headed CSV stream, checks required columns and invokes
// visit for every data row. All failures wrap ErrMalformedStringTable
// unless visit returned an error already carrying a sentinel.
func readCSV(r io.Reader, required []string, visit func(record) error) error {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: empty file", ErrMalformedStringTable)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStringTable, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("%w: missing column %q", ErrMalformedStringTable, name)
		}
	}

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedStringTable, err)
		}
		line, _ := cr.FieldPos(0)
		for _, f := range fields {
			if !utf8.ValidString(f) {
				return fmt.Errorf("%w: line %d: invalid UTF-8", ErrMalformedStringTable, line)
			}
		}
		if err := visit(record{line: line, fields: fields, cols: cols}); err != nil {
			if errors.Is(err, bytecode.ErrUnresolvedReference) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrMalformedStringTable, err)
		}
	}
}
