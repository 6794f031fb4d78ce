package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/yarnvm/bytecode"
	"github.com/chazu/yarnvm/linetable"
)

// LoadProgram reads a compiled program. Files ending in ".yarnc" are
// imported from Yarn Spinner's protobuf format; anything else is YSBC.
func LoadProgram(path string) (*bytecode.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open program: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".yarnc") {
		return bytecode.ReadYarnc(f)
	}
	return bytecode.ReadProgram(f)
}

// MetadataPath returns the metadata table that sits next to a string table
// named "<story>-Lines.csv", or "" when there is none.
func MetadataPath(stringsPath string) string {
	base, ok := strings.CutSuffix(stringsPath, "-Lines.csv")
	if !ok {
		return ""
	}
	candidate := base + "-Metadata.csv"
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// Open loads a program and its string table from disk and creates a
// Runner. Line metadata is picked up from the sibling "-Metadata.csv"
// file when present.
func Open(programPath, stringsPath string, opts ...RunnerOption) (*Runner, error) {
	prog, err := LoadProgram(programPath)
	if err != nil {
		return nil, err
	}
	table, err := linetable.LoadFiles(stringsPath, MetadataPath(stringsPath))
	if err != nil {
		return nil, err
	}
	return New(prog, table, opts...)
}
