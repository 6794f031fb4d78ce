package linetable

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/yarnvm/bytecode"
)

const sampleStrings = `id,text,file,node,lineNumber,lock,comment
line:ask,"Do you want to come, {0}?",story.yarn,Start,3,abc123,
line:yes,Yes,story.yarn,Start,4,,
line:no,No,story.yarn,Start,5,,
`

const sampleMetadata = `id,node,lineNumber,tags
line:ask,Start,3,mood:happy lastline
`

func TestLoad(t *testing.T) {
	table, err := Load(strings.NewReader(sampleStrings))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("Len = %d, want 3", table.Len())
	}
	e, ok := table.Lookup("line:ask")
	if !ok {
		t.Fatal("line:ask missing")
	}
	if e.Text != "Do you want to come, {0}?" || e.Node != "Start" || e.LineNumber != 3 || e.File != "story.yarn" {
		t.Errorf("entry = %+v", e)
	}
	if got := table.IDs(); !reflect.DeepEqual(got, []string{"line:ask", "line:no", "line:yes"}) {
		t.Errorf("IDs = %v", got)
	}
	if table.Text("line:missing") != "" {
		t.Error("missing line should have empty text")
	}
}

func TestLoadWithMetadata(t *testing.T) {
	table, err := LoadWithMetadata(strings.NewReader(sampleStrings), strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatalf("LoadWithMetadata: %v", err)
	}
	if got := table.Tags("line:ask"); !reflect.DeepEqual(got, []string{"mood:happy", "lastline"}) {
		t.Errorf("tags = %v", got)
	}
	if got := table.Tags("line:yes"); got != nil {
		t.Errorf("line:yes tags = %v, want none", got)
	}

	_, err = LoadWithMetadata(strings.NewReader(sampleStrings), strings.NewReader("id,tags\nline:ghost,x\n"))
	if !errors.Is(err, bytecode.ErrUnresolvedReference) {
		t.Errorf("metadata for unknown line = %v, want ErrUnresolvedReference", err)
	}
}

func TestLoadMinimalColumns(t *testing.T) {
	table, err := Load(strings.NewReader("text,id,extra\nHello,line:a,ignored\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Text("line:a") != "Hello" {
		t.Errorf("text = %q", table.Text("line:a"))
	}
}

func TestLoadBOM(t *testing.T) {
	table, err := Load(strings.NewReader("\ufeffid,text\nline:a,Hi\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.Text("line:a") != "Hi" {
		t.Errorf("text = %q", table.Text("line:a"))
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing id column", "text\nHello\n"},
		{"missing text column", "id\nline:a\n"},
		{"duplicate id", "id,text\nline:a,one\nline:a,two\n"},
		{"empty id", "id,text\n,orphan\n"},
		{"ragged row", "id,text\nline:a,one,extra\n"},
		{"bad line number", "id,text,lineNumber\nline:a,one,three\n"},
		{"invalid utf8", "id,text\nline:a,\xff\xfe\n"},
		{"unterminated quote", "id,text\nline:a,\"open\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			if !errors.Is(err, ErrMalformedStringTable) {
				t.Errorf("error = %v, want ErrMalformedStringTable", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	table, err := Load(strings.NewReader(sampleStrings))
	if err != nil {
		t.Fatal(err)
	}
	got, err := table.Resolve("line:ask", []string{"Ann"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Do you want to come, Ann?" {
		t.Errorf("Resolve = %q", got)
	}
	if _, err := table.Resolve("line:ghost", nil); !errors.Is(err, bytecode.ErrUnresolvedReference) {
		t.Errorf("Resolve(ghost) = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidate(t *testing.T) {
	table, err := Load(strings.NewReader(sampleStrings))
	if err != nil {
		t.Fatal(err)
	}

	b := bytecode.NewBuilder("ok")
	n := b.Node("Start")
	n.Line("line:ask", 0)
	n.OptionTo("line:yes", "end", 0, false)
	n.ShowOptions()
	n.Label("end")
	if err := table.Validate(b.MustBuild()); err != nil {
		t.Errorf("Validate: %v", err)
	}

	b = bytecode.NewBuilder("bad")
	b.Node("Start").Line("line:ghost", 0)
	err = table.Validate(b.MustBuild())
	if !errors.Is(err, bytecode.ErrUnresolvedReference) || !strings.Contains(err.Error(), "line:ghost") {
		t.Errorf("Validate = %v, want ErrUnresolvedReference naming line:ghost", err)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "story-Lines.csv")
	mp := filepath.Join(dir, "story-Metadata.csv")
	if err := os.WriteFile(sp, []byte(sampleStrings), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mp, []byte(sampleMetadata), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFiles(sp, mp)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if len(table.Tags("line:ask")) != 2 {
		t.Errorf("tags = %v", table.Tags("line:ask"))
	}
	if _, err := LoadFiles(filepath.Join(dir, "missing.csv"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}
