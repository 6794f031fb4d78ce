package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/chazu/yarnvm/bytecode"
	"github.com/chazu/yarnvm/runner"
	"github.com/chazu/yarnvm/storage"
	"github.com/chazu/yarnvm/vm"
)

func disasmCmd(args []string) error {
	fs := newFlagSet("disasm", "<program>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("disasm takes one program file")
	}
	prog, err := runner.LoadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Print(prog.Disassemble())
	return nil
}

func importCmd(args []string) error {
	fs := newFlagSet("import", "<in.yarnc> <out.ysbc>")
	verbose := fs.Bool("v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("import takes an input and an output file")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()
	prog, err := bytecode.ReadYarnc(in)
	if err != nil {
		return err
	}
	data, err := prog.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(fs.Arg(1), data, 0644); err != nil {
		return err
	}
	if *verbose {
		fmt.Printf("Wrote %s: %d nodes, %d bytes\n", fs.Arg(1), len(prog.Nodes), len(data))
	}
	return nil
}

func varsCmd(args []string) error {
	fs := newFlagSet("vars", "[options]")
	dbPath := fs.String("db", "", "SQLite database")
	session := fs.String("session", "", "Session to dump (default: list sessions)")
	snapshot := fs.String("snapshot", "", "Dump a snapshot file instead of a database")
	export := fs.String("export", "", "Write the session to a snapshot file")
	importPath := fs.String("import", "", "Replace the session with a snapshot file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *snapshot != "" {
		data, err := os.ReadFile(*snapshot)
		if err != nil {
			return err
		}
		snap, vars, err := storage.UnmarshalVariables(data)
		if err != nil {
			return err
		}
		fmt.Printf("# session %s\n", snap.Session)
		printVariables(os.Stdout, vars)
		return nil
	}

	if *dbPath == "" {
		fs.Usage()
		return errors.New("vars needs -db or -snapshot")
	}
	if _, err := os.Stat(*dbPath); err != nil {
		return err
	}

	if *session == "" {
		s, err := storage.OpenSQLite(*dbPath, "")
		if err != nil {
			return err
		}
		defer s.Close()
		sessions, err := storage.Sessions(s.DB())
		if err != nil {
			return err
		}
		for _, name := range sessions {
			fmt.Println(name)
		}
		return nil
	}

	s, err := storage.OpenSQLite(*dbPath, *session)
	if err != nil {
		return err
	}
	defer s.Close()

	if *importPath != "" {
		if err := restoreFile(s, *importPath); err != nil {
			return err
		}
	}
	if *export != "" {
		return saveFile(s, *session, *export)
	}
	vars, err := s.Export()
	if err != nil {
		return err
	}
	printVariables(os.Stdout, vars)
	return nil
}

func printVariables(w io.Writer, vars map[string]vm.Value) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := vars[name]
		if v.Kind() == vm.KindString {
			fmt.Fprintf(w, "%s = %q\n", name, v.AsString())
		} else {
			fmt.Fprintf(w, "%s = %s\n", name, v)
		}
	}
}

// ---------------------------------------------------------------------------
// Snapshot files
// ---------------------------------------------------------------------------

func saveFile(s vm.BulkStorage, session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := storage.Save(s, session, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func restoreFile(s vm.BulkStorage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return storage.Restore(s, f)
}
