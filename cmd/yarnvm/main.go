// yarnvm CLI - plays, inspects and converts compiled dialogue programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = runCmd(args[1:])
	case "disasm":
		err = disasmCmd(args[1:])
	case "import":
		err = importCmd(args[1:])
	case "vars":
		err = varsCmd(args[1:])
	case "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: yarnvm <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Play a story in the terminal\n")
	fmt.Fprintf(os.Stderr, "  disasm   Print the instructions of a compiled program\n")
	fmt.Fprintf(os.Stderr, "  import   Convert a Yarn Spinner .yarnc program to .ysbc\n")
	fmt.Fprintf(os.Stderr, "  vars     List sessions or dump stored variables\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  yarnvm run                                 # Play the story in ./yarnvm.toml\n")
	fmt.Fprintf(os.Stderr, "  yarnvm run -program s.ysbc -strings s-Lines.csv -start Gate\n")
	fmt.Fprintf(os.Stderr, "  yarnvm run -db saves.db -session slot-1    # Keep variables between runs\n")
	fmt.Fprintf(os.Stderr, "  yarnvm disasm story.yarnc\n")
	fmt.Fprintf(os.Stderr, "  yarnvm import story.yarnc story.ysbc\n")
	fmt.Fprintf(os.Stderr, "  yarnvm vars -db saves.db                   # List sessions\n")
	fmt.Fprintf(os.Stderr, "  yarnvm vars -db saves.db -session slot-1 -export slot-1.cbor\n")
	fmt.Fprintf(os.Stderr, "\nRun 'yarnvm <command> -h' for command options.\n")
}

// configureLogging sets the commonlog verbosity. Zero keeps only errors.
func configureLogging(verbosity int, path string) {
	var p *string
	if path != "" {
		p = &path
	}
	commonlog.Configure(verbosity, p)
}

// newFlagSet returns a flag set whose usage line names the subcommand.
func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: yarnvm %s %s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// flagsSet reports which flags were given on the command line, so that a
// zero value can still override configuration.
func flagsSet(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}
