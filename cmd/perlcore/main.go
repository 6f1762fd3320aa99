// perlcore runs guest programs through the bytecode compiler and engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/fglock/perlcore/config"
	"github.com/fglock/perlcore/engine"
	"github.com/fglock/perlcore/vm"
)

func main() {
	code := flag.String("e", "", "Program text to run instead of a file")
	disasm := flag.Bool("d", false, "Print the disassembly instead of running")
	check := flag.Bool("c", false, "Check syntax only")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	configDir := flag.String("config", "", "Directory containing perlcore.toml (searched upward from . by default)")
	output := flag.String("o", "", "Write the compiled unit as CBOR to this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: perlcore [options] FILE [args...]\n")
		fmt.Fprintf(os.Stderr, "       perlcore [options] -e CODE [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  perlcore -e 'print 2+3, \"\\n\"'\n")
		fmt.Fprintf(os.Stderr, "  perlcore -c script.pl      # syntax check\n")
		fmt.Fprintf(os.Stderr, "  perlcore -d script.pl      # dump bytecode\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	configureLog(cfg, *verbosity)

	args := flag.Args()
	var src, file string
	switch {
	case *code != "":
		src, file = *code, "-e"
	case len(args) > 0:
		file, args = args[0], args[1:]
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Can't open perl script \"%s\": %v\n", file, err)
			os.Exit(2)
		}
		src = string(data)
	default:
		flag.Usage()
		os.Exit(2)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer eng.Close()

	unit, err := eng.Compile(src, file)
	if err != nil {
		fmt.Fprint(os.Stderr, engine.Message(err))
		eng.Close()
		os.Exit(255)
	}

	if *output != "" {
		if err := writeUnit(*output, unit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			eng.Close()
			os.Exit(2)
		}
	}
	if *check {
		fmt.Fprintf(os.Stderr, "%s syntax OK\n", file)
		return
	}
	if *disasm {
		fmt.Print(vm.Disassemble(unit))
		return
	}

	err = eng.Run(unit, args...)
	if msg := engine.Message(err); msg != "" {
		fmt.Fprint(os.Stderr, msg)
	}
	eng.Close()
	os.Exit(engine.ExitCode(err))
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	return config.FindAndLoad(".")
}

func configureLog(cfg *config.Config, verbosity int) {
	if verbosity < 0 {
		verbosity = cfg.Log.Verbosity
	}
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(verbosity, path)
}

func writeUnit(path string, u *vm.Unit) error {
	data, err := vm.MarshalUnit(u)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
