package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fractalmind-ai/bytebpe/internal/config"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	defaultConfigPath = "./config.yaml"
)

var errUsage = errors.New("usage error")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"train", "learn merges from corpus files and save the model", runTrain},
	{"encode", "print token ids for --text or stdin", runEncode},
	{"decode", "print the text for the given ids", runDecode},
	{"inspect", "list the vocabulary of a model", runInspect},
	{"export", "write a model's merges to a file", runExport},
	{"import", "read a merges file into the store", runImport},
	{"compare", "compare token counts against reference tokenizers", runCompare},
	{"serve", "run the WebSocket gateway", runServe},
}

// env carries what every command needs.
type env struct {
	cfg     *config.Config
	out     io.Writer
	in      io.Reader
	verbose bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWithContext(ctx, os.Args[1:], os.Stdout)
}

func runWithContext(ctx context.Context, args []string, out io.Writer) int {
	log.SetOutput(out)

	fs := flag.NewFlagSet("bytebpe", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	fs.Usage = func() { printUsage(out, fs) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return exitError
	}

	if fs.NArg() == 0 {
		printUsage(out, fs)
		return exitUsage
	}
	name := fs.Arg(0)
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		e := &env{cfg: cfg, out: out, in: os.Stdin, verbose: *verbose || cfg.Tokenizer.Verbose}
		if err := cmd.run(ctx, e, fs.Args()[1:]); err != nil {
			if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
				return exitUsage
			}
			log.Printf("%s failed: %v", name, err)
			return exitError
		}
		return exitOK
	}

	fmt.Fprintf(out, "unknown command %q\n", name)
	printUsage(out, fs)
	return exitUsage
}

// loadConfig falls back to defaults only when the default path is absent.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
	}
	return config.LoadConfig(path)
}

func printUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "usage: bytebpe [--config path] [--verbose] <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "commands:")
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(out)
	fs.PrintDefaults()
}

func newCommandFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("bytebpe "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
