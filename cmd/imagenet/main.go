// Command imagenet downloads the ResNet50 v2 classifier, certifies it against its reference
// fixtures and classifies images.
//
// Usage:
//
//	imagenet [-config file] [-log-level level] <fetch|validate|classify|benchmark> [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/go-classifier/config"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/sirupsen/logrus"
)

// command is a subcommand entry point. args excludes the subcommand name.
type command func(ctx context.Context, cfg config.Config, args []string) error

var commands = map[string]command{
	"fetch":     runFetch,
	"validate":  runValidate,
	"classify":  runClassify,
	"benchmark": runBenchmark,
}

func main() {
	var (
		configPath string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = usage
	flag.Parse()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("invalid -log-level: %v", err)
	}
	logrus.SetLevel(level)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			fatal(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg, flag.Args()[1:]); err != nil {
		stop()
		fatal(err)
	}
}

// fatal logs err with the failing stage and exits with status 1.
func fatal(err error) {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if stage := pipeline.StageOf(err); stage != "" {
		entry = entry.WithField("stage", stage)
	}
	entry.Fatal(err)
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <command> [command flags]\n\n", os.Args[0])
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  fetch     download and extract the model and label artifacts")
	fmt.Fprintln(out, "  validate  run the reference fixtures through the model")
	fmt.Fprintln(out, "  classify  classify an image")
	fmt.Fprintln(out, "  benchmark repeat classification of an image and report latency")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}
