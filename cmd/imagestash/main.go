package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"imagestash/internal/config"
	"imagestash/internal/logging"
)

var clilog = logging.For("cli")

const usage = `usage: imagestash [flags] <command> [args]

commands:
  put <store> <key> <file>     read file and store it under key
  get [-o out] <store> <key>   write the stored bytes to out or stdout
  url <store> <key>            print a data: URL for the stored bytes
  serve                        serve blob URLs and the store over HTTP

flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("imagestash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to config file")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	listen := fs.String("listen", "", "HTTP listen address (overrides config)")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	// CLI flags override config file values
	if *dataDir != "" {
		cfg.Store.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	cfg.Store.DataDir = config.ExpandHome(cfg.Store.DataDir)

	logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})

	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "put":
		err = a.put(rest)
	case "get":
		err = a.get(rest)
	case "url":
		err = a.url(rest)
	case "serve":
		err = a.serve(rest)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 2
	default:
		clilog.Debug("command failed", "cmd", cmd, "err", err)
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
}

type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }
