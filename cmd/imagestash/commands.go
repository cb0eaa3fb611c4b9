package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"imagestash/internal/config"
	"imagestash/internal/httpd"
	boltstore "imagestash/pkg/bytestore/bolt"
	"imagestash/pkg/displayurl"
	"imagestash/pkg/filebytes"
)

var errNotFound = errors.New("no value under key")

// isTerminal is swapped in tests.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (a *app) store() *boltstore.Store {
	return boltstore.NewStore(a.cfg.Store.DataDir, a.cfg.Store.LockTimeout.Duration)
}

func (a *app) put(args []string) error {
	if len(args) != 3 {
		return usageError{"expected <store> <key> <file>"}
	}
	data, err := filebytes.ReadPath(args[2])
	if err != nil {
		return err
	}
	if err := a.store().Put(args[0], args[1], data); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "stored %d bytes under %s/%s\n", len(data), args[0], args[1])
	return nil
}

func (a *app) get(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	out := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() != 2 {
		return usageError{"expected [-o out] <store> <key>"}
	}

	data, found, err := a.store().Get(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w %s/%s", errNotFound, fs.Arg(0), fs.Arg(1))
	}

	if *out != "" {
		return os.WriteFile(*out, data, 0644)
	}
	if f, ok := a.stdout.(*os.File); ok && isTerminal(f) {
		return errors.New("refusing to write binary data to a terminal; use -o or redirect stdout")
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) url(args []string) error {
	if len(args) != 2 {
		return usageError{"expected <store> <key>"}
	}
	data, found, err := a.store().Get(args[0], args[1])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w %s/%s", errNotFound, args[0], args[1])
	}

	// Blob URLs die with the process that minted them, so the one-shot
	// command always prints a data: URL.
	u, err := displayurl.ToDisplayURL(data)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, u)
	return nil
}

func (a *app) serve(args []string) error {
	if len(args) != 0 {
		return usageError{"serve takes no arguments"}
	}

	opts := httpd.Options{
		Addr:            a.cfg.HTTP.Listen,
		Store:           a.store(),
		AllowedOrigins:  a.cfg.HTTP.AllowedOrigins,
		MaxUploadBytes:  a.cfg.HTTP.MaxUploadBytes,
		WritesPerSecond: a.cfg.HTTP.WritesPerSecond,
	}
	switch a.cfg.Display.Mode {
	case config.ModeBlob:
		reg, err := displayurl.NewRegistry(a.cfg.Display.BaseURL)
		if err != nil {
			return err
		}
		opts.Registry = reg
		opts.Converter = displayurl.NewConverter(reg)
	default:
		opts.Converter = displayurl.NewConverter(displayurl.DataURLIssuer{})
	}

	if err := os.MkdirAll(a.cfg.Store.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	srv := httpd.NewServer(opts)
	if err := srv.Listen(); err != nil {
		return err
	}
	clilog.Info("imagestash listening", "addr", srv.Addr(), "data_dir", a.cfg.Store.DataDir, "display_mode", a.cfg.Display.Mode)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := srv.Serve(ctx)
	clilog.Info("shut down")
	return err
}
