package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/mattchengg/fusdl/internal/config"
	"github.com/mattchengg/fusdl/internal/fus"
)

// errUsage marks errors caused by bad command line input.
var errUsage = errors.New("usage")

type globalOptions struct {
	model   string
	region  string
	imei    string
	serial  string
	config  string
	verbose bool
}

type app struct {
	opts   globalOptions
	cfg    *config.Config
	client *fus.Client
	stdout io.Writer
	stderr *os.File
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts globalOptions
	fs := pflag.NewFlagSet("susgo", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.StringVarP(&opts.model, "model", "m", "", "Device `MODEL` (e.g. SM-G998B).")
	fs.StringVarP(&opts.region, "region", "r", "", "Device `REGION` code (e.g. EUX, XAR).")
	fs.StringVarP(&opts.imei, "imei", "i", "", "Device IMEI (15 digits) or TAC (8 digits).")
	fs.StringVarP(&opts.serial, "serial", "s", "", "Device serial number, for devices without IMEI.")
	fs.StringVar(&opts.config, "config", "", "Read settings from YAML `FILE`.")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging.")
	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 || opts.model == "" || opts.region == "" {
		printUsage(fs)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = newLogger(os.Stderr, opts.verbose).WithContext(ctx)

	cfg, err := config.Load(opts.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	a := &app{
		opts:   opts,
		cfg:    cfg,
		client: fus.NewClient(cfg.ClientOptions()...),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	var cmdErr error
	switch cmd := rest[0]; cmd {
	case "check", "checkupdate":
		cmdErr = a.runCheck(ctx, rest[1:])
	case "download":
		cmdErr = a.runDownload(ctx, rest[1:])
	case "decrypt":
		cmdErr = a.runDecrypt(ctx, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage(fs)
		return 2
	}

	switch {
	case cmdErr == nil:
		return 0
	case errors.Is(cmdErr, pflag.ErrHelp):
		return 0
	case errors.Is(cmdErr, errUsage):
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		return 2
	case ctx.Err() != nil:
		fmt.Fprintln(os.Stderr, "Interrupted.")
		return 1
	case fus.IsAuthError(cmdErr) || fus.IsCryptoError(cmdErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		fmt.Fprintln(os.Stderr, "The server did not hand out a usable session, try again later.")
		return 1
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		return 1
	}
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().
		Logger()
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `susgo - Samsung Firmware Downloader

Usage:
  susgo -m <model> -r <region> [-i <IMEI/TAC>] check
  susgo -m <model> -r <region> -i <IMEI/TAC> download (-O <dir> | -o <file>) [-v <version>]
  susgo -m <model> -r <region> [-i <IMEI/TAC>] decrypt -v <version> -I <input> -o <output> [-V 2|4]

Options:
%s
Commands:
  check     Show the latest firmware and its binary
  download  Download firmware, decrypting it unless --download-only is set
  decrypt   Decrypt a downloaded .enc2/.enc4 file

Examples:
  susgo -m SM-G998B -r EUX check
  susgo -m SM-G998B -r EUX -i 35123456 download -O .
  susgo -m SM-G998B -r EUX -i 351234567890123 decrypt -v VER/CODE -I file.enc4 -o file.zip
`, fs.FlagUsagesWrapped(80))
}
