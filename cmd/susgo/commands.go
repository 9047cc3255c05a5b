package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mattchengg/fusdl/internal/decrypt"
	"github.com/mattchengg/fusdl/internal/fus"
	"github.com/mattchengg/fusdl/internal/imei"
)

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n%s", name, fs.FlagUsagesWrapped(80))
	}
	return fs
}

func (a *app) informParams(version, deviceID string) fus.InformParams {
	return fus.InformParams{
		Model:   a.opts.model,
		Region:  a.opts.region,
		Version: version,
		IMEI:    deviceID,
	}
}

// deviceID resolves the identifier sent as DEVICE_IMEI_PUSH. A TAC is
// expanded into a full IMEI the server accepts for version.
func (a *app) deviceID(ctx context.Context, s *fus.Session, version string, required bool) (string, error) {
	switch {
	case a.opts.imei != "":
		gen := imei.NewGenerator(time.Now().UnixNano())
		return gen.Resolve(ctx, a.opts.imei, func(ctx context.Context, candidate string) (bool, error) {
			return a.client.CheckInform(ctx, s, a.informParams(version, candidate))
		})
	case a.opts.serial != "":
		zerolog.Ctx(ctx).Info().Str("serial", a.opts.serial).Msg("using serial number")
		return a.opts.serial, nil
	case required:
		return "", fmt.Errorf("%w: IMEI or serial number is required", errUsage)
	}
	return "", nil
}

// fileInfo runs the session and binary-info steps shared by all commands.
func (a *app) fileInfo(ctx context.Context, version string, requireDevice bool) (*fus.Session, *fus.BinaryInfo, error) {
	s, err := a.client.BeginSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	id, err := a.deviceID(ctx, s, version, requireDevice)
	if err != nil {
		return nil, nil, err
	}
	info, err := a.client.FileInfo(ctx, s, a.informParams(version, id))
	if err != nil {
		return nil, nil, err
	}
	return s, info, nil
}

func (a *app) printInfo(info *fus.BinaryInfo) {
	fmt.Fprintln(a.stdout, "Device:", a.opts.model)
	if info.DisplayName != "" {
		fmt.Fprintln(a.stdout, "Model:", info.DisplayName)
	}
	fmt.Fprintln(a.stdout, "CSC:", a.opts.region)
	fmt.Fprintln(a.stdout, "FW Version:", info.Version)
	if info.OSVersion != "" {
		fmt.Fprintln(a.stdout, "OS Version:", info.OSVersion)
	}
	fmt.Fprintln(a.stdout, "Binary:", info.BinaryName)
	fmt.Fprintf(a.stdout, "FW Size: %.3f GB\n", float64(info.BinarySize)/(1024*1024*1024))
	fmt.Fprintln(a.stdout, "Encryption:", info.DecryptKey.Scheme)
}

func (a *app) runCheck(ctx context.Context, args []string) error {
	fs := newFlagSet("check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vi, err := a.client.FetchVersionInfo(ctx, a.opts.model, a.opts.region)
	if err != nil {
		return err
	}
	if vi.Latest.Version == "" {
		return fus.ErrNoFirmware
	}
	fmt.Fprintln(a.stdout, vi.Latest.Version)
	for _, u := range vi.Upgrade {
		fmt.Fprintf(a.stdout, "Upgrade from %s (%s)\n", u.Version, formatSize(u.Size))
	}

	_, info, err := a.fileInfo(ctx, vi.Latest.Version, false)
	if err != nil {
		return fmt.Errorf("get binary info: %w", err)
	}
	a.printInfo(info)
	return nil
}

type downloadOptions struct {
	outDir       string
	output       string
	version      string
	downloadOnly bool
	resume       bool
	showMD5      bool
}

func (a *app) runDownload(ctx context.Context, args []string) error {
	var o downloadOptions
	fs := newFlagSet("download")
	fs.StringVarP(&o.outDir, "out-dir", "O", "", "Save the firmware in `DIR`.")
	fs.StringVarP(&o.output, "output", "o", "", "Save the firmware as `FILE`.")
	fs.StringVarP(&o.version, "fw-version", "v", "", "Firmware `VERSION` (latest if not given).")
	fs.BoolVar(&o.downloadOnly, "download-only", false, "Keep the encrypted file, do not decrypt.")
	fs.BoolVarP(&o.resume, "resume", "R", false, "Resume a partial download.")
	fs.BoolVarP(&o.showMD5, "show-md5", "M", false, "Print the MD5 sent by the server.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.outDir == "" && o.output == "" {
		return fmt.Errorf("%w: either -O or -o must be specified", errUsage)
	}

	log := zerolog.Ctx(ctx)

	if o.version == "" {
		v, err := a.client.FetchVersion(ctx, a.opts.model, a.opts.region)
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		o.version = v
	}

	s, info, err := a.fileInfo(ctx, o.version, true)
	if err != nil {
		return fmt.Errorf("get binary info: %w", err)
	}

	out := outputPath(o.outDir, o.output, info.BinaryName)
	decrypted := fus.DecryptedName(out)
	a.printInfo(info)
	fmt.Fprintln(a.stdout, "File Path:", out)

	if !o.downloadOnly && decrypted != out && fileExists(decrypted) {
		fmt.Fprintln(a.stdout, "File already downloaded and decrypted!")
		return nil
	}

	offset, err := resumeOffset(out, o.resume)
	if err != nil {
		return err
	}
	switch {
	case offset == info.BinarySize && offset > 0:
		fmt.Fprintln(a.stdout, "Already downloaded!")
	case offset > info.BinarySize:
		log.Warn().Int64("have", offset).Int64("size", info.BinarySize).Msg("local file larger than binary, restarting")
		offset = 0
		fallthrough
	default:
		if err := a.fetch(ctx, s, info, out, offset, o.showMD5); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "Download completed.")
	}

	if o.downloadOnly {
		return nil
	}
	if !info.DecryptKey.Known() {
		log.Warn().Str("binary", info.BinaryName).Msg("unknown encryption, leaving file as downloaded")
		return nil
	}

	fmt.Fprintln(a.stdout, "Decrypting", out)
	if err := a.decryptFile(ctx, info.DecryptKey, out, decrypted); err != nil {
		return err
	}
	if err := os.Remove(out); err != nil {
		log.Warn().Err(err).Str("file", out).Msg("could not remove encrypted file")
	}
	fmt.Fprintf(a.stdout, "File %s has been decrypted.\n", decrypted)
	return nil
}

// fetch downloads info's binary into out, appending from offset.
func (a *app) fetch(ctx context.Context, s *fus.Session, info *fus.BinaryInfo, out string, offset int64, showMD5 bool) error {
	log := zerolog.Ctx(ctx)
	if offset > 0 {
		log.Info().Int64("offset", offset).Str("file", info.BinaryName).Msg("resuming")
	} else {
		log.Info().Str("file", info.BinaryName).Msg("downloading")
	}

	if err := a.client.InitDownload(ctx, s, info.BinaryName); err != nil {
		return fmt.Errorf("init download: %w", err)
	}
	resp, err := a.client.Download(ctx, s, info, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if showMD5 {
		if sum := resp.Header.Get("Content-MD5"); sum != "" {
			if decoded, err := base64.StdEncoding.DecodeString(sum); err == nil {
				fmt.Fprintf(a.stdout, "MD5: %x\n", decoded)
			} else {
				fmt.Fprintln(a.stdout, "MD5:", sum)
			}
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	fd, err := os.OpenFile(out, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}

	bar := newProgressBar(a.stderr, info.BinarySize, offset)
	err = withProgress(ctx, bar, func(context.Context) error {
		_, err := io.Copy(fd, io.TeeReader(resp.Body, bar))
		return err
	})
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// withProgress runs work while bar renders in a second goroutine.
func withProgress(ctx context.Context, bar *progressBar, work func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error { return bar.Run(gctx, done) })
	g.Go(func() error {
		defer close(done)
		return work(gctx)
	})
	return g.Wait()
}

// decryptFile decrypts in into out. out is removed when decryption fails.
func (a *app) decryptFile(ctx context.Context, key fus.DecryptKey, in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer src.Close()

	var size int64
	if st, err := src.Stat(); err == nil {
		size = st.Size()
	}

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	bw := bufio.NewWriterSize(dst, 1<<20)
	bar := newProgressBar(a.stderr, size, 0)
	err = withProgress(ctx, bar, func(ctx context.Context) error {
		r := io.TeeReader(bufio.NewReaderSize(src, 1<<20), bar)
		_, err := decrypt.Decrypt(ctx, key.Bytes(), r, bw, a.cfg.DecryptOptions()...)
		return err
	})
	if err == nil {
		err = bw.Flush()
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(out); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			zerolog.Ctx(ctx).Warn().Err(rerr).Str("file", out).Msg("could not remove partial output")
		}
		return fmt.Errorf("decrypt %s: %w", in, err)
	}
	return nil
}

func (a *app) runDecrypt(ctx context.Context, args []string) error {
	var (
		version string
		input   string
		output  string
		encVer  int
	)
	fs := newFlagSet("decrypt")
	fs.StringVarP(&version, "fw-version", "v", "", "Firmware `VERSION` of the input file.")
	fs.StringVarP(&input, "input", "I", "", "Encrypted input `FILE`.")
	fs.StringVarP(&output, "output", "o", "", "Decrypted output `FILE`.")
	fs.IntVarP(&encVer, "enc-version", "V", 4, "Encryption version (2 or 4).")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if version == "" || input == "" || output == "" {
		return fmt.Errorf("%w: -v, -I and -o are required for decrypt", errUsage)
	}
	version = fus.NormalizeVersion(version)

	var key fus.DecryptKey
	switch encVer {
	case 2:
		key = fus.V2Key(a.opts.model, a.opts.region, version)
	case 4:
		_, info, err := a.fileInfo(ctx, version, true)
		if err != nil {
			return fmt.Errorf("get decryption key: %w", err)
		}
		// The key is bound to the version the server reports, not the one asked for.
		key = info.DecryptKey
		if key.Scheme != fus.SchemeV4 {
			key = fus.SelectKey(ctx, a.opts.model, a.opts.region, fus.KeyFields{
				BinaryName:        fus.SchemeV4.Suffix(),
				Version:           info.Version,
				LogicValueFactory: info.LogicValueFactory,
			})
		}
	default:
		return fmt.Errorf("%w: encryption version must be 2 or 4, got %d", errUsage, encVer)
	}
	zerolog.Ctx(ctx).Debug().Str("key", key.String()).Msg("decryption key")

	if err := a.decryptFile(ctx, key, input, output); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Decryption completed.")
	return nil
}

// outputPath picks the download destination. An output naming an existing
// directory is treated like an output directory.
func outputPath(outDir, output, binaryName string) string {
	if output == "" {
		return filepath.Join(outDir, binaryName)
	}
	if st, err := os.Stat(output); err == nil && st.IsDir() {
		return filepath.Join(output, binaryName)
	}
	return output
}

// resumeOffset returns the size of an existing partial download, or 0 when
// not resuming.
func resumeOffset(path string, resume bool) (int64, error) {
	if !resume {
		return 0, nil
	}
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
