package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	refreshInterval = 100 * time.Millisecond
	defaultBarWidth = 40
)

// progressBar renders transfer progress on a terminal. It counts the bytes
// written to it, so it can sit behind an io.TeeReader.
type progressBar struct {
	total   int64
	start   int64
	current atomic.Int64
	width   int
	began   time.Time
	out     io.Writer
	enabled bool
}

// newProgressBar returns a bar for total bytes, of which start are already
// done. Rendering is disabled when out is not a terminal.
func newProgressBar(out *os.File, total, start int64) *progressBar {
	p := &progressBar{
		total: total,
		start: start,
		width: defaultBarWidth,
		began: time.Now(),
		out:   out,
	}
	p.current.Store(start)
	if out != nil && term.IsTerminal(int(out.Fd())) {
		p.enabled = true
		if cols, _, err := term.GetSize(int(out.Fd())); err == nil && cols < 100 {
			p.width = max(cols-60, 10)
		}
	}
	return p
}

func (p *progressBar) Write(b []byte) (int, error) {
	p.current.Add(int64(len(b)))
	return len(b), nil
}

// Run redraws the bar until done is closed or ctx is cancelled.
func (p *progressBar) Run(ctx context.Context, done <-chan struct{}) error {
	if !p.enabled {
		return nil
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return nil
		case <-done:
			fmt.Fprintf(p.out, "\r%s\n", p.line(time.Since(p.began)))
			return nil
		case <-ticker.C:
			fmt.Fprintf(p.out, "\r%s", p.line(time.Since(p.began)))
		}
	}
}

func (p *progressBar) line(elapsed time.Duration) string {
	current := p.current.Load()
	if p.total <= 0 {
		return fmt.Sprintf("%s  ", formatSize(current))
	}

	pct := float64(current) / float64(p.total)
	filled := min(int(pct*float64(p.width)), p.width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)

	var speed float64
	if secs := elapsed.Seconds(); secs >= 0.1 {
		speed = float64(current-p.start) / secs
	}

	eta := "--"
	if speed > 0 {
		eta = formatETA(float64(p.total-current) / speed)
	}

	return fmt.Sprintf("[%s] %5.1f%% %s/%s %s/s ETA %s  ",
		bar,
		pct*100,
		formatSize(current),
		formatSize(p.total),
		formatSize(int64(speed)),
		eta,
	)
}

func formatETA(remaining float64) string {
	secs := int(remaining)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh%dm", secs/3600, secs%3600/60)
	}
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(div), "KMGTPE"[exp])
}
