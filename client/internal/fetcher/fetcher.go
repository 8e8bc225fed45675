// Package fetcher implements resumable HTTP artifact downloads with retry,
// linear backoff and stall detection.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal/fault"
	"github.com/luyumi/launcher/util"
)

const (
	// DefaultMaxRetries bounds the attempts for a single Fetch call
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the linear backoff base: delay = base * attempt
	DefaultRetryDelay = 2 * time.Second
	// DefaultStallWindow fails an attempt when no data arrives for this long
	DefaultStallWindow = 30 * time.Second
	// DefaultTimeout bounds the initial response (headers) of one attempt
	DefaultTimeout = 60 * time.Second

	chunkSize = 1024 * 1024
)

// ProgressFunc is invoked after each received chunk. total is 0 when the
// server omits a content length, in which case percent is not computed.
type ProgressFunc func(downloaded, total int64, percent float64)

// Options tune a single Fetch call. Zero values fall back to defaults.
type Options struct {
	MaxRetries  int
	RetryDelay  time.Duration
	StallWindow time.Duration
	Timeout     time.Duration
	Resumable   bool
	OnProgress  ProgressFunc
}

// Result describes a completed download.
type Result struct {
	Path    string
	Size    int64
	Resumed bool
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.StallWindow <= 0 {
		opts.StallWindow = DefaultStallWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts
}

// linearBackOff produces base*1, base*2, base*3, ... delays.
type linearBackOff struct {
	base    time.Duration
	attempt int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return l.base * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}

// Fetch downloads url into destPath, writing through a .tmp sibling that is
// atomically renamed into place on success. Only errors classified as
// transient are retried; everything else aborts immediately.
func Fetch(ctx context.Context, url, destPath string, options *Options) (*Result, error) {
	opts := options.withDefaults()

	if dir := filepath.Dir(destPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create destination dir: %w", err)
		}
	}

	var result *Result
	attempt := 0
	operation := func() error {
		attempt++
		log.Debugf("download attempt %d/%d: %s", attempt, opts.MaxRetries, url)

		res, err := fetchOnce(ctx, url, destPath, opts)
		if err != nil {
			log.Warnf("download attempt %d failed: %v", attempt, err)
			if !fault.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		result = res
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: opts.RetryDelay}, uint64(opts.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return result, nil
}

func fetchOnce(ctx context.Context, url, destPath string, opts Options) (*Result, error) {
	tempPath := destPath + ".tmp"

	var downloaded int64
	resumed := false
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC

	if info, err := os.Stat(tempPath); err == nil {
		if opts.Resumable && info.Size() > 0 {
			downloaded = info.Size()
			resumed = true
			flags = os.O_WRONLY | os.O_APPEND
		} else if err := os.Remove(tempPath); err != nil {
			return nil, fmt.Errorf("remove stale temp file: %w", err)
		}
	}

	// The stall watchdog cancels the request context when no data arrives
	// within the stall window.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(opts.StallWindow, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)
	if resumed {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(downloaded, 10)+"-")
	}

	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: opts.Timeout,
			Proxy:                 http.ProxyFromEnvironment,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyNetError(err, &stalled, opts.StallWindow)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK && resumed:
		// server ignored the range request, start over
		downloaded = 0
		resumed = false
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case resp.StatusCode >= 500:
		return nil, fault.New(fault.Transient, "server error: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	var total int64
	if resp.ContentLength > 0 {
		total = downloaded + resp.ContentLength
	}

	out, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open temp file %q: %w", tempPath, err)
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(opts.StallWindow)
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				_ = out.Close()
				return nil, fmt.Errorf("write chunk: %w", writeErr)
			}
			downloaded += int64(n)
			if opts.OnProgress != nil {
				percent := 0.0
				if total > 0 {
					percent = float64(downloaded) / float64(total) * 100
				}
				opts.OnProgress(downloaded, total, percent)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			_ = out.Close()
			return nil, classifyNetError(readErr, &stalled, opts.StallWindow)
		}
	}

	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return nil, fmt.Errorf("move %s to %s: %w", tempPath, destPath, err)
	}

	return &Result{Path: destPath, Size: downloaded, Resumed: resumed}, nil
}

// classifyNetError maps transport failures onto the closed error taxonomy.
func classifyNetError(err error, stalled *atomic.Bool, window time.Duration) error {
	if stalled != nil && stalled.Load() {
		return fault.New(fault.Transient, "download stalled (%s without data)", window)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fault.Wrap(fault.Transient, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fault.Wrap(fault.Transient, err)
	}
	return err
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://launcher.hytale.com/")
}

// CleanupTempFiles removes stray .tmp files left behind by failed downloads.
func CleanupTempFiles(dir string) {
	matches, err := util.ListFiles(dir, "*.tmp")
	if err != nil {
		log.Warnf("failed to list temp files in %s: %v", dir, err)
		return
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil {
			log.Warnf("failed to remove temp file %s: %v", match, err)
		}
	}
}
