package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luyumi/launcher/client/internal/fault"
)

func testOptions() *Options {
	return &Options{
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		StallWindow: time.Second,
		Timeout:     time.Second,
	}
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")

	var lastPercent float64
	opts := testOptions()
	opts.OnProgress = func(downloaded, total int64, percent float64) {
		assert.Equal(t, int64(len(payload)), total)
		lastPercent = percent
	}

	res, err := Fetch(context.Background(), srv.URL, dest, opts)
	require.NoError(t, err)
	assert.Equal(t, dest, res.Path)
	assert.Equal(t, int64(len(payload)), res.Size)
	assert.False(t, res.Resumed)
	assert.InDelta(t, 100.0, lastPercent, 0.01)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = os.Stat(dest + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchResume(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 8192)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := int64(0)
		if rng := r.Header.Get("Range"); rng != "" {
			value := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
			offset, _ = strconv.ParseInt(value, 10, 64)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
			w.WriteHeader(http.StatusPartialContent)
		}
		_, _ = w.Write(payload[offset:])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")

	// simulate an interrupted transfer
	half := len(payload) / 2
	require.NoError(t, os.WriteFile(dest+".tmp", payload[:half], 0644))

	opts := testOptions()
	opts.Resumable = true

	res, err := Fetch(context.Background(), srv.URL, dest, opts)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, int64(len(payload)), res.Size)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchRetryCeiling(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")

	_, err := Fetch(context.Background(), srv.URL, dest, testOptions())
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchNonRetryableAbortsImmediately(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")

	_, err := Fetch(context.Background(), srv.URL, dest, testOptions())
	require.Error(t, err)
	assert.False(t, fault.IsTransient(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchStallDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 16))
		w.(http.Flusher).Flush()
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "artifact.bin")

	opts := testOptions()
	opts.MaxRetries = 1
	opts.StallWindow = 100 * time.Millisecond

	_, err := Fetch(context.Background(), srv.URL, dest, opts)
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
	assert.Contains(t, err.Error(), "stalled")
}

func TestCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pwr.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pwr"), []byte("x"), 0644))

	CleanupTempFiles(dir)

	_, err := os.Stat(filepath.Join(dir, "a.pwr.tmp"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "a.pwr"))
	assert.NoError(t, err)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{base: 2 * time.Second}
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 6*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}
