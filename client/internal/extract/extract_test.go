package extract

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luyumi/launcher/client/internal/fault"
)

func testApplier() *Applier {
	return &Applier{
		MinPatchSize:  16,
		MinClientSize: 16,
		ApplyTimeout:  5 * time.Second,
	}
}

func writePatch(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "7.pwr")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

// fakeButler writes a shell script standing in for the real tool.
func fakeButler(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool stub not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "butler")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestValidatePatch(t *testing.T) {
	a := testApplier()
	dir := t.TempDir()

	err := a.ValidatePatch(filepath.Join(dir, "missing.pwr"))
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Integrity))

	err = a.ValidatePatch(dir)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Integrity))

	small := writePatch(t, dir, 4)
	err = a.ValidatePatch(small)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suspiciously small")

	ok := writePatch(t, t.TempDir(), 64)
	assert.NoError(t, a.ValidatePatch(ok))
}

func TestApplySkipsWhenInstalled(t *testing.T) {
	a := testApplier()
	targetDir := t.TempDir()
	patch := writePatch(t, t.TempDir(), 64)

	client := ClientCandidates(targetDir)[0]
	require.NoError(t, os.MkdirAll(filepath.Dir(client), 0755))
	require.NoError(t, os.WriteFile(client, make([]byte, 64), 0755))

	staging := filepath.Join(targetDir, stagingDirName)
	require.NoError(t, os.MkdirAll(staging, 0755))

	var lastPercent int
	// bogus tool path proves the tool is never invoked on the fast path
	err := a.Apply(context.Background(), patch, targetDir, "/nonexistent/butler", func(_ string, percent int) {
		lastPercent = percent
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 100, lastPercent)

	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err), "stale staging dir must be cleaned")
}

func TestApplyRunsTool(t *testing.T) {
	a := testApplier()
	targetDir := t.TempDir()
	patch := writePatch(t, t.TempDir(), 64)

	// the stub records its argument form and produces a client binary
	tool := fakeButler(t, `
echo "$@" > "$5/invocation.txt"
mkdir -p "$5/Client"
head -c 64 /dev/zero > "$5/Client/HytaleClient"
`)

	err := a.Apply(context.Background(), patch, targetDir, tool, nil, false)
	require.NoError(t, err)

	invocation, err := os.ReadFile(filepath.Join(targetDir, "invocation.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(invocation), "apply --staging-dir "+filepath.Join(targetDir, stagingDirName))

	_, err = os.Stat(filepath.Join(targetDir, stagingDirName))
	assert.True(t, os.IsNotExist(err), "staging dir must be removed after success")

	info, err := os.Stat(filepath.Join(targetDir, "Client", "HytaleClient"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111, "client executable bit must be restored")

	assert.NoError(t, Validate(targetDir))
}

func TestApplyToolFailureSurfacesStderr(t *testing.T) {
	a := testApplier()
	targetDir := t.TempDir()
	patch := writePatch(t, t.TempDir(), 64)

	tool := fakeButler(t, `echo "signature mismatch" >&2; exit 2`)

	err := a.Apply(context.Background(), patch, targetDir, tool, nil, false)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ToolFailure))
	assert.Contains(t, err.Error(), "signature mismatch")

	_, err = os.Stat(filepath.Join(targetDir, stagingDirName))
	assert.True(t, os.IsNotExist(err), "staging dir must be cleaned on failure")
}

func TestApplyTimeout(t *testing.T) {
	a := testApplier()
	a.ApplyTimeout = 100 * time.Millisecond
	targetDir := t.TempDir()
	patch := writePatch(t, t.TempDir(), 64)

	tool := fakeButler(t, `sleep 5`)

	err := a.Apply(context.Background(), patch, targetDir, tool, nil, false)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ToolFailure))
	assert.Contains(t, err.Error(), "timed out")
}

func TestValidateMissingClient(t *testing.T) {
	err := Validate(t.TempDir())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Environment))
}

func TestClientCandidatesPerPlatform(t *testing.T) {
	windows := clientCandidatesFor("windows", "game")
	require.NotEmpty(t, windows)
	assert.Equal(t, filepath.Join("game", "Client", "HytaleClient.exe"), windows[0])

	darwin := clientCandidatesFor("darwin", "game")
	assert.Contains(t, darwin[0], "Hytale.app")

	linux := clientCandidatesFor("linux", "game")
	assert.Equal(t, filepath.Join("game", "Client", "HytaleClient"), linux[0])
}
