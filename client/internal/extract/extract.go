// Package extract applies .pwr content patches to the install directory by
// driving the butler tool, and validates the resulting layout.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal/fault"
)

const (
	stagingDirName = "staging-temp"

	// DefaultMinPatchSize rejects truncated patch artifacts
	DefaultMinPatchSize = 10 * 1024 * 1024
	// DefaultMinClientSize below which an existing client is not trusted
	// for the skip-if-installed fast path
	DefaultMinClientSize = 20 * 1024 * 1024
	// DefaultApplyTimeout is the hard ceiling for one butler apply run
	DefaultApplyTimeout = 10 * time.Minute
)

// ProgressFunc reports apply progress as a message and a 0-100 percent.
type ProgressFunc func(message string, percent int)

// Applier runs butler apply against an install directory.
type Applier struct {
	MinPatchSize  int64
	MinClientSize int64
	ApplyTimeout  time.Duration
}

// NewApplier returns an Applier with production thresholds.
func NewApplier() *Applier {
	return &Applier{
		MinPatchSize:  DefaultMinPatchSize,
		MinClientSize: DefaultMinClientSize,
		ApplyTimeout:  DefaultApplyTimeout,
	}
}

// ValidatePatch checks that the patch artifact exists, is a regular file of
// plausible size and can be opened.
func (a *Applier) ValidatePatch(pwrPath string) error {
	info, err := os.Stat(pwrPath)
	if err != nil {
		return fault.New(fault.Integrity, "patch file not found: %s", pwrPath)
	}
	if !info.Mode().IsRegular() {
		return fault.New(fault.Integrity, "patch path is not a regular file: %s", pwrPath)
	}
	if info.Size() < a.MinPatchSize {
		return fault.New(fault.Integrity, "patch file suspiciously small: %d bytes", info.Size())
	}

	f, err := os.Open(pwrPath)
	if err != nil {
		return fault.New(fault.Integrity, "patch file is not readable: %s", pwrPath)
	}
	defer f.Close()
	if _, err := f.Read(make([]byte, 1024)); err != nil {
		return fault.New(fault.Integrity, "patch file is not readable: %s", pwrPath)
	}

	return nil
}

// Apply stages and applies the patch onto targetDir via butler. When
// skipIfInstalled is set and a sufficiently large client already exists the
// extraction is skipped entirely.
func (a *Applier) Apply(ctx context.Context, pwrFile, targetDir, butlerPath string, onProgress ProgressFunc, skipIfInstalled bool) error {
	if err := a.ValidatePatch(pwrFile); err != nil {
		return err
	}

	stagingDir := filepath.Join(targetDir, stagingDirName)

	if skipIfInstalled && a.installedClient(targetDir) != "" {
		log.Infof("game already installed at %s, skipping extraction", targetDir)
		reportProgress(onProgress, "Game already installed, skipping extraction", 100)
		if err := os.RemoveAll(stagingDir); err != nil {
			log.Warnf("failed to clean stale staging dir: %v", err)
		}
		return nil
	}

	if err := a.runButlerApply(ctx, pwrFile, targetDir, butlerPath, stagingDir, onProgress); err != nil {
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			log.Warnf("failed to clean staging dir after error: %v", rmErr)
		}
		return err
	}

	reportProgress(onProgress, "Finalizing installation...", 90)

	if runtime.GOOS != "windows" {
		EnsureExecutablePermissions(targetDir)
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		log.Warnf("failed to remove staging dir: %v", err)
	}
	return nil
}

func (a *Applier) runButlerApply(ctx context.Context, pwrFile, targetDir, butlerPath, stagingDir string, onProgress ProgressFunc) error {
	reportProgress(onProgress, "Preparing staging directory...", 10)

	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clean staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	if _, err := os.Stat(butlerPath); err != nil {
		return fault.New(fault.Environment, "butler not found at: %s", butlerPath)
	}

	reportProgress(onProgress, "Extracting files...", 30)

	applyCtx, cancel := context.WithTimeout(ctx, a.ApplyTimeout)
	defer cancel()

	cmd := exec.CommandContext(applyCtx, butlerPath, "apply", "--staging-dir", stagingDir, pwrFile, targetDir)
	hideWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(applyCtx.Err(), context.DeadlineExceeded) {
		return fault.New(fault.ToolFailure, "butler apply timed out after %s", a.ApplyTimeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = "unknown butler error"
		}
		return fault.New(fault.ToolFailure, "butler apply failed: %s", msg)
	}

	return nil
}

// installedClient returns the path of an existing client binary that is
// large enough to trust, or empty.
func (a *Applier) installedClient(targetDir string) string {
	client := FindClient(targetDir)
	if client == "" {
		return ""
	}
	info, err := os.Stat(client)
	if err != nil || info.Size() < a.MinClientSize {
		return ""
	}
	return client
}

// Validate confirms a runnable client exists under targetDir.
func Validate(targetDir string) error {
	if FindClient(targetDir) == "" {
		return fault.New(fault.Environment, "game executable not found under %s", targetDir)
	}
	return nil
}

// FindClient returns the first existing client binary candidate, or empty.
func FindClient(targetDir string) string {
	for _, candidate := range ClientCandidates(targetDir) {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// ClientCandidates lists the platform-specific locations a runnable client
// may live at, in probe order.
func ClientCandidates(targetDir string) []string {
	return clientCandidatesFor(runtime.GOOS, targetDir)
}

func clientCandidatesFor(goos, targetDir string) []string {
	switch goos {
	case "windows":
		return []string{
			filepath.Join(targetDir, "Client", "HytaleClient.exe"),
			filepath.Join(targetDir, "HytaleClient.exe"),
			filepath.Join(targetDir, "Hytale", "Client", "HytaleClient.exe"),
		}
	case "darwin":
		return []string{
			filepath.Join(targetDir, "Client", "Hytale.app", "Contents", "MacOS", "HytaleClient"),
			filepath.Join(targetDir, "Client", "HytaleClient"),
			filepath.Join(targetDir, "Hytale.app", "Contents", "MacOS", "HytaleClient"),
		}
	default:
		return []string{
			filepath.Join(targetDir, "Client", "HytaleClient"),
			filepath.Join(targetDir, "HytaleClient"),
		}
	}
}

// EnsureExecutablePermissions restores the executable bit on every client
// candidate that exists. No-op on Windows callers.
func EnsureExecutablePermissions(targetDir string) {
	for _, candidate := range ClientCandidates(targetDir) {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if err := os.Chmod(candidate, info.Mode()|0111); err != nil {
			log.Warnf("failed to set executable permission for %s: %v", candidate, err)
		}
	}
}

func reportProgress(onProgress ProgressFunc, message string, percent int) {
	if onProgress != nil {
		onProgress(message, percent)
	}
}
