// Package butler provisions the itch.io butler binary used to apply .pwr
// content patches.
package butler

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	cerrors "github.com/luyumi/launcher/client/errors"
	"github.com/luyumi/launcher/client/internal/fetcher"
)

const (
	archiveName = "butler.zip"

	// curl-downloaded archives below this size are treated as error pages
	minCurlArchiveSize = 1000
)

var defaultMirrors = []string{
	"https://broth.itch.zone/butler",
	"https://dl.itch.ovh/butler",
	"https://storage.googleapis.com/broth/butler",
}

// Provisioner ensures the butler binary is present under a tool root.
type Provisioner struct {
	mirrors      []string
	fetchTimeout time.Duration
}

// NewProvisioner creates a Provisioner against the public butler mirrors.
func NewProvisioner() *Provisioner {
	return &Provisioner{mirrors: defaultMirrors, fetchTimeout: 60 * time.Second}
}

// NewProvisionerWithMirrors creates a Provisioner against custom mirror
// roots. Used by tests.
func NewProvisionerWithMirrors(mirrors []string) *Provisioner {
	return &Provisioner{mirrors: mirrors, fetchTimeout: 5 * time.Second}
}

// BinaryName returns the platform-specific butler executable name.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "butler.exe"
	}
	return "butler"
}

// DownloadURLs returns the prioritized mirror URLs for the given platform.
// On 64-bit ARM the full native tier precedes the amd64 fallback tier.
func (p *Provisioner) DownloadURLs(goos, goarch string) ([]string, error) {
	var suffixes []string
	switch goos {
	case "windows":
		suffixes = []string{"windows-amd64/LATEST/archive/default"}
	case "darwin", "linux":
		if goarch == "arm64" {
			suffixes = []string{
				goos + "-arm64/LATEST/archive/default",
				goos + "-amd64/LATEST/archive/default",
			}
		} else {
			suffixes = []string{goos + "-amd64/LATEST/archive/default"}
		}
	default:
		return nil, fmt.Errorf("operating system not supported: %s", goos)
	}

	var urls []string
	for _, suffix := range suffixes {
		for _, mirror := range p.mirrors {
			urls = append(urls, mirror+"/"+suffix)
		}
	}
	return urls, nil
}

// Ensure returns the path of a usable butler binary under toolsDir,
// downloading and extracting it when missing. Idempotent when a non-empty
// binary is already present.
func (p *Provisioner) Ensure(ctx context.Context, toolsDir string, onProgress fetcher.ProgressFunc) (string, error) {
	if err := os.MkdirAll(toolsDir, 0755); err != nil {
		return "", fmt.Errorf("create tools dir: %w", err)
	}

	binPath := filepath.Join(toolsDir, BinaryName())

	// Any running instance would block the overwrite on Windows
	killRunning()

	if info, err := os.Stat(binPath); err == nil {
		if info.Size() > 0 {
			return binPath, nil
		}
		if err := os.Remove(binPath); err != nil {
			log.Warnf("failed to remove empty butler binary: %v", err)
		}
	}

	urls, err := p.DownloadURLs(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}

	zipPath := filepath.Join(toolsDir, archiveName)
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to remove stale archive: %v", err)
	}

	var primaryErr *multierror.Error
	downloaded := false
	for _, url := range urls {
		if err := p.download(ctx, url, zipPath, onProgress); err != nil {
			log.Warnf("butler download failed for %s: %v", url, err)
			primaryErr = multierror.Append(primaryErr, fmt.Errorf("%s: %w", url, err))
			removeIfExists(zipPath)
			continue
		}
		downloaded = true
		break
	}

	if !downloaded {
		log.Warnf("all mirrors failed via HTTP, trying system curl")
		if err := p.curlFallback(ctx, urls, zipPath); err != nil {
			primaryErr = multierror.Append(primaryErr, err)
			return "", fmt.Errorf("failed to download butler: %w", cerrors.FormatErrorOrNil(primaryErr))
		}
	}

	if err := extractArchive(zipPath, toolsDir); err != nil {
		removeIfExists(zipPath)
		return "", fmt.Errorf("invalid butler archive: %w", err)
	}

	if err := locateBinary(toolsDir, binPath); err != nil {
		return "", err
	}

	if runtime.GOOS != "windows" {
		if err := ensureExecutable(binPath); err != nil {
			return "", fmt.Errorf("set executable bit: %w", err)
		}
	}

	removeIfExists(zipPath)
	return binPath, nil
}

func (p *Provisioner) download(ctx context.Context, url, zipPath string, onProgress fetcher.ProgressFunc) error {
	opts := &fetcher.Options{
		MaxRetries: 3,
		Timeout:    p.fetchTimeout,
		Resumable:  false,
		OnProgress: onProgress,
	}
	if _, err := fetcher.Fetch(ctx, url, zipPath, opts); err != nil {
		return err
	}
	return validateArchive(zipPath)
}

// curlFallback shells out to the system downloader when the in-process
// download path failed for every mirror.
func (p *Provisioner) curlFallback(ctx context.Context, urls []string, zipPath string) error {
	curl, err := exec.LookPath("curl")
	if err != nil {
		return fmt.Errorf("curl not found on system: %w", err)
	}

	var curlErr *multierror.Error
	for _, url := range urls {
		log.Infof("trying curl with %s", url)
		cmd := exec.CommandContext(ctx, curl,
			"-L",
			"--ipv4",
			"--retry", "3",
			"--retry-delay", "2",
			"--connect-timeout", "30",
			"--max-time", "120",
			"-o", zipPath,
			url,
		)
		hideWindow(cmd)
		if out, err := cmd.CombinedOutput(); err != nil {
			curlErr = multierror.Append(curlErr, fmt.Errorf("%s: %w: %s", url, err, string(out)))
			continue
		}

		info, err := os.Stat(zipPath)
		if err != nil || info.Size() <= minCurlArchiveSize {
			curlErr = multierror.Append(curlErr, fmt.Errorf("%s: curl produced empty or missing file", url))
			removeIfExists(zipPath)
			continue
		}
		if err := validateArchive(zipPath); err != nil {
			curlErr = multierror.Append(curlErr, fmt.Errorf("%s: %w", url, err))
			removeIfExists(zipPath)
			continue
		}
		return nil
	}

	return fmt.Errorf("all curl attempts failed: %w", cerrors.FormatErrorOrNil(curlErr))
}

// validateArchive confirms the downloaded file is a well-formed zip before
// it is trusted.
func validateArchive(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("not a valid zip archive: %w", err)
	}
	return r.Close()
}

func extractArchive(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			log.Warnf("error closing archive: %v", cerr)
		}
	}()

	for _, f := range r.File {
		if err := extractZipEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !filepath.IsLocal(f.Name) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// locateBinary moves the butler binary to the expected top-level path when
// the archive nested it in a subdirectory.
func locateBinary(toolsDir, binPath string) error {
	if info, err := os.Stat(binPath); err == nil && info.Size() > 0 {
		return nil
	}

	var found string
	err := filepath.WalkDir(toolsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == BinaryName() && path != binPath {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("search for butler binary: %w", err)
	}
	if found == "" {
		return fmt.Errorf("butler binary not found after extraction in %s", toolsDir)
	}

	if err := os.Rename(found, binPath); err != nil {
		return fmt.Errorf("relocate butler binary: %w", err)
	}
	return nil
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0111)
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to remove %s: %v", path, err)
	}
}
