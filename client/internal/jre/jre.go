// Package jre resolves and provisions the Java runtime the game client
// requires.
package jre

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal/fault"
	"github.com/luyumi/launcher/client/internal/fetcher"
	"github.com/luyumi/launcher/client/internal/release"
	"github.com/luyumi/launcher/util"
)

// DefaultFeedURL declares the runtime archive per OS/arch with a checksum.
const DefaultFeedURL = "https://launcher.hytale.com/version/release/jre.json"

var versionPattern = regexp.MustCompile(`version "([^"]+)"`)

// ExecutableName returns the platform java binary name.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

// Provisioner downloads and unpacks the bundled runtime.
type Provisioner struct {
	feedURL    string
	httpClient *http.Client
}

// NewProvisioner creates a Provisioner against the default runtime feed.
func NewProvisioner() *Provisioner {
	return NewProvisionerWithFeed(DefaultFeedURL)
}

// NewProvisionerWithFeed creates a Provisioner against a custom feed URL.
func NewProvisionerWithFeed(feedURL string) *Provisioner {
	return &Provisioner{
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveJavaPath interprets a user-supplied runtime location: an absolute
// file, a runtime home directory, or a bare command resolved on PATH.
// Returns empty when nothing usable is found.
func ResolveJavaPath(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	expanded := expandHome(trimmed)
	if info, err := os.Stat(expanded); err == nil {
		if info.IsDir() {
			candidate := filepath.Join(expanded, "bin", ExecutableName())
			if util.FileExists(candidate) {
				return candidate
			}
			return ""
		}
		return expanded
	}

	if !filepath.IsAbs(expanded) {
		if path, err := exec.LookPath(trimmed); err == nil {
			return path
		}
	}
	return ""
}

// DetectSystemJava probes the environment for an installed runtime:
// JAVA_HOME, the macOS java_home helper, then PATH.
func DetectSystemJava() string {
	if home := os.Getenv("JAVA_HOME"); home != "" {
		candidate := filepath.Join(home, "bin", ExecutableName())
		if util.FileExists(candidate) {
			return candidate
		}
	}

	if runtime.GOOS == "darwin" {
		if candidate := macJavaHome(); candidate != "" && util.FileExists(candidate) {
			return candidate
		}
	}

	if path, err := exec.LookPath("java"); err == nil {
		return path
	}
	return ""
}

func macJavaHome() string {
	out, err := exec.Command("/usr/libexec/java_home").Output()
	if err != nil {
		return ""
	}
	home := strings.TrimSpace(string(out))
	if home == "" {
		return ""
	}
	return filepath.Join(home, "bin", ExecutableName())
}

// BundledJavaPath returns the java binary under the bundled runtime dir, or
// empty when not installed.
func BundledJavaPath(jreDir string) string {
	candidates := []string{
		filepath.Join(jreDir, "bin", ExecutableName()),
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, filepath.Join(jreDir, "Contents", "Home", "bin", ExecutableName()))
	}
	for _, candidate := range candidates {
		if util.FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// Version parses the runtime's self-reported version string.
func Version(javaPath string) string {
	if javaPath == "" || !util.FileExists(javaPath) {
		return ""
	}
	// the version banner is printed to stderr
	out, err := exec.Command(javaPath, "-version").CombinedOutput()
	if err != nil {
		return ""
	}
	if m := versionPattern.FindSubmatch(out); m != nil {
		return string(m[1])
	}
	return "unknown"
}

type feedEntry struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

type feedDoc struct {
	DownloadURL map[string]map[string]feedEntry `json:"download_url"`
}

// ProgressFunc reports provisioning progress.
type ProgressFunc func(message string, percent int)

// EnsureBundled makes sure a usable runtime exists under jreDir,
// downloading and unpacking the declared archive when missing.
func (p *Provisioner) EnsureBundled(ctx context.Context, jreDir, cacheDir string, onProgress ProgressFunc) error {
	if BundledJavaPath(jreDir) != "" {
		log.Debugf("bundled runtime found under %s, skipping download", jreDir)
		return nil
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	entry, err := p.feedEntry(ctx)
	if err != nil {
		return err
	}

	cacheFile := filepath.Join(cacheDir, filepath.Base(entry.URL))
	if !util.FileExists(cacheFile) {
		report(onProgress, "Fetching runtime...", 0)
		if _, err := fetcher.Fetch(ctx, entry.URL, cacheFile, &fetcher.Options{Resumable: true}); err != nil {
			return fmt.Errorf("download runtime archive: %w", err)
		}
	}

	report(onProgress, "Validating files...", 50)
	if err := verifyChecksum(cacheFile, entry.SHA256); err != nil {
		if rmErr := os.Remove(cacheFile); rmErr != nil {
			log.Warnf("failed to remove corrupt archive: %v", rmErr)
		}
		return err
	}

	report(onProgress, "Unpacking runtime...", 70)
	if err := extractRuntime(cacheFile, jreDir); err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		for _, candidate := range []string{
			filepath.Join(jreDir, "bin", ExecutableName()),
			filepath.Join(jreDir, "Contents", "Home", "bin", ExecutableName()),
		} {
			if info, err := os.Stat(candidate); err == nil {
				if err := os.Chmod(candidate, info.Mode()|0111); err != nil {
					log.Warnf("failed to set executable bit on %s: %v", candidate, err)
				}
			}
		}
	}

	flattenDir(jreDir)

	if err := os.Remove(cacheFile); err != nil {
		log.Warnf("failed to remove cached archive: %v", err)
	}

	log.Infof("runtime ready under %s", jreDir)
	return nil
}

func (p *Provisioner) feedEntry(ctx context.Context) (*feedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch runtime feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read runtime feed: %w", err)
	}

	doc := &feedDoc{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("parse runtime feed: %w", err)
	}

	osEntries, ok := doc.DownloadURL[runtime.GOOS]
	if !ok {
		return nil, fault.New(fault.Environment, "runtime unavailable for platform: %s", runtime.GOOS)
	}
	entry, ok := osEntries[release.NormalizedArch()]
	if !ok {
		return nil, fault.New(fault.Environment, "runtime unavailable for architecture %s on %s", release.NormalizedArch(), runtime.GOOS)
	}
	return &entry, nil
}

func verifyChecksum(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, expected) {
		return fault.New(fault.Integrity, "runtime archive checksum mismatch: expected %s got %s", expected, got)
	}
	return nil
}

func extractRuntime(archivePath, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("clean runtime dir: %w", err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTarGz(archivePath, destDir)
	default:
		return fault.New(fault.Integrity, "archive type not supported: %s", archivePath)
	}
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if !filepath.IsLocal(f.Name) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		mode := f.Mode().Perm()
		if mode == 0 {
			mode = 0644
		}
		if err := writeZipEntry(f, target, mode); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string, mode os.FileMode) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !filepath.IsLocal(hdr.Name) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

// flattenDir lifts the contents of a single nested directory up one level,
// the shape most runtime archives unpack into.
func flattenDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return
	}

	nested := filepath.Join(dir, entries[0].Name())
	nestedEntries, err := os.ReadDir(nested)
	if err != nil {
		return
	}

	for _, entry := range nestedEntries {
		src := filepath.Join(nested, entry.Name())
		dst := filepath.Join(dir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			log.Warnf("could not restructure runtime directory: %v", err)
			return
		}
	}
	if err := os.Remove(nested); err != nil {
		log.Warnf("could not remove nested runtime directory: %v", err)
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func report(onProgress ProgressFunc, message string, percent int) {
	if onProgress != nil {
		onProgress(message, percent)
	}
}
