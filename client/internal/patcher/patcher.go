// Package patcher retargets the hardcoded service domain inside the game
// binaries to the configured one. The whole step is best-effort: the caller
// launches against the unpatched binary when anything here fails.
package patcher

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf16"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal/extract"
	"github.com/luyumi/launcher/util"
)

const (
	patchedFlagSuffix = ".patched_custom"
	patcherVersion    = "1.0.0"

	// same length as the stock domain, required for in-place replacement
	defaultTargetDomain = "sanasol.ws"
)

var serverJarNames = []string{
	filepath.Join("Server", "HytaleServer.jar"),
	filepath.Join("Server", "server.jar"),
}

var patchableJarEntries = []string{".class", ".properties", ".json", ".xml", ".yml"}

// Patcher rewrites domain occurrences in client and server artifacts.
type Patcher struct {
	originalDomain string
	targetDomain   string
}

// New creates a Patcher targeting the given domain. In-place binary
// patching cannot change string lengths, so a target of different length
// than the original falls back to the default replacement domain.
func New(originalDomain, targetDomain string) *Patcher {
	if len(targetDomain) != len(originalDomain) {
		log.Warnf("domain %q length (%d) doesn't match original %q (%d), using default %q",
			targetDomain, len(targetDomain), originalDomain, len(originalDomain), defaultTargetDomain)
		targetDomain = defaultTargetDomain
	}
	return &Patcher{originalDomain: originalDomain, targetDomain: targetDomain}
}

// TargetDomain returns the effective replacement domain.
func (p *Patcher) TargetDomain() string {
	return p.targetDomain
}

// EnsurePatched patches every known client binary and the server jar under
// gameDir. Individual file failures are logged and skipped.
func (p *Patcher) EnsurePatched(gameDir string) {
	log.Infof("ensuring client is patched for domain: %s", p.targetDomain)

	for _, candidate := range extract.ClientCandidates(gameDir) {
		if !util.FileExists(candidate) {
			continue
		}
		if p.isPatched(candidate) {
			log.Infof("%s already patched", filepath.Base(candidate))
			continue
		}
		log.Infof("patching %s...", filepath.Base(candidate))
		patched, err := p.patchBinary(candidate)
		if err != nil {
			log.Errorf("error patching %s: %v", candidate, err)
			continue
		}
		if patched {
			p.markPatched(candidate)
		}
	}

	for _, name := range serverJarNames {
		jar := filepath.Join(gameDir, name)
		if !util.FileExists(jar) {
			continue
		}
		if p.isPatched(jar) {
			log.Infof("server %s already patched", filepath.Base(jar))
			break
		}
		log.Infof("patching server %s...", filepath.Base(jar))
		patched, err := p.patchServerJar(jar)
		if err != nil {
			log.Errorf("error patching server %s: %v", jar, err)
			break
		}
		if patched {
			p.markPatched(jar)
		}
		break
	}
}

// patchBinary rewrites domain occurrences in-place, in both UTF-8 and
// UTF-16LE encodings. Returns true when at least one occurrence changed.
func (p *Patcher) patchBinary(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	count := replaceUTF8(data, p.originalDomain, p.targetDomain)
	count += replaceUTF16(data, p.originalDomain, p.targetDomain)
	if count == 0 {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, info.Mode()); err != nil {
		return false, err
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, info.Mode()|0111); err != nil {
			log.Warnf("failed to restore executable permission on %s: %v", path, err)
		}
	}

	log.Infof("patched %s: %d occurrences replaced", filepath.Base(path), count)
	return true, nil
}

// patchServerJar rewrites textual jar entries containing the domain,
// writing through a .tmp sibling.
func (p *Patcher) patchServerJar(jarPath string) (patched bool, err error) {
	tempPath := jarPath + ".tmp"
	defer func() {
		if !patched {
			if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warnf("failed to remove temp jar: %v", rmErr)
			}
		}
	}()

	zin, err := zip.OpenReader(jarPath)
	if err != nil {
		return false, err
	}
	defer zin.Close()

	out, err := os.Create(tempPath)
	if err != nil {
		return false, err
	}
	zout := zip.NewWriter(out)

	oldUTF8 := []byte(p.originalDomain)
	total := 0
	for _, entry := range zin.File {
		data, err := readZipEntry(entry)
		if err != nil {
			_ = zout.Close()
			_ = out.Close()
			return false, fmt.Errorf("read jar entry %s: %w", entry.Name, err)
		}

		if isPatchableJarEntry(entry.Name) && bytes.Contains(data, oldUTF8) {
			total += replaceUTF8(data, p.originalDomain, p.targetDomain)
		}

		hdr := &zip.FileHeader{Name: entry.Name, Method: entry.Method, Modified: entry.Modified}
		w, err := zout.CreateHeader(hdr)
		if err != nil {
			_ = zout.Close()
			_ = out.Close()
			return false, err
		}
		if _, err := w.Write(data); err != nil {
			_ = zout.Close()
			_ = out.Close()
			return false, err
		}
	}

	if err := zout.Close(); err != nil {
		_ = out.Close()
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}

	if total == 0 {
		return false, nil
	}

	if err := os.Rename(tempPath, jarPath); err != nil {
		return false, err
	}
	log.Infof("patched %s: %d occurrences replaced", filepath.Base(jarPath), total)
	return true, nil
}

func readZipEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isPatchableJarEntry(name string) bool {
	for _, suffix := range patchableJarEntries {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// isPatched checks the sidecar flag: patched for the same target domain and
// the binary has not been rewritten since.
func (p *Patcher) isPatched(path string) bool {
	flagPath := path + patchedFlagSuffix
	flag := &flagDoc{}
	if _, err := util.ReadJson(flagPath, flag); err != nil {
		return false
	}
	if flag.TargetDomain != p.targetDomain {
		return false
	}

	binInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	flagInfo, err := os.Stat(flagPath)
	if err != nil {
		return false
	}
	if binInfo.ModTime().After(flagInfo.ModTime()) {
		log.Infof("binary %s is newer than patch flag, repatching", filepath.Base(path))
		return false
	}
	return true
}

func (p *Patcher) markPatched(path string) {
	flag := &flagDoc{
		PatchedAt:      time.Now().Format(time.RFC3339),
		OriginalDomain: p.originalDomain,
		TargetDomain:   p.targetDomain,
		PatcherVersion: patcherVersion,
	}
	if err := util.WriteJson(context.Background(), path+patchedFlagSuffix, flag); err != nil {
		log.Warnf("failed to write patch flag for %s: %v", path, err)
	}
}

type flagDoc struct {
	PatchedAt      string `json:"patchedAt"`
	OriginalDomain string `json:"originalDomain"`
	TargetDomain   string `json:"targetDomain"`
	PatcherVersion string `json:"patcherVersion"`
}

// replaceUTF8 rewrites every UTF-8 occurrence of old with new in place.
// Lengths must match; the constructor guarantees that.
func replaceUTF8(data []byte, old, new string) int {
	oldBytes := []byte(old)
	newBytes := []byte(new)

	count := 0
	pos := 0
	for {
		idx := bytes.Index(data[pos:], oldBytes)
		if idx < 0 {
			break
		}
		pos += idx
		copy(data[pos:pos+len(newBytes)], newBytes)
		count++
		pos++
	}
	return count
}

// replaceUTF16 rewrites UTF-16LE occurrences. The match excludes the last
// character and verifies its first byte separately, catching strings whose
// final code unit carries flags in the high byte.
func replaceUTF16(data []byte, old, new string) int {
	oldPrefix := utf16LE(old[:len(old)-1])
	newPrefix := utf16LE(new[:len(new)-1])
	oldLastByte := old[len(old)-1]
	newLastByte := new[len(new)-1]

	count := 0
	pos := 0
	for {
		idx := bytes.Index(data[pos:], oldPrefix)
		if idx < 0 {
			break
		}
		pos += idx
		lastCharPos := pos + len(oldPrefix)
		if lastCharPos >= len(data) {
			break
		}
		if data[lastCharPos] == oldLastByte {
			copy(data[pos:pos+len(newPrefix)], newPrefix)
			data[lastCharPos] = newLastByte
			count++
		}
		pos++
	}
	return count
}

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}
