package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal"
	"github.com/luyumi/launcher/client/internal/butler"
	"github.com/luyumi/launcher/client/internal/extract"
	"github.com/luyumi/launcher/client/internal/fault"
	"github.com/luyumi/launcher/client/internal/fetcher"
	"github.com/luyumi/launcher/client/internal/jre"
	"github.com/luyumi/launcher/client/internal/release"
	"github.com/luyumi/launcher/util"
)

// Status is the coarse state of the install pipeline.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInstalling Status = "installing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Progress is a point-in-time snapshot of the pipeline, safe to poll from
// another goroutine while an operation runs.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// InstalledInfo is the sidecar written next to the game files after a
// successful install. Its presence marks the directory as managed by this
// launcher.
type InstalledInfo struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	InstalledAt string `json:"installedAt"`
}

// MetadataFileName is the install sidecar inside the game directory.
const MetadataFileName = "luyumi_metadata.json"

const (
	cachePrefix  = "temp_"
	cachePattern = cachePrefix + "*.pwr"
)

// Manager runs the install, update, repair and uninstall pipelines. One
// operation at a time; a second call while one is running fails fast
// instead of queueing.
type Manager struct {
	mu       sync.Mutex
	progress Progress

	paths    *internal.InstallPaths
	releases *release.Client
	channel  string

	// seams for tests
	ensureRuntimeFn func(ctx context.Context) error
	ensureToolFn    func(ctx context.Context, toolsDir string, onProgress fetcher.ProgressFunc) (string, error)
	fetchFn         func(ctx context.Context, url, destPath string, options *fetcher.Options) (*fetcher.Result, error)
	applyFn         func(ctx context.Context, pwrFile, targetDir, butlerPath string, onProgress extract.ProgressFunc, skipIfInstalled bool) error
	validatePatchFn func(pwrPath string) error
	validateFn      func(targetDir string) error
}

// NewManager wires the pipeline against the real tool, fetcher and applier.
func NewManager(paths *internal.InstallPaths, releases *release.Client) *Manager {
	tool := butler.NewProvisioner()
	applier := extract.NewApplier()
	m := &Manager{
		progress:        Progress{Status: StatusIdle},
		paths:           paths,
		releases:        releases,
		channel:         "release",
		ensureToolFn:    tool.Ensure,
		fetchFn:         fetcher.Fetch,
		applyFn:         applier.Apply,
		validatePatchFn: applier.ValidatePatch,
		validateFn:      extract.Validate,
	}
	m.ensureRuntimeFn = m.ensureRuntime
	return m
}

// ensureRuntime makes sure some Java runtime will be available at launch
// time, provisioning the bundled one when neither an installed runtime nor
// a previous bundle exists.
func (m *Manager) ensureRuntime(ctx context.Context) error {
	if jre.BundledJavaPath(m.paths.JreDir) != "" || jre.DetectSystemJava() != "" {
		return nil
	}
	return jre.NewProvisioner().EnsureBundled(ctx, m.paths.JreDir, m.paths.CacheDir, nil)
}

// SetChannel overrides the release channel patches are fetched from.
func (m *Manager) SetChannel(channel string) {
	if channel != "" {
		m.channel = channel
	}
}

// Progress returns the current pipeline snapshot.
func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

func (m *Manager) setProgress(percent int, message string, status Status) {
	m.mu.Lock()
	m.progress = Progress{Percent: percent, Message: message, Status: status}
	m.mu.Unlock()
	log.Debugf("install progress %d%%: %s", percent, message)
}

// begin transitions idle→installing, rejecting concurrent operations.
func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress.Status == StatusInstalling {
		return fmt.Errorf("another operation is already in progress")
	}
	m.progress = Progress{Percent: 0, Message: "Starting", Status: StatusInstalling}
	return nil
}

// Install downloads a release patch and applies it to the game directory.
// An empty version means the feed's latest. Already-installed clients are
// detected by the applier and skipped cheaply.
func (m *Manager) Install(ctx context.Context, version string) error {
	return m.run(ctx, version, false)
}

// Update is the same pipeline as Install: the patch tool reconciles
// whatever is on disk to the requested release.
func (m *Manager) Update(ctx context.Context, version string) error {
	return m.run(ctx, version, false)
}

// Repair wipes the game directory and reinstalls from scratch, bypassing
// the installed-client fast path.
func (m *Manager) Repair(ctx context.Context, version string) error {
	if err := m.begin(); err != nil {
		return err
	}
	m.setProgress(0, "Removing damaged installation", StatusInstalling)
	if err := os.RemoveAll(m.paths.GameDir); err != nil {
		err = fmt.Errorf("remove game directory: %w", err)
		m.setProgress(0, err.Error(), StatusError)
		return err
	}
	return m.pipeline(ctx, version, true)
}

// Uninstall removes the game directory. Caches, tools and user data stay.
func (m *Manager) Uninstall() error {
	if err := m.begin(); err != nil {
		return err
	}
	m.setProgress(50, "Removing installation", StatusInstalling)
	if err := os.RemoveAll(m.paths.GameDir); err != nil {
		err = fmt.Errorf("remove game directory: %w", err)
		m.setProgress(0, err.Error(), StatusError)
		return err
	}
	m.setProgress(100, "Uninstalled", StatusCompleted)
	return nil
}

func (m *Manager) run(ctx context.Context, version string, force bool) error {
	if err := m.begin(); err != nil {
		return err
	}
	return m.pipeline(ctx, version, force)
}

// pipeline is the shared install flow. Percent bands: tool setup below 10,
// download 10-60, apply 60-90, validation 95, done 100.
func (m *Manager) pipeline(ctx context.Context, version string, force bool) (err error) {
	defer func() {
		if err != nil {
			m.setProgress(m.Progress().Percent, err.Error(), StatusError)
		}
	}()

	m.setProgress(2, "Resolving target version", StatusInstalling)
	if version == "" {
		version = m.releases.LatestVersion(ctx)
	}
	lastUpdated := m.releases.LastUpdated(ctx)

	for _, dir := range []string{m.paths.GameDir, m.paths.CacheDir} {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// runtime provisioning is independent of the install; a failure here
	// is recoverable at launch time
	m.setProgress(4, "Checking Java runtime", StatusInstalling)
	if rtErr := m.ensureRuntimeFn(ctx); rtErr != nil {
		log.Warnf("runtime provisioning failed, continuing install: %v", rtErr)
	}

	pwrPath, err := m.obtainPatch(ctx, version, lastUpdated)
	if err != nil {
		return err
	}

	m.setProgress(60, "Preparing patch tool", StatusInstalling)
	butlerPath, err := m.ensureToolFn(ctx, m.paths.ToolsDir, nil)
	if err != nil {
		return fmt.Errorf("prepare patch tool: %w", err)
	}

	applyProgress := func(message string, percent int) {
		m.setProgress(60+percent*30/100, message, StatusInstalling)
	}
	if err = m.applyFn(ctx, pwrPath, m.paths.GameDir, butlerPath, applyProgress, !force); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	m.setProgress(95, "Validating installation", StatusInstalling)
	if err = m.validateFn(m.paths.GameDir); err != nil {
		return err
	}

	info := &InstalledInfo{
		Version:     strings.TrimSuffix(version, ".pwr"),
		LastUpdated: lastUpdated,
		InstalledAt: time.Now().Format(time.RFC3339),
	}
	// the sidecar only feeds update checks, a write failure must not fail
	// an otherwise complete install
	if werr := util.WriteJson(ctx, filepath.Join(m.paths.GameDir, MetadataFileName), info); werr != nil {
		log.Warnf("failed to write install metadata: %v", werr)
	}

	m.setProgress(100, "Installation complete", StatusCompleted)
	return nil
}

// obtainPatch returns a validated .pwr on disk, reusing a cached artifact
// when one is intact and downloading otherwise. Artifacts of older releases
// are purged once the new one is in place.
func (m *Manager) obtainPatch(ctx context.Context, version, lastUpdated string) (string, error) {
	pwrPath := filepath.Join(m.paths.CacheDir, cacheFileName(lastUpdated))

	if cached := m.cachedPatch(pwrPath); cached != "" {
		m.setProgress(60, "Using cached update file "+filepath.Base(cached), StatusInstalling)
		return cached, nil
	}

	url := m.releases.PatchURL(version, m.channel)
	m.setProgress(10, "Downloading update", StatusInstalling)
	options := &fetcher.Options{
		Resumable: false,
		OnProgress: func(_, _ int64, percent float64) {
			m.setProgress(10+int(percent)/2, "Downloading update", StatusInstalling)
		},
	}
	if _, err := m.fetchFn(ctx, url, pwrPath, options); err != nil {
		return "", fmt.Errorf("download update: %w", err)
	}

	if err := m.validatePatchFn(pwrPath); err != nil {
		if rmErr := os.Remove(pwrPath); rmErr != nil {
			log.Warnf("failed to remove invalid patch: %v", rmErr)
		}
		return "", fault.Wrap(fault.Integrity, fmt.Errorf("downloaded patch is invalid: %w", err))
	}

	m.purgeOtherPatches(pwrPath)
	fetcher.CleanupTempFiles(m.paths.CacheDir)
	return pwrPath, nil
}

// cachedPatch returns the first intact cached artifact, trying the current
// release's key first and then older artifacts newest-first. Artifacts that
// fail validation are deleted as they are found.
func (m *Manager) cachedPatch(preferred string) string {
	files, err := util.ListFiles(m.paths.CacheDir, "*.pwr")
	if err != nil {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return mtimeOf(files[i]).After(mtimeOf(files[j])) })
	if util.FileExists(preferred) {
		ordered := []string{preferred}
		for _, f := range files {
			if f != preferred {
				ordered = append(ordered, f)
			}
		}
		files = ordered
	}

	for _, f := range files {
		if err := m.validatePatchFn(f); err == nil {
			return f
		}
		log.Infof("cached patch %s failed validation, removing", f)
		if err := os.Remove(f); err != nil {
			log.Warnf("failed to remove stale patch: %v", err)
		}
	}
	return ""
}

func mtimeOf(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (m *Manager) purgeOtherPatches(keep string) {
	files, err := util.ListFiles(m.paths.CacheDir, cachePattern)
	if err != nil {
		return
	}
	for _, f := range files {
		if f == keep {
			continue
		}
		if err := os.Remove(f); err != nil {
			log.Warnf("failed to remove old patch %s: %v", f, err)
		} else {
			log.Debugf("removed old patch %s", f)
		}
	}
}

func cacheFileName(lastUpdated string) string {
	return cachePrefix + lastUpdated + ".pwr"
}

// InstalledVersion reads the install sidecar. Returns nil when the game
// directory is not a managed install.
func InstalledVersion(gameDir string) *InstalledInfo {
	path := filepath.Join(gameDir, MetadataFileName)
	if !util.FileExists(path) {
		return nil
	}
	info := &InstalledInfo{}
	if _, err := util.ReadJson(path, info); err != nil {
		log.Warnf("failed to read install metadata: %v", err)
		return nil
	}
	return info
}

// State describes the installation as a whole, independent of any running
// operation.
type State struct {
	Installed        bool   `json:"installed"`
	Version          string `json:"version,omitempty"`
	InstalledAt      string `json:"installedAt,omitempty"`
	LatestVersion    string `json:"latestVersion"`
	UpdateAvailable  bool   `json:"updateAvailable"`
	ClientExecutable string `json:"clientExecutable,omitempty"`
	ClientSize       int64  `json:"clientSize,omitempty"`
}

// Status inspects the game directory and the release feed.
func (m *Manager) Status(ctx context.Context) *State {
	latest := strings.TrimSuffix(m.releases.LatestVersion(ctx), ".pwr")
	state := &State{LatestVersion: latest}

	clientPath := extract.FindClient(m.paths.GameDir)
	info := InstalledVersion(m.paths.GameDir)
	if clientPath == "" {
		return state
	}
	state.Installed = true
	state.ClientExecutable = clientPath
	if fi, statErr := os.Stat(clientPath); statErr == nil {
		state.ClientSize = fi.Size()
	}
	if info != nil {
		state.Version = info.Version
		state.InstalledAt = info.InstalledAt
		state.UpdateAvailable = release.IsUpdateAvailable(info.Version, latest)
	} else {
		// client present but no sidecar: assume stale, offer an update
		state.UpdateAvailable = true
	}
	return state
}
