package skins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/util"
)

const (
	// CategoryAvatarPreviews holds small preview renders of skins.
	CategoryAvatarPreviews = "CachedAvatarPreviews"
	// CategoryPlayerSkins holds the actual skin textures.
	CategoryPlayerSkins = "CachedPlayerSkins"

	// RepositoryDirName is the backup repository directory under the
	// launcher's user data directory.
	RepositoryDirName = "skins_repository"

	defaultMonitorInterval = 2 * time.Second
	stopTimeout            = 2 * time.Second
)

var categories = []string{CategoryAvatarPreviews, CategoryPlayerSkins}

// Manager backs up skin files the game writes into its user data directory
// and restores them before launch. The game regenerates cache file names per
// session, so backups are keyed by content file name and annotated with the
// player UUID that produced them.
type Manager struct {
	mu sync.Mutex
	// metaMu serializes read-modify-write cycles on the metadata file
	metaMu sync.Mutex

	repoDir     string
	gameDataDir string
	currentUUID string
	currentName string

	monitoring bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	// last observed mtime per absolute path, used to detect changes
	// between monitor ticks
	timestamps map[string]time.Time

	interval time.Duration
}

// NewManager creates a manager with its repository rooted at repoDir. The
// repository and its category subdirectories are created eagerly so a later
// backup never fails on a missing directory.
func NewManager(repoDir string) *Manager {
	for _, cat := range categories {
		if err := os.MkdirAll(filepath.Join(repoDir, cat), 0o755); err != nil {
			log.Warnf("failed to create skins repository directory: %v", err)
		}
	}
	return &Manager{
		repoDir:    repoDir,
		timestamps: map[string]time.Time{},
		interval:   defaultMonitorInterval,
	}
}

// PrepareForLaunch makes the game's user data directory ready for a session
// as the given player: it registers the player in the game's config.json and
// restores the best-matching skin backup from the repository. Failures are
// logged and reported but callers treat them as non-fatal, a launch proceeds
// without a restored skin.
func (s *Manager) PrepareForLaunch(gameDataDir, playerUUID, playerName string) error {
	s.mu.Lock()
	s.gameDataDir = gameDataDir
	s.currentUUID = playerUUID
	s.currentName = playerName
	s.mu.Unlock()

	if err := s.ensureUserConfig(gameDataDir, playerUUID, playerName); err != nil {
		log.Warnf("failed to update game user config: %v", err)
	}

	if err := s.restoreSkin(gameDataDir, playerUUID); err != nil {
		return fmt.Errorf("restore skin: %w", err)
	}
	return nil
}

// ensureUserConfig maps the player name to its UUID in the game's
// config.json and marks the player as the last active user. Unknown keys in
// the file are preserved.
func (s *Manager) ensureUserConfig(gameDataDir, playerUUID, playerName string) error {
	if err := os.MkdirAll(gameDataDir, 0o755); err != nil {
		return err
	}
	configPath := filepath.Join(gameDataDir, "config.json")

	data := map[string]interface{}{}
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(raw, &data); err != nil {
			log.Warnf("game config.json is not valid JSON, rewriting: %v", err)
			data = map[string]interface{}{}
		}
	}

	uuids, _ := data["userUuids"].(map[string]interface{})
	if uuids == nil {
		uuids = map[string]interface{}{}
	}
	uuids[playerName] = playerUUID
	data["userUuids"] = uuids
	data["lastUserUuid"] = playerUUID

	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, raw, 0o644)
}

// restoreSkin copies the best-matching backed-up skin into the game's skin
// cache, both under its original file name and under <uuid>.png so the game
// picks it up regardless of which name it looks for. A matching avatar
// preview is restored the same way when present.
func (s *Manager) restoreSkin(gameDataDir, playerUUID string) error {
	meta := s.loadMetadata()
	fileName := s.findBestRestore(meta, playerUUID)
	if fileName == "" {
		log.Debugf("no skin backup found for player %s", playerUUID)
		return nil
	}

	src := filepath.Join(s.repoDir, CategoryPlayerSkins, fileName)
	if !util.FileExists(src) {
		return fmt.Errorf("skin backup %s listed in metadata but missing on disk", fileName)
	}

	dstDir := filepath.Join(gameDataDir, CategoryPlayerSkins)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	if err := util.CopyFileContents(src, filepath.Join(dstDir, fileName)); err != nil {
		return err
	}
	if err := util.CopyFileContents(src, filepath.Join(dstDir, playerUUID+".png")); err != nil {
		return err
	}

	// the preview slot is always filled, falling back to the skin itself
	// when no dedicated preview was ever backed up
	preview := filepath.Join(s.repoDir, CategoryAvatarPreviews, fileName)
	if !util.FileExists(preview) {
		preview = src
	}
	previewDir := filepath.Join(gameDataDir, CategoryAvatarPreviews)
	if err := os.MkdirAll(previewDir, 0o755); err != nil {
		return err
	}
	if err := util.CopyFileContents(preview, filepath.Join(previewDir, playerUUID+".png")); err != nil {
		log.Warnf("failed to restore avatar preview: %v", err)
	}

	log.Infof("restored skin %s for player %s", fileName, playerUUID)
	return nil
}

// findBestRestore picks the skin to restore: a backup recorded for this
// player first, then a backup from the last session, then simply the newest
// file in the repository.
func (s *Manager) findBestRestore(meta *Metadata, playerUUID string) string {
	if name := newestEntryFor(meta.PlayerSkins, playerUUID); name != "" {
		return name
	}
	if meta.LastSessionUUID != "" && meta.LastSessionUUID != playerUUID {
		if name := newestEntryFor(meta.PlayerSkins, meta.LastSessionUUID); name != "" {
			return name
		}
	}
	return s.newestRepositoryFile(CategoryPlayerSkins)
}

func newestEntryFor(entries map[string]*FileMeta, playerUUID string) string {
	var best string
	var bestStamp string
	for name, fm := range entries {
		if fm == nil || fm.LastUserUUID != playerUUID {
			continue
		}
		if best == "" || fm.LastUpdated > bestStamp {
			best = name
			bestStamp = fm.LastUpdated
		}
	}
	return best
}

func (s *Manager) newestRepositoryFile(category string) string {
	dir := filepath.Join(s.repoDir, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	type candidate struct {
		name  string
		mtime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || e.Name() == metadataFileName {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: e.Name(), mtime: info.ModTime()})
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })
	return files[0].name
}

// Start begins polling the game's skin cache directories for changes. It is
// idempotent, a second Start while monitoring is a no-op.
func (s *Manager) Start(gameDataDir string) {
	s.mu.Lock()
	if s.monitoring {
		s.mu.Unlock()
		return
	}
	s.gameDataDir = gameDataDir
	s.monitoring = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.timestamps = map[string]time.Time{}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	// seed timestamps only: files already on disk belong to whoever wrote
	// them, backing them up here would re-attribute them to this session
	s.scan(false)

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.checkAndBackup()
			}
		}
	}()
	log.Infof("skin monitor started for %s", gameDataDir)
}

// Stop halts the monitor goroutine and waits briefly for it to drain.
func (s *Manager) Stop() {
	s.mu.Lock()
	if !s.monitoring {
		s.mu.Unlock()
		return
	}
	s.monitoring = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(stopTimeout):
		log.Warnf("skin monitor did not stop within %s", stopTimeout)
	}
	log.Infof("skin monitor stopped")
}

// Running reports whether the monitor goroutine is active.
func (s *Manager) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring
}

// ForceBackup performs one backup pass immediately, regardless of whether
// the monitor is running. Used at game exit to catch last-moment writes.
func (s *Manager) ForceBackup() {
	s.checkAndBackup()
}

// checkAndBackup scans all category directories, backs up new or modified
// files and forgets timestamps of files the game removed.
func (s *Manager) checkAndBackup() {
	s.scan(true)
}

// scan walks the category directories and refreshes the timestamp cache.
// With backup false it only records what is there, the initial pass after
// Start uses that so pre-existing files keep their recorded owner.
func (s *Manager) scan(backup bool) {
	s.mu.Lock()
	gameDataDir := s.gameDataDir
	s.mu.Unlock()
	if gameDataDir == "" {
		return
	}

	seen := map[string]struct{}{}
	for _, cat := range categories {
		dir := filepath.Join(gameDataDir, cat)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(dir, e.Name())
			seen[path] = struct{}{}

			s.mu.Lock()
			prev, known := s.timestamps[path]
			// a restore can put an older file back in place, so any
			// mtime difference counts as a change
			changed := !known || !info.ModTime().Equal(prev)
			if changed {
				s.timestamps[path] = info.ModTime()
			}
			s.mu.Unlock()

			if changed && backup {
				s.backupFile(cat, path, e.Name())
			}
		}
	}

	s.mu.Lock()
	for path := range s.timestamps {
		if _, ok := seen[path]; !ok {
			delete(s.timestamps, path)
		}
	}
	s.mu.Unlock()
}

// backupFile copies one file into the repository and records the session's
// player in the metadata.
func (s *Manager) backupFile(category, srcPath, name string) {
	dst := filepath.Join(s.repoDir, category, name)
	if err := util.CopyFileContents(srcPath, dst); err != nil {
		log.Warnf("failed to back up %s: %v", name, err)
		return
	}

	s.mu.Lock()
	playerUUID, playerName := s.currentUUID, s.currentName
	s.mu.Unlock()

	stamp := nowStamp()
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	meta := s.loadMetadata()
	meta.Category(category)[name] = &FileMeta{
		LastUpdated:    stamp,
		LastUserUUID:   playerUUID,
		LastPlayerName: playerName,
	}
	meta.LastSessionUUID = playerUUID
	meta.LastSessionPlayerName = playerName
	meta.LastSessionAt = stamp
	s.saveMetadata(meta)

	log.Debugf("backed up %s/%s for player %s", category, name, playerUUID)
}
