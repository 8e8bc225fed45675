package skins

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luyumi/launcher/util"
)

func writeRepoSkin(t *testing.T, repoDir, name string, content []byte, mtime time.Time) {
	t.Helper()
	path := filepath.Join(repoDir, CategoryPlayerSkins, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func TestPrepareForLaunch_RestoresByUUID(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	writeRepoSkin(t, repoDir, "skin-a.png", []byte("skin-a"), time.Now().Add(-time.Hour))
	writeRepoSkin(t, repoDir, "skin-b.png", []byte("skin-b"), time.Now())

	meta := &Metadata{
		PlayerSkins: map[string]*FileMeta{
			"skin-a.png": {LastUpdated: "2026-01-01T00:00:00Z", LastUserUUID: "uuid-a"},
			"skin-b.png": {LastUpdated: "2026-01-02T00:00:00Z", LastUserUUID: "uuid-b"},
		},
	}
	require.NoError(t, util.WriteJson(context.Background(), filepath.Join(repoDir, metadataFileName), meta))

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	// the player's own backup wins even though another file is newer
	restored, err := os.ReadFile(filepath.Join(gameDir, CategoryPlayerSkins, "uuid-a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("skin-a"), restored)

	original, err := os.ReadFile(filepath.Join(gameDir, CategoryPlayerSkins, "skin-a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("skin-a"), original)

	// no preview was ever backed up, the skin itself fills the slot
	preview, err := os.ReadFile(filepath.Join(gameDir, CategoryAvatarPreviews, "uuid-a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("skin-a"), preview)
}

func TestPrepareForLaunch_RestoresBackedUpPreview(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	writeRepoSkin(t, repoDir, "skin-a.png", []byte("skin-a"), time.Now())
	previewPath := filepath.Join(repoDir, CategoryAvatarPreviews, "skin-a.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(previewPath), 0o755))
	require.NoError(t, os.WriteFile(previewPath, []byte("preview-a"), 0o644))

	meta := &Metadata{
		PlayerSkins: map[string]*FileMeta{
			"skin-a.png": {LastUpdated: "2026-01-01T00:00:00Z", LastUserUUID: "uuid-a"},
		},
	}
	require.NoError(t, util.WriteJson(context.Background(), filepath.Join(repoDir, metadataFileName), meta))

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	preview, err := os.ReadFile(filepath.Join(gameDir, CategoryAvatarPreviews, "uuid-a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("preview-a"), preview)
}

func TestPrepareForLaunch_FallsBackToLastSession(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	writeRepoSkin(t, repoDir, "skin-b.png", []byte("skin-b"), time.Now())

	meta := &Metadata{
		PlayerSkins: map[string]*FileMeta{
			"skin-b.png": {LastUpdated: "2026-01-02T00:00:00Z", LastUserUUID: "uuid-b"},
		},
		LastSessionUUID: "uuid-b",
	}
	require.NoError(t, util.WriteJson(context.Background(), filepath.Join(repoDir, metadataFileName), meta))

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-new", "NewPlayer"))

	restored, err := os.ReadFile(filepath.Join(gameDir, CategoryPlayerSkins, "uuid-new.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("skin-b"), restored)
}

func TestPrepareForLaunch_FallsBackToNewestFile(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	writeRepoSkin(t, repoDir, "old.png", []byte("old"), time.Now().Add(-2*time.Hour))
	writeRepoSkin(t, repoDir, "new.png", []byte("new"), time.Now())

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-x", "PlayerX"))

	restored, err := os.ReadFile(filepath.Join(gameDir, CategoryPlayerSkins, "uuid-x.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), restored)
}

func TestPrepareForLaunch_NoBackupsIsNotAnError(t *testing.T) {
	mgr := NewManager(t.TempDir())
	gameDir := t.TempDir()
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-x", "PlayerX"))
	_, err := os.Stat(filepath.Join(gameDir, CategoryPlayerSkins, "uuid-x.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureUserConfig_PreservesUnknownKeys(t *testing.T) {
	gameDir := t.TempDir()
	configPath := filepath.Join(gameDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"volume": 0.5, "userUuids": {"Old": "uuid-old"}}`), 0o644))

	mgr := NewManager(t.TempDir())
	require.NoError(t, mgr.ensureUserConfig(gameDir, "uuid-new", "NewPlayer"))

	raw, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))

	assert.Equal(t, 0.5, data["volume"])
	assert.Equal(t, "uuid-new", data["lastUserUuid"])
	uuids := data["userUuids"].(map[string]interface{})
	assert.Equal(t, "uuid-old", uuids["Old"])
	assert.Equal(t, "uuid-new", uuids["NewPlayer"])
}

func TestForceBackup_RecordsPlayerInMetadata(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	skinDir := filepath.Join(gameDir, CategoryPlayerSkins)
	require.NoError(t, os.MkdirAll(skinDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skinDir, "fresh.png"), []byte("fresh"), 0o644))

	mgr.ForceBackup()

	backed, err := os.ReadFile(filepath.Join(repoDir, CategoryPlayerSkins, "fresh.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), backed)

	meta := mgr.loadMetadata()
	require.Contains(t, meta.PlayerSkins, "fresh.png")
	assert.Equal(t, "uuid-a", meta.PlayerSkins["fresh.png"].LastUserUUID)
	assert.Equal(t, "PlayerA", meta.PlayerSkins["fresh.png"].LastPlayerName)
	assert.Equal(t, "uuid-a", meta.LastSessionUUID)
}

func TestForceBackup_IncludesExtensionlessFiles(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	// the game caches some files under bare hash names
	skinDir := filepath.Join(gameDir, CategoryPlayerSkins)
	require.NoError(t, os.MkdirAll(skinDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skinDir, "e3b0c44298fc1c14"), []byte("x"), 0o644))

	mgr.ForceBackup()

	assert.FileExists(t, filepath.Join(repoDir, CategoryPlayerSkins, "e3b0c44298fc1c14"))
}

func TestForceBackup_DetectsReplacementWithOlderFile(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	skinDir := filepath.Join(gameDir, CategoryPlayerSkins)
	require.NoError(t, os.MkdirAll(skinDir, 0o755))
	path := filepath.Join(skinDir, "swap.png")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	mgr.ForceBackup()

	// replacing the file with an older one still changes the mtime
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	mgr.ForceBackup()

	backed, err := os.ReadFile(filepath.Join(repoDir, CategoryPlayerSkins, "swap.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), backed)
}

func TestMonitor_BacksUpNewFiles(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	mgr := NewManager(repoDir)
	mgr.interval = 10 * time.Millisecond
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	mgr.Start(gameDir)
	defer mgr.Stop()
	require.True(t, mgr.Running())

	skinDir := filepath.Join(gameDir, CategoryPlayerSkins)
	require.NoError(t, os.MkdirAll(skinDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skinDir, "live.png"), []byte("live"), 0o644))

	require.Eventually(t, func() bool {
		return util.FileExists(filepath.Join(repoDir, CategoryPlayerSkins, "live.png"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_StartKeepsExistingOwners(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	writeRepoSkin(t, repoDir, "skin-a.png", []byte("skin-a"), time.Now())
	meta := &Metadata{
		PlayerSkins: map[string]*FileMeta{
			"skin-a.png": {LastUpdated: "2026-01-01T00:00:00Z", LastUserUUID: "uuid-a"},
		},
		LastSessionUUID: "uuid-a",
	}
	require.NoError(t, util.WriteJson(context.Background(), filepath.Join(repoDir, metadataFileName), meta))

	// player B gets A's skin restored into the cache, then monitoring
	// starts; the restored file must stay attributed to A
	mgr := NewManager(repoDir)
	mgr.interval = 10 * time.Millisecond
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-b", "PlayerB"))

	mgr.Start(gameDir)
	time.Sleep(50 * time.Millisecond)
	mgr.Stop()

	got := mgr.loadMetadata()
	require.Contains(t, got.PlayerSkins, "skin-a.png")
	assert.Equal(t, "uuid-a", got.PlayerSkins["skin-a.png"].LastUserUUID)
	assert.Equal(t, "uuid-a", got.LastSessionUUID)
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	mgr := NewManager(t.TempDir())
	mgr.interval = 10 * time.Millisecond
	gameDir := t.TempDir()

	mgr.Start(gameDir)
	first := mgr.doneCh
	mgr.Start(gameDir)
	assert.True(t, first == mgr.doneCh)

	mgr.Stop()
	assert.False(t, mgr.Running())

	// Stop again must not panic or block
	mgr.Stop()
}

func TestMonitor_ForgetsDeletedFiles(t *testing.T) {
	repoDir := t.TempDir()
	gameDir := t.TempDir()

	mgr := NewManager(repoDir)
	require.NoError(t, mgr.PrepareForLaunch(gameDir, "uuid-a", "PlayerA"))

	skinDir := filepath.Join(gameDir, CategoryPlayerSkins)
	require.NoError(t, os.MkdirAll(skinDir, 0o755))
	path := filepath.Join(skinDir, "gone.png")
	require.NoError(t, os.WriteFile(path, []byte("gone"), 0o644))

	mgr.ForceBackup()
	require.NotEmpty(t, mgr.timestamps)

	require.NoError(t, os.Remove(path))
	mgr.ForceBackup()
	assert.Empty(t, mgr.timestamps)
}
