package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luyumi/launcher/util"
)

func TestActiveProfileDefaults(t *testing.T) {
	appDir := t.TempDir()

	profile := ActiveProfile(appDir)
	assert.Equal(t, "default", profile.ID)
	assert.Equal(t, "1G", profile.GameOptions.MinMemory)
	assert.Equal(t, "4G", profile.GameOptions.MaxMemory)
}

func TestActiveProfileLoadsConfigured(t *testing.T) {
	appDir := t.TempDir()
	ctx := context.Background()

	cfg := &Config{ActiveProfile: "performance"}
	require.NoError(t, cfg.Save(ctx, ConfigPath(appDir)))

	stored := &Profile{
		ID:   "performance",
		Name: "Performance",
		GameOptions: GameOptions{
			MaxMemory: "12G",
			Args:      []string{"-XX:+UseZGC"},
		},
	}
	require.NoError(t, os.MkdirAll(ProfilesDir(appDir), 0o755))
	require.NoError(t, util.WriteJson(ctx, filepath.Join(ProfilesDir(appDir), "performance.json"), stored))

	profile := ActiveProfile(appDir)
	assert.Equal(t, "performance", profile.ID)
	assert.Equal(t, "12G", profile.GameOptions.MaxMemory)
	// unset fields get the defaults
	assert.Equal(t, "1G", profile.GameOptions.MinMemory)
	assert.Equal(t, []string{"-XX:+UseZGC"}, profile.GameOptions.Args)
}

func TestActiveProfileMissingFileFallsBack(t *testing.T) {
	appDir := t.TempDir()
	cfg := &Config{ActiveProfile: "ghost"}
	require.NoError(t, cfg.Save(context.Background(), ConfigPath(appDir)))

	profile := ActiveProfile(appDir)
	assert.Equal(t, "default", profile.ID)
}
