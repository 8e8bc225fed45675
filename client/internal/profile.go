package internal

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/util"
)

// GameOptions carries the per-profile runtime tuning applied at launch.
type GameOptions struct {
	MinMemory string   `json:"minMemory,omitempty"`
	MaxMemory string   `json:"maxMemory,omitempty"`
	Args      []string `json:"args,omitempty"`
}

// Profile is a named set of launch options.
type Profile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	GameOptions GameOptions `json:"gameOptions"`
}

// DefaultProfile returns the profile used when none is configured.
func DefaultProfile() *Profile {
	return &Profile{
		ID:   "default",
		Name: "Default",
		GameOptions: GameOptions{
			MinMemory: "1G",
			MaxMemory: "4G",
		},
	}
}

// ActiveProfile loads the configured profile from appDir, falling back to
// the default profile when none is configured or the file is unreadable.
func ActiveProfile(appDir string) *Profile {
	cfg, err := ReadConfig(ConfigPath(appDir))
	if err != nil || cfg.ActiveProfile == "" {
		return DefaultProfile()
	}

	path := filepath.Join(ProfilesDir(appDir), cfg.ActiveProfile+".json")
	profile := &Profile{}
	if _, err := util.ReadJson(path, profile); err != nil {
		log.Warnf("failed to read profile %s, using defaults: %v", cfg.ActiveProfile, err)
		return DefaultProfile()
	}

	if profile.GameOptions.MinMemory == "" {
		profile.GameOptions.MinMemory = "1G"
	}
	if profile.GameOptions.MaxMemory == "" {
		profile.GameOptions.MaxMemory = "4G"
	}
	return profile
}
