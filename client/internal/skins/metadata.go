package skins

import (
	"context"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/util"
)

const metadataFileName = "skins_metadata.json"

// FileMeta records who last used a backed-up file and when.
type FileMeta struct {
	LastUpdated    string `json:"last_updated"`
	LastUserUUID   string `json:"last_user_uuid"`
	LastPlayerName string `json:"last_player_name"`
}

// Metadata is the repository-wide metadata document. Every file under a
// category directory SHOULD have an entry here, but absence never blocks
// backup or restore.
type Metadata struct {
	AvatarPreviews        map[string]*FileMeta `json:"CachedAvatarPreviews,omitempty"`
	PlayerSkins           map[string]*FileMeta `json:"CachedPlayerSkins,omitempty"`
	LastSessionUUID       string               `json:"last_session_uuid,omitempty"`
	LastSessionPlayerName string               `json:"last_session_player_name,omitempty"`
	LastSessionAt         string               `json:"last_session_at,omitempty"`
}

// Category returns the entry map for a category, creating it when missing.
func (m *Metadata) Category(name string) map[string]*FileMeta {
	switch name {
	case CategoryAvatarPreviews:
		if m.AvatarPreviews == nil {
			m.AvatarPreviews = map[string]*FileMeta{}
		}
		return m.AvatarPreviews
	case CategoryPlayerSkins:
		if m.PlayerSkins == nil {
			m.PlayerSkins = map[string]*FileMeta{}
		}
		return m.PlayerSkins
	default:
		return map[string]*FileMeta{}
	}
}

func (s *Manager) loadMetadata() *Metadata {
	meta := &Metadata{}
	path := filepath.Join(s.repoDir, metadataFileName)
	if !util.FileExists(path) {
		return meta
	}
	if _, err := util.ReadJson(path, meta); err != nil {
		log.Warnf("failed to read skins metadata, starting fresh: %v", err)
		return &Metadata{}
	}
	return meta
}

func (s *Manager) saveMetadata(meta *Metadata) {
	path := filepath.Join(s.repoDir, metadataFileName)
	if err := util.WriteJson(context.Background(), path, meta); err != nil {
		log.Errorf("failed to save skins metadata: %v", err)
	}
}

func nowStamp() string {
	return time.Now().Format(time.RFC3339)
}
