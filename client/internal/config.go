package internal

import (
	"context"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/util"
)

const (
	// OriginalAuthDomain is the service domain baked into the game binaries.
	OriginalAuthDomain = "hytale.com"
	// DefaultAuthDomain is the replacement service domain used when no
	// override is configured.
	DefaultAuthDomain = "sanasol.ws"

	authDomainEnv = "LUYUMI_AUTH_DOMAIN"
)

// Config is the launcher-level configuration document.
type Config struct {
	// InstallPath overrides the install base directory when set
	InstallPath string `json:"installPath,omitempty"`
	// AuthDomain is the service domain the game binaries get retargeted to
	AuthDomain string `json:"authDomain,omitempty"`
	// ClientUUID is the stable per-installation identity
	ClientUUID string `json:"client_uuid,omitempty"`
	// ActiveProfile names the profile applied at launch
	ActiveProfile string `json:"active_profile,omitempty"`
}

// ReadConfig loads the launcher config. A missing file yields an empty
// config, not an error.
func ReadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if !util.FileExists(path) {
		return cfg, nil
	}
	if _, err := util.ReadJson(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the config atomically.
func (c *Config) Save(ctx context.Context, path string) error {
	return util.WriteJson(ctx, path, c)
}

// ResolveAuthDomain returns the domain the client binaries should be
// retargeted to: config value, then environment, then the default.
func ResolveAuthDomain(cfg *Config) string {
	if cfg != nil && cfg.AuthDomain != "" {
		return cfg.AuthDomain
	}
	if domain := os.Getenv(authDomainEnv); domain != "" {
		return domain
	}
	return DefaultAuthDomain
}

// GetOrCreateClientUUID returns the persistent per-installation identity,
// generating and saving one on first use.
func GetOrCreateClientUUID(ctx context.Context, configPath string) (string, error) {
	cfg, err := ReadConfig(configPath)
	if err != nil {
		return "", err
	}

	if cfg.ClientUUID != "" {
		return cfg.ClientUUID, nil
	}

	cfg.ClientUUID = uuid.NewString()
	log.Infof("generated new client UUID: %s", cfg.ClientUUID)
	if err := cfg.Save(ctx, configPath); err != nil {
		return "", err
	}
	return cfg.ClientUUID, nil
}
