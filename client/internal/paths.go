package internal

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "LuyumiLauncher"

// DefaultAppDir returns the platform default launcher directory, ignoring
// any configured install path override.
func DefaultAppDir() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(homeDir(), "AppData", "Roaming")
		}
		return filepath.Join(base, appDirName)
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appDirName)
	case "linux":
		return filepath.Join(homeDir(), ".local", "share", appDirName)
	default:
		return filepath.Join(homeDir(), ".config", appDirName)
	}
}

// ResolvedAppDir returns the effective launcher directory, honoring the
// installPath override from the launcher config when one is set.
func ResolvedAppDir() string {
	appDir := DefaultAppDir()

	cfg, err := ReadConfig(ConfigPath(appDir))
	if err != nil {
		return appDir
	}
	if cfg.InstallPath != "" {
		return filepath.Join(cfg.InstallPath, appDirName)
	}
	return appDir
}

// UserDataDir is always rooted under the default launcher directory so user
// customization files survive install path changes.
func UserDataDir() string {
	return filepath.Join(DefaultAppDir(), "userData")
}

// ConfigPath returns the launcher config file location under appDir.
func ConfigPath(appDir string) string {
	return filepath.Join(appDir, "config.json")
}

// InstallPaths is the resolved set of directories one install, update,
// repair or launch operation works against. Derived once per operation.
type InstallPaths struct {
	AppDir   string
	CacheDir string
	ToolsDir string
	GameDir  string
	JreDir   string
}

// ResolvePaths derives the directory set for an operation. Cache and tools
// always live under the default app dir; game and runtime follow the
// resolved (possibly overridden) install base.
func ResolvePaths() *InstallPaths {
	appDir := ResolvedAppDir()
	defaultDir := DefaultAppDir()
	return &InstallPaths{
		AppDir:   appDir,
		CacheDir: filepath.Join(defaultDir, "cache"),
		ToolsDir: filepath.Join(defaultDir, "butler"),
		GameDir:  filepath.Join(appDir, "install", "release", "package", "game", "latest"),
		JreDir:   filepath.Join(appDir, "install", "release", "package", "jre", "latest"),
	}
}

// ExpandHome expands a leading ~ in the given path.
func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		return homeDir()
	}
	if len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// ProfilesDir returns the profile storage directory under appDir.
func ProfilesDir(appDir string) string {
	return filepath.Join(appDir, "profiles")
}
