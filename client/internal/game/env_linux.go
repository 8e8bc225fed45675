package game

import (
	"os"
	"path/filepath"
	"strings"
)

// platformEnv adds the display and library settings Linux clients need:
// native Wayland when the session provides it, GPU vendor hints and a
// library path covering the bundled client directories.
func platformEnv(clientDir string, opts LaunchOptions) []string {
	var env []string

	if os.Getenv("WAYLAND_DISPLAY") != "" && os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		env = append(env, "SDL_VIDEODRIVER=wayland")
	}

	switch opts.GpuPreference {
	case "nvidia":
		env = append(env,
			"__NV_PRIME_RENDER_OFFLOAD=1",
			"__GLX_VENDOR_LIBRARY_NAME=nvidia",
		)
	case "integrated":
		env = append(env, "DRI_PRIME=0")
	case "discrete":
		env = append(env, "DRI_PRIME=1")
	}

	libDirs := []string{
		clientDir,
		filepath.Join(clientDir, "lib"),
		filepath.Join(clientDir, "bin"),
		filepath.Join(clientDir, "natives"),
	}
	if existing := os.Getenv("LD_LIBRARY_PATH"); existing != "" {
		libDirs = append(libDirs, existing)
	}
	env = append(env, "LD_LIBRARY_PATH="+strings.Join(libDirs, string(os.PathListSeparator)))

	return env
}
