package system

import (
	"fmt"
	"runtime"

	"github.com/luyumi/launcher/version"
)

// Info is a snapshot of the machine the game is launched on, recorded in
// the session log header for troubleshooting.
type Info struct {
	GoOS            string
	Kernel          string
	Platform        string
	OS              string
	OSVersion       string
	Hostname        string
	CPUs            int
	LauncherVersion string
}

// String renders the snapshot as a single log-friendly line.
func (i *Info) String() string {
	return fmt.Sprintf("os=%s version=%s kernel=%s arch=%s host=%s cpus=%d launcher=%s",
		i.OS, i.OSVersion, i.Kernel, i.Platform, i.Hostname, i.CPUs, i.LauncherVersion)
}

func baseInfo() *Info {
	return &Info{
		GoOS:            runtime.GOOS,
		Platform:        runtime.GOARCH,
		CPUs:            runtime.NumCPU(),
		LauncherVersion: version.Version(),
	}
}
