package system

import (
	"os"

	"github.com/zcalusic/sysinfo"
)

// GetInfo retrieves and parses the system information
func GetInfo() *Info {
	var si sysinfo.SysInfo
	si.GetSysInfo()

	info := baseInfo()
	info.Kernel = si.Kernel.Release
	info.OS = si.OS.Name
	info.OSVersion = si.OS.Version
	if si.OS.Architecture != "" {
		info.Platform = si.OS.Architecture
	}
	if info.OS == "" {
		info.OS = "linux"
	}
	info.Hostname, _ = os.Hostname()
	return info
}
