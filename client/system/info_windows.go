package system

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/host"
	log "github.com/sirupsen/logrus"
)

// GetInfo retrieves and parses the system information
func GetInfo() *Info {
	info := baseInfo()
	info.OS = "Windows"

	hostInfo, err := host.InfoWithContext(context.Background())
	if err != nil {
		log.Warnf("failed to retrieve host info: %v", err)
	} else {
		info.OS = hostInfo.Platform
		info.OSVersion = hostInfo.PlatformVersion
		info.Kernel = hostInfo.KernelVersion
	}
	info.Hostname, _ = os.Hostname()
	return info
}
