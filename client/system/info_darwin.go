package system

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// GetInfo retrieves and parses the system information
func GetInfo() *Info {
	info := baseInfo()

	utsname := unix.Utsname{}
	if err := unix.Uname(&utsname); err != nil {
		log.Warnf("uname failed: %v", err)
	}
	info.Kernel = string(bytes.Split(utsname.Release[:], []byte{0})[0])
	info.OS = "macOS"

	swVersion, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		log.Warnf("failed to retrieve macOS version with sw_vers: %v, using darwin version instead", err)
		swVersion = []byte(info.Kernel)
	}
	info.OSVersion = strings.TrimSpace(string(swVersion))
	info.Hostname, _ = os.Hostname()
	return info
}
