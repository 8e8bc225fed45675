package game

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

var clientProcessNames = []string{
	"HytaleClient",
	"HytaleClient.exe",
	"Hytale",
}

// IsGameRunning reports whether a game client process is alive on this
// machine, regardless of which launcher started it.
func IsGameRunning() bool {
	procs, err := process.Processes()
	if err != nil {
		log.Debugf("failed to list processes: %v", err)
		return false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		for _, known := range clientProcessNames {
			if strings.EqualFold(name, known) {
				return true
			}
		}
	}
	return false
}
