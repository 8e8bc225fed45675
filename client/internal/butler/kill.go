package butler

import (
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// killRunning terminates any running butler instance so the binary can be
// overwritten. Best-effort: failures are logged and ignored.
func killRunning() {
	procs, err := process.Processes()
	if err != nil {
		log.Debugf("failed to list processes: %v", err)
		return
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if name != "butler" && name != "butler.exe" {
			continue
		}
		log.Infof("terminating running butler process %d", p.Pid)
		if err := p.Kill(); err != nil {
			log.Warnf("failed to kill butler process %d: %v", p.Pid, err)
		}
	}
}
