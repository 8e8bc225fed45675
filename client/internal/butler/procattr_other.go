//go:build !windows

package butler

import "os/exec"

func hideWindow(_ *exec.Cmd) {}
