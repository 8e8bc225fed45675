//go:build !windows

package extract

import "os/exec"

func hideWindow(_ *exec.Cmd) {}
