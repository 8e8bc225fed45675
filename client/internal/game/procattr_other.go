//go:build !windows

package game

import "os/exec"

func hideWindow(_ *exec.Cmd) {}
