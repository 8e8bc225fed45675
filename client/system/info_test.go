package system

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_LauncherVersion(t *testing.T) {
	got := GetInfo()
	want := "development"
	assert.Equal(t, want, got.LauncherVersion)
}

func Test_BasicFields(t *testing.T) {
	got := GetInfo()
	assert.Equal(t, runtime.GOOS, got.GoOS)
	assert.NotEmpty(t, got.OS)
	assert.NotEmpty(t, got.Hostname)
	assert.Greater(t, got.CPUs, 0)
	assert.NotEmpty(t, got.String())
}
