package patcher

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luyumi/launcher/client/internal/extract"
)

const (
	oldDomain = "hytale.com"
	newDomain = "example.ws" // same length
)

func TestNewRejectsMismatchedLength(t *testing.T) {
	p := New(oldDomain, "a-much-longer-domain.example")
	assert.Equal(t, defaultTargetDomain, p.TargetDomain())

	p = New(oldDomain, newDomain)
	assert.Equal(t, newDomain, p.TargetDomain())
}

func TestReplaceUTF8(t *testing.T) {
	data := []byte("connect to https://auth.hytale.com and hytale.com again")

	count := replaceUTF8(data, oldDomain, newDomain)
	assert.Equal(t, 2, count)
	assert.Equal(t, "connect to https://auth.example.ws and example.ws again", string(data))
	assert.NotContains(t, string(data), oldDomain)
}

func TestReplaceUTF16(t *testing.T) {
	data := append([]byte("prefix"), utf16LE(oldDomain)...)
	data = append(data, []byte("suffix")...)

	count := replaceUTF16(data, oldDomain, newDomain)
	assert.Equal(t, 1, count)
	assert.True(t, bytes.Contains(data, utf16LE(newDomain)))
	assert.False(t, bytes.Contains(data, utf16LE(oldDomain)))
}

func TestReplaceUTF16IgnoresWrongLastByte(t *testing.T) {
	// matches the prefix but the final code unit differs
	data := append(utf16LE(oldDomain[:len(oldDomain)-1]), 'x', 0)

	count := replaceUTF16(data, oldDomain, newDomain)
	assert.Equal(t, 0, count)
}

func TestPatchBinaryAndFlag(t *testing.T) {
	gameDir := filepath.Join(t.TempDir(), "game")
	client := extract.ClientCandidates(gameDir)[0]
	require.NoError(t, os.MkdirAll(filepath.Dir(client), 0755))

	content := append([]byte("binary "), []byte(oldDomain)...)
	content = append(content, utf16LE(oldDomain)...)
	require.NoError(t, os.WriteFile(client, content, 0755))

	p := New(oldDomain, newDomain)
	p.EnsurePatched(gameDir)

	patched, err := os.ReadFile(client)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(patched, []byte(newDomain)))
	assert.True(t, bytes.Contains(patched, utf16LE(newDomain)))
	assert.FileExists(t, client+patchedFlagSuffix)

	// second run skips the already-patched binary
	assert.True(t, p.isPatched(client))

	// touching the binary invalidates the flag
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(client, future, future))
	assert.False(t, p.isPatched(client))
}

func TestPatchServerJar(t *testing.T) {
	gameDir := t.TempDir()
	jarPath := filepath.Join(gameDir, "Server", "HytaleServer.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(jarPath), 0755))

	out, err := os.Create(jarPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("config/endpoints.properties")
	require.NoError(t, err)
	_, err = w.Write([]byte("auth=" + oldDomain))
	require.NoError(t, err)
	w, err = zw.Create("assets/logo.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte(oldDomain)) // not a patchable entry type
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	p := New(oldDomain, newDomain)
	patched, err := p.patchServerJar(jarPath)
	require.NoError(t, err)
	assert.True(t, patched)

	zr, err := zip.OpenReader(jarPath)
	require.NoError(t, err)
	defer zr.Close()

	for _, entry := range zr.File {
		data, err := readZipEntry(entry)
		require.NoError(t, err)
		switch entry.Name {
		case "config/endpoints.properties":
			assert.Equal(t, "auth="+newDomain, string(data))
		case "assets/logo.bin":
			assert.Equal(t, oldDomain, string(data))
		}
	}

	_, err = os.Stat(jarPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
