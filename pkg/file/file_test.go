package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileService_WriteFileAtomic(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "nested", "queue.json")

	require.NoError(t, fs.WriteFileAtomic(path, []byte(`[1]`)))
	require.NoError(t, fs.WriteFileAtomic(path, []byte(`[1,2]`)))

	data, err := fs.ReadFileRaw(path)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileService_MoveAside(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, fs.WriteFileAtomic(path, []byte(`{broken`)))

	moved, err := fs.MoveAside(path, "corrupt-1")
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt-1", moved)

	exists, err := fs.IsFileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := fs.ReadFileRaw(moved)
	require.NoError(t, err)
	assert.Equal(t, `{broken`, string(data))
}

func TestFileService_IsFileExists(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "device.json")

	exists, err := fs.IsFileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.WriteJsonFile(path, map[string]string{"device_id": "abc"}))
	exists, err = fs.IsFileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	var out map[string]string
	require.NoError(t, fs.ReadJsonFile(path, &out))
	assert.Equal(t, "abc", out["device_id"])
}

func TestFileService_ReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: http://localhost:3000/api\n"), 0600))

	var cfg struct {
		Backend struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"backend"`
	}
	require.NoError(t, fs.ReadYamlFile(path, &cfg))
	assert.Equal(t, "http://localhost:3000/api", cfg.Backend.BaseURL)
}
