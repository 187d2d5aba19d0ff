package identity

import (
	"path/filepath"
	"testing"

	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceInfo_EnsureDeviceIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	fs := file.NewFileService()

	first := NewDeviceInfo(path, fs)
	require.NoError(t, first.LoadDeviceInfo())
	assert.Empty(t, first.GetDeviceID())

	id, err := first.EnsureDeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := first.EnsureDeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Simulated restart reads the same ID back.
	second := NewDeviceInfo(path, fs)
	require.NoError(t, second.LoadDeviceInfo())
	assert.Equal(t, id, second.GetDeviceID())
	assert.Equal(t, id, second.GetDeviceIdentity().ID)
}
