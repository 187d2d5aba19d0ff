package identity

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/google/uuid"
)

// Identity holds the device's unique identifier and other metadata.
type Identity struct {
	ID       string          `json:"device_id,omitempty"`
	Name     string          `json:"device_name,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// DeviceInfoInterface defines methods for managing device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	EnsureDeviceID() (string, error)
	GetDeviceID() string
	GetDeviceIdentity() *Identity
}

// DeviceInfo manages the device identity and its associated file operations.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
	mu             sync.RWMutex
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{},
	}
}

// LoadDeviceInfo reads the device information from the file and populates the Identity field.
func (d *DeviceInfo) LoadDeviceInfo() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			// File does not exist, initialize with default empty values
			d.Identity = Identity{}
			return nil
		}
		return err
	}

	return nil
}

// EnsureDeviceID returns the persisted device ID, generating and saving one on first use.
// Once written the ID never changes, so every sample from this device carries the same deviceId.
func (d *DeviceInfo) EnsureDeviceID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Identity.ID != "" {
		return d.Identity.ID, nil
	}

	id := uuid.New().String()
	identity := d.Identity
	identity.ID = id
	if err := d.fileOps.WriteJsonFile(d.DeviceInfoFile, identity); err != nil {
		return "", err
	}
	d.Identity = identity
	return id, nil
}

// GetDeviceIdentity returns a copy of the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity := d.Identity
	return &identity
}

// GetDeviceID returns the current device ID.
func (d *DeviceInfo) GetDeviceID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Identity.ID
}
