package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	deviceDirPerm  = 0700
	deviceFilePerm = 0600
)

// DeviceStore persists this device's identifier.
//
// The identifier is a random UUID generated on first use. It tells one
// device of an identity from another and carries no trust: anyone who can
// read the file can present it, which is why every privilege change also
// needs the credential.
type DeviceStore struct {
	path string
}

// NewDeviceStore creates a store at path. An empty path uses
// DefaultDevicePath.
func NewDeviceStore(path string) (*DeviceStore, error) {
	if path == "" {
		p, err := DefaultDevicePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &DeviceStore{path: path}, nil
}

// DefaultDevicePath is elevate/device-id under the user config directory.
func DefaultDevicePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, "elevate", "device-id"), nil
}

// Path returns the file backing the store.
func (s *DeviceStore) Path() string {
	return s.path
}

// Resolve returns the stored identifier, creating one if the file is
// missing or does not hold a valid UUID.
func (s *DeviceStore) Resolve() (string, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("reading device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(s.path), deviceDirPerm); err != nil {
		return "", fmt.Errorf("creating device id directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), deviceFilePerm); err != nil {
		return "", fmt.Errorf("writing device id: %w", err)
	}
	return id, nil
}

// Reset discards the stored identifier so the next Resolve creates a new one.
func (s *DeviceStore) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing device id: %w", err)
	}
	return nil
}
