// Package config persists the device's settings record: role
// (PRIMARY/SECONDARY) and active therapy profile name, the only
// state the firmware keeps across reboots. Encoding follows the
// teacher's cbor usage for typed payloads, simplified here since
// Settings needs no custom tag registration.
package config

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Role mirrors the device's fixed identity on the link.
type Role uint8

const (
	RoleUnset Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "PRIMARY"
	case RoleSecondary:
		return "SECONDARY"
	default:
		return "UNSET"
	}
}

// Settings is the single persisted record.
type Settings struct {
	Role        Role
	ProfileName string
}

// Store loads and saves Settings to a single file.
type Store struct {
	path string
}

// New returns a Store backed by path. The file need not exist yet;
// Load returns the zero Settings in that case.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and decodes the settings file. A missing file is not an
// error: it returns the zero value, matching a factory-reset device.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	var st Settings
	if err := cbor.Unmarshal(data, &st); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	return st, nil
}

// Save encodes and writes st, replacing the previous settings file.
func (s *Store) Save(st Settings) error {
	data, err := cbor.Marshal(st)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// FactoryReset removes the settings file entirely, returning the
// device to its zero-value configuration on next boot.
func (s *Store) FactoryReset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
