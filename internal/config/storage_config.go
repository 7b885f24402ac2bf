package config

import "path/filepath"

type StorageConfig interface {
	GetDataFolder() string
	GetStoragePath() string
	GetStorageKey() string
}

type Storage struct {
	vals values
}

var _ StorageConfig = Storage{}

func (s Storage) GetDataFolder() string {
	return s.vals.DataFolder
}

// GetStoragePath is the bbolt file holding the persisted session and connection state.
func (s Storage) GetStoragePath() string {
	return filepath.Join(s.vals.DataFolder, "storemap.db")
}

// GetStorageKey is the passphrase used to seal stored values. Empty disables sealing.
func (s Storage) GetStorageKey() string {
	return s.vals.StorageKey
}
