package app

import (
	"bumpbot/internal/config"
	"bumpbot/internal/storage"
)

// mapStorageConfig reports whether persistence is enabled and how to open it.
func mapStorageConfig(s *config.Settings) (storage.Config, bool) {
	if s == nil || s.Storage.Driver == "" || s.Storage.Driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      s.Storage.Driver,
		Path:        s.Storage.Path,
		BusyTimeout: s.Storage.BusyTimeout,
	}, true
}
