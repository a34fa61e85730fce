package mapper

import (
	"path/filepath"

	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/storage"
)

// StorageLocation is the result of resolving a dataset: where it lives,
// how it is typed on disk and in memory, and any write-time configuration
// attached along the way.
type StorageLocation struct {
	DatasetType     string
	PythonType      string // opaque in-memory type tag, passed through
	PersistableType string // opaque on-disk type tag, passed through
	StorageKind     string
	Locations       []string      // paths relative to Storage's root
	DataID          dataid.DataID // identifier with every template key filled
	UsedDataID      dataid.DataID // the subset the template consumed
	Storage         storage.Interface
	AdditionalData  map[string]any
}

// AbsolutePaths returns the locations joined onto the storage root.
func (l *StorageLocation) AbsolutePaths() []string {
	paths := make([]string, len(l.Locations))
	for i, p := range l.Locations {
		paths[i] = filepath.Join(l.Storage.Root(), p)
	}
	return paths
}

// SetAdditional records one write-time configuration entry.
func (l *StorageLocation) SetAdditional(key string, value any) {
	if l.AdditionalData == nil {
		l.AdditionalData = make(map[string]any)
	}
	l.AdditionalData[key] = value
}
