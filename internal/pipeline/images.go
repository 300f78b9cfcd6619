package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safesite-data/ppewatch/internal/fsutil"
	"github.com/safesite-data/ppewatch/internal/security"
)

// ImageStore writes violation snapshots to disk, grouped under one
// directory per day.
type ImageStore struct {
	Root string
	FS   fsutil.FileSystem
}

// NewImageStore returns a store rooted at dir on the real filesystem.
// Directories are created lazily on first save.
func NewImageStore(dir string) *ImageStore {
	return &ImageStore{Root: dir, FS: fsutil.OSFileSystem{}}
}

// Save writes one JPEG snapshot and returns its path. The file name
// carries the zone and person for quick triage; a uuid suffix keeps
// names unique when the same person violates in multiple sessions.
func (s *ImageStore) Save(zone string, personID int64, frame []byte, now time.Time) (string, error) {
	day := now.Format("2006-01-02")
	dir := filepath.Join(s.Root, day)
	if err := s.FS.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("violation_%s_p%d_%s.jpg", sanitizeZone(zone), personID, uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	if err := s.FS.WriteFile(path, frame, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// Load reads a snapshot back, refusing paths outside the store root.
// The path may come from an API query parameter, not only from the
// database, so it is never trusted.
func (s *ImageStore) Load(path string) ([]byte, error) {
	if err := security.ValidatePathWithinDirectory(path, s.Root); err != nil {
		return nil, err
	}
	data, err := s.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// sanitizeZone makes a zone name safe for use in a file name.
func sanitizeZone(zone string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, zone)
	if mapped == "" {
		return "zone"
	}
	return mapped
}
