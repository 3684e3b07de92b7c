// ABOUTME: Validates and stores user images on disk with one live file per user
// ABOUTME: Release is idempotent so every terminal conversation path can call it

package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Register decoders used by image.DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
)

// DefaultMaxBytes caps a staged image at 10 MiB.
const DefaultMaxBytes = 10 << 20

// ErrInvalidMedia is returned for empty, oversized, or unrecognized images.
var ErrInvalidMedia = errors.New("invalid media")

// StagedMedia is a handle to a validated image on disk.
type StagedMedia struct {
	ID       string
	UserID   string
	Path     string
	Format   string // jpeg, png, gif
	MimeType string
	Size     int64
	Width    int
	Height   int
}

// Stager owns the staging directory.
type Stager struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger

	mu     sync.Mutex
	byUser map[string]*StagedMedia
}

// NewStager creates the staging directory if needed.
// maxBytes <= 0 selects DefaultMaxBytes.
func NewStager(dir string, maxBytes int64, logger *slog.Logger) (*Stager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}

	return &Stager{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger.With("component", "media"),
		byUser:   make(map[string]*StagedMedia),
	}, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage validates data and writes it to a per-user file, replacing any image
// the user had staged before.
func (s *Stager) Stage(userID string, data []byte) (*StagedMedia, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidMedia)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: image is %d bytes, limit is %d", ErrInvalidMedia, len(data), s.maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unrecognized image format", ErrInvalidMedia)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrInvalidMedia)
	}

	m := &StagedMedia{
		ID:       uuid.New().String(),
		UserID:   userID,
		Format:   format,
		MimeType: "image/" + format,
		Size:     int64(len(data)),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}
	m.Path = filepath.Join(s.dir, fmt.Sprintf("%s-%s.%s", slug(userID), m.ID, extension(format)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byUser[userID]; ok {
		if err := removeFile(prev.Path); err != nil {
			s.logger.Warn("failed to remove replaced media", "user_id", userID, "path", prev.Path, "error", err)
		}
		delete(s.byUser, userID)
	}

	if err := os.WriteFile(m.Path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing staged media: %w", err)
	}
	s.byUser[userID] = m

	s.logger.Debug("staged media", "user_id", userID, "format", format, "size", m.Size)
	return m, nil
}

// Open reads the staged bytes back.
func (s *Stager) Open(m *StagedMedia) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no staged media", ErrInvalidMedia)
	}
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("reading staged media: %w", err)
	}
	return data, nil
}

// Release deletes the staged file. Releasing a nil handle or a file that is
// already gone is not an error.
func (s *Stager) Release(m *StagedMedia) error {
	if m == nil {
		return nil
	}

	s.mu.Lock()
	if cur, ok := s.byUser[m.UserID]; ok && cur.ID == m.ID {
		delete(s.byUser, m.UserID)
	}
	s.mu.Unlock()

	if err := removeFile(m.Path); err != nil {
		return fmt.Errorf("releasing staged media: %w", err)
	}
	return nil
}

// ReleaseUser deletes whatever the user currently has staged.
func (s *Stager) ReleaseUser(userID string) error {
	s.mu.Lock()
	m, ok := s.byUser[userID]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Release(m)
}

// Sweep removes staged files left behind by a previous process.
// It returns the number of files removed.
func (s *Stager) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading media directory: %w", err)
	}

	s.mu.Lock()
	live := make(map[string]bool, len(s.byUser))
	for _, m := range s.byUser {
		live[m.Path] = true
	}
	s.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if live[path] {
			continue
		}
		if err := removeFile(path); err != nil {
			s.logger.Warn("failed to sweep media file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("swept leftover media", "count", removed)
	}
	return removed, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// slug makes a user id safe for use in a file name.
func slug(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}
