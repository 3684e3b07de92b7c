// ABOUTME: Tests for the media stager
// ABOUTME: Covers sniffing, size limits, per-user replacement, idempotent release, and sweep

package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestStager(t *testing.T, maxBytes int64) *Stager {
	t.Helper()
	s, err := NewStager(filepath.Join(t.TempDir(), "media"), maxBytes, nil)
	require.NoError(t, err)
	return s
}

func TestStage_PNG(t *testing.T) {
	s := newTestStager(t, 0)

	m, err := s.Stage("@alice:example.org", pngBytes(t, 3, 2))
	require.NoError(t, err)

	assert.Equal(t, "png", m.Format)
	assert.Equal(t, "image/png", m.MimeType)
	assert.Equal(t, 3, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.Equal(t, "@alice:example.org", m.UserID)
	assert.True(t, strings.HasSuffix(m.Path, ".png"))
	assert.Equal(t, s.Dir(), filepath.Dir(m.Path))
	// File name must not contain raw user-id characters
	assert.NotContains(t, filepath.Base(m.Path), "@")
	assert.NotContains(t, filepath.Base(m.Path), ":")

	info, err := os.Stat(m.Path)
	require.NoError(t, err)
	assert.Equal(t, m.Size, info.Size())
}

func TestStage_JPEGUsesJpgExtension(t *testing.T) {
	s := newTestStager(t, 0)

	m, err := s.Stage("u1", jpegBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", m.Format)
	assert.True(t, strings.HasSuffix(m.Path, ".jpg"))
}

func TestStage_RejectsInvalid(t *testing.T) {
	s := newTestStager(t, 64)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"oversized", bytes.Repeat([]byte{0x89}, 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := s.Stage("u1", tt.data)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrInvalidMedia)
		})
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected media must not leave files behind")
}

func TestStage_ReplacesPreviousForSameUser(t *testing.T) {
	s := newTestStager(t, 0)

	first, err := s.Stage("u1", pngBytes(t, 1, 1))
	require.NoError(t, err)
	second, err := s.Stage("u1", pngBytes(t, 2, 2))
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	_, err = os.Stat(first.Path)
	assert.True(t, os.IsNotExist(err), "previous file should be removed")
	_, err = os.Stat(second.Path)
	assert.NoError(t, err)
}

func TestStage_UsersAreIndependent(t *testing.T) {
	s := newTestStager(t, 0)

	a, err := s.Stage("alice", pngBytes(t, 1, 1))
	require.NoError(t, err)
	b, err := s.Stage("bob", pngBytes(t, 1, 1))
	require.NoError(t, err)

	_, err = os.Stat(a.Path)
	assert.NoError(t, err)
	_, err = os.Stat(b.Path)
	assert.NoError(t, err)
}

func TestRelease_Idempotent(t *testing.T) {
	s := newTestStager(t, 0)

	m, err := s.Stage("u1", pngBytes(t, 1, 1))
	require.NoError(t, err)

	require.NoError(t, s.Release(m))
	require.NoError(t, s.Release(m))
	require.NoError(t, s.Release(nil))

	_, err = os.Stat(m.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseUser(t *testing.T) {
	s := newTestStager(t, 0)

	m, err := s.Stage("u1", pngBytes(t, 1, 1))
	require.NoError(t, err)

	require.NoError(t, s.ReleaseUser("u1"))
	require.NoError(t, s.ReleaseUser("u1"))
	require.NoError(t, s.ReleaseUser("nobody"))

	_, err = os.Stat(m.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen(t *testing.T) {
	s := newTestStager(t, 0)
	data := pngBytes(t, 2, 2)

	m, err := s.Stage("u1", data)
	require.NoError(t, err)

	got, err := s.Open(m)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Open(nil)
	assert.ErrorIs(t, err, ErrInvalidMedia)
}

func TestSweep_RemovesOnlyLeftovers(t *testing.T) {
	s := newTestStager(t, 0)

	live, err := s.Stage("u1", pngBytes(t, 1, 1))
	require.NoError(t, err)

	leftover := filepath.Join(s.Dir(), "old-user-1234.png")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o600))

	removed, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(live.Path)
	assert.NoError(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "_alice_example_org", slug("@alice:example.org"))
	assert.Equal(t, "user", slug(""))
	assert.Equal(t, "abc-1_2", slug("abc-1_2"))
}
