package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "holiday.mp4", SanitizeFileName("holiday.mp4"))
	assert.Equal(t, "my_clip__1_.mov", SanitizeFileName("my clip (1).mov"))
	// Каждая недопустимая руна заменяется отдельно: 5 кириллических + "!".
	assert.Equal(t, "______.mp4", SanitizeFileName("видео!.mp4"))

	long := strings.Repeat("a", 300) + ".mp4"
	safe := SanitizeFileName(long)
	assert.Len(t, safe, 180)
	assert.True(t, strings.HasSuffix(safe, ".mp4"))
}

func TestFileExt(t *testing.T) {
	assert.Equal(t, "mp4", FileExt("clip.MP4"))
	assert.Equal(t, "mov", FileExt("a.b.mov"))
	assert.Equal(t, "", FileExt("noext"))
	assert.Equal(t, "", FileExt("trailingdot."))
}

func TestExtensionAllowed(t *testing.T) {
	assert.True(t, ExtensionAllowed("mp4"))
	assert.True(t, ExtensionAllowed("hevc"))
	assert.False(t, ExtensionAllowed("avi"))
	assert.False(t, ExtensionAllowed(""))
}

func TestObjectKeyRoundTrip(t *testing.T) {
	key := ObjectKey("user@example.com", "abc-123", "clip.mp4")
	assert.Equal(t, "video/user@example.com/abc-123_clip.mp4", key)

	assert.Equal(t, "abc-123_clip.mp4", VideoIDFromKey(key))
	assert.Equal(t, "user@example.com", OwnerFromKey(key))
	assert.True(t, KeyInNamespace("user@example.com", key))
	assert.False(t, KeyInNamespace("other@example.com", key))
}

func TestOwnerFromKeyRejectsForeignPrefix(t *testing.T) {
	assert.Equal(t, "", OwnerFromKey("photos/user@example.com/x"))
	assert.Equal(t, "", OwnerFromKey("video/"))
	assert.Equal(t, "", OwnerFromKey("video/noslash"))
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "video/u@e.com/vid-1.jpg", ThumbnailKey("u@e.com", "vid-1"))
}
