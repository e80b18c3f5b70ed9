package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivedKey(t *testing.T) {
	cases := map[string]string{
		"a.b.png":            "a.b-thumbnail.png",
		"photo.jpeg":         "photo-thumbnail.jpeg",
		"img.png":            "img-thumbnail.png",
		"dir/cat.GIF":        "dir/cat-thumbnail.GIF",
		"noext":              "noext-thumbnail",
		".png":               "-thumbnail.png",
		"trailing.":          "trailing-thumbnail.",
		"2024/01/02/a.b.jpg": "2024/01/02/a.b-thumbnail.jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, DerivedKey(in), "source %q", in)
	}
}

func TestAllowed(t *testing.T) {
	for _, name := range []string{"a.png", "a.PNG", "a.jpg", "a.JpEg", "x.y.gif"} {
		assert.True(t, Allowed(name), name)
	}
	for _, name := range []string{"", "png", "a.bmp", "a.png.exe", "a.", "a.webp"} {
		assert.False(t, Allowed(name), name)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("img-thumbnail.png"))
	assert.Equal(t, "image/jpeg", ContentType("img.JPG"))
	assert.Equal(t, "image/jpeg", ContentType("img.jpeg"))
	assert.Equal(t, "image/gif", ContentType("img.gif"))
	assert.Equal(t, "application/octet-stream", ContentType("img"))
}
