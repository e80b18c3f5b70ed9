package naming

import (
	"mime"
	"strings"
)

// ThumbnailSuffix is inserted between the stem and the extension of a derived key.
// Stored objects depend on it, so it must never change.
const ThumbnailSuffix = "-thumbnail"

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

// AllowedExtensions lists the accepted upload extensions.
func AllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "gif"}
}

// DerivedKey maps a source key to the key of its thumbnail: "a.b.png" becomes
// "a.b-thumbnail.png". A key without a dot gets the suffix appended.
func DerivedKey(source string) string {
	idx := strings.LastIndex(source, ".")
	if idx < 0 {
		return source + ThumbnailSuffix
	}
	return source[:idx] + ThumbnailSuffix + source[idx:]
}

// Extension returns the lower-cased suffix after the last dot, or "" when absent.
func Extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// Allowed reports whether name carries an accepted image extension.
func Allowed(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}

// ContentType infers a content type from the extension of name.
func ContentType(name string) string {
	switch Extension(name) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension("." + Extension(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
