package web

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// blockedExtensions lists executable types that are never accepted as
// attachments.
var blockedExtensions = map[string]bool{
	".exe":   true,
	".bat":   true,
	".cmd":   true,
	".com":   true,
	".pif":   true,
	".scr":   true,
	".vbs":   true,
	".jar":   true,
	".app":   true,
	".deb":   true,
	".rpm":   true,
	".dmg":   true,
	".pkg":   true,
	".msi":   true,
	".dll":   true,
	".so":    true,
	".dylib": true,
}

// SanitizeFilename replaces path separators, strips control characters and
// invalid UTF-8, and caps the length at 255 bytes on a rune boundary, keeping
// the extension.
func SanitizeFilename(filename string) string {
	filename = strings.ToValidUTF8(filename, "")
	filename = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, filename)
	filename = strings.Trim(filename, " .")

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		if len(ext) > 16 {
			ext = ""
		}
		cut := 255 - len(ext)
		for cut > 0 && !utf8.RuneStart(filename[cut]) {
			cut--
		}
		filename = filename[:cut] + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// CheckUploadFilename rejects executable extensions.
func CheckUploadFilename(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if blockedExtensions[ext] {
		return fmt.Errorf("file type not allowed: %s", ext)
	}
	return nil
}
