package utils

import "strings"

var unsafeNameChars = strings.NewReplacer(":", "_", "/", "_", "*", "_", "\t", "_")

// NormalizeTitle replaces the characters that are unsafe in a file name.
func NormalizeTitle(title string) string {
	return unsafeNameChars.Replace(title)
}

// NormalizeName derives the on-disk and display name of a file version.
// The extension is appended only when it is non-empty.
func NormalizeName(title, extension string) string {
	name := NormalizeTitle(title)
	if extension != "" {
		name += "." + extension
	}
	return name
}
