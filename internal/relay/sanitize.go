package relay

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultFolderName = "guest"
	maxFolderNameLen  = 255
)

var (
	unsafeFolderChars = regexp.MustCompile(`[/\\<>:"|?*\x00-\x1f]`)
	unsafeObjectChars = regexp.MustCompile(`[^\w.() -]`)
)

// SanitizeFolderName turns a guest's name into a folder label: separators,
// reserved and control characters removed, trimmed, at most 255 characters.
// Names made only of dots become DefaultFolderName.
func SanitizeFolderName(name string) string {
	s := strings.TrimSpace(unsafeFolderChars.ReplaceAllString(name, ""))
	if r := []rune(s); len(r) > maxFolderNameLen {
		s = string(r[:maxFolderNameLen])
	}
	// "." and ".." are path components, not names.
	if strings.Trim(s, ".") == "" {
		return DefaultFolderName
	}
	return s
}

// ObjectName builds "<unixMillis>-<index>-<name>" with every character of name
// outside [A-Za-z0-9_.() -] replaced by '_'.
func ObjectName(unixMillis int64, index int, originalName string) string {
	if originalName == "" {
		originalName = "file"
	}
	return fmt.Sprintf("%d-%d-%s", unixMillis, index, unsafeObjectChars.ReplaceAllString(originalName, "_"))
}
