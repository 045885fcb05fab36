// Package media turns the files a guest picked into upload-ready items:
// images are re-encoded as JPEG under a byte budget, videos follow an explicit
// policy and everything else is refused.
package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SelectedItem is a file as picked by the user, before preparation.
type SelectedItem struct {
	Data         []byte
	MediaType    string
	OriginalName string
}

// PreparedItem is ready to be uploaded.
type PreparedItem struct {
	Name     string
	Data     []byte
	MimeType string
}

func (p PreparedItem) Size() int64 {
	return int64(len(p.Data))
}

// DetectMediaType sniffs the content of data. The file name is only used when
// the content is not recognised.
func DetectMediaType(name string, data []byte) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if byExt := mimetype.Lookup(extMime(name)); byExt != nil {
			return byExt.String()
		}
	}
	// Drop parameters such as "; charset=utf-8".
	s, _, _ := strings.Cut(mt.String(), ";")
	return s
}

func extMime(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".mov":
		return "video/quicktime"
	case ".mp4":
		return "video/mp4"
	}
	return ""
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

func isVideo(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "video/")
}

// jpegName replaces the extension of name with .jpg.
func jpegName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "image"
	}
	return base + ".jpg"
}
