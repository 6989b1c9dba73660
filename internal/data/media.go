package data

import (
	"path"
	"path/filepath"
	"strings"
)

const (
	// DownloadingPrefix marks a file whose transfer has not completed yet.
	DownloadingPrefix = "downloading_"

	MediaDir  = "media"
	ThumbDir  = "thumb"
	ExtJPG    = "jpg"
	extSepStr = "."
)

// MediaRecord is one remote media file known to the catalog.
type MediaRecord struct {
	Product   Product `json:"product"`
	Name      string  `json:"name"`
	FilePath  string  `json:"filePath"`
	Date      string  `json:"date"`
	Token     string  `json:"token"`
	Size      float64 `json:"size"`
	Thumbnail []byte  `json:"thumbnail,omitempty"`
}

// NewMediaRecord builds a record for name as listed under product. The
// local path is localDir/name and date/token are decoded from the name.
func NewMediaRecord(p Product, name, localDir string, size float64) *MediaRecord {
	date, token := ParseNameTokens(name)
	return &MediaRecord{
		Product:  p,
		Name:     name,
		FilePath: filepath.Join(localDir, name),
		Date:     date,
		Token:    token,
		Size:     size,
	}
}

// Clone returns a deep copy of the record.
func (m *MediaRecord) Clone() *MediaRecord {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Thumbnail != nil {
		cp.Thumbnail = make([]byte, len(m.Thumbnail))
		copy(cp.Thumbnail, m.Thumbnail)
	}
	return &cp
}

// Snapshot returns the record by value without its thumbnail, which is what
// a queued job carries.
func (m *MediaRecord) Snapshot() MediaRecord {
	cp := *m
	cp.Thumbnail = nil
	return cp
}

// RemotePath is root/product/media/name.
func (m *MediaRecord) RemotePath(root string) string {
	return MediaRemotePath(root, m.Product, m.Name)
}

// ThumbnailRemotePath is root/product/thumb/<thumbnail name>.
func (m *MediaRecord) ThumbnailRemotePath(root string) string {
	return path.Join("/", root, m.Product.PathName(), ThumbDir, ThumbnailName(m.Name))
}

// MediaRemoteDir is root/product/media.
func MediaRemoteDir(root string, p Product) string {
	return path.Join("/", root, p.PathName(), MediaDir)
}

// MediaRemotePath is root/product/media/name.
func MediaRemotePath(root string, p Product, name string) string {
	return path.Join(MediaRemoteDir(root, p), name)
}

// ThumbnailName maps a media name to the name of its thumbnail. Pictures
// are their own thumbnail; any other file, whatever its extension, gets an
// image extension appended.
func ThumbnailName(name string) string {
	switch strings.ToLower(Ext(name)) {
	case ExtJPG, "jpeg", "png", "dng":
		return name
	}
	return name + extSepStr + ExtJPG
}

// Ext returns the text after the last dot of name, or "".
func Ext(name string) string {
	i := strings.LastIndex(name, extSepStr)
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// ParseNameTokens decodes the last two underscore separated segments before
// the extension: "clip_20230101_ABCDEF.mp4" yields ("20230101", "ABCDEF").
// Missing segments come back empty.
func ParseNameTokens(name string) (date, token string) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return "", ""
	}
	last := parts[len(parts)-1]
	if i := strings.Index(last, extSepStr); i >= 0 {
		token = last[:i]
	}
	if len(parts) >= 3 {
		date = parts[len(parts)-2]
	}
	return date, token
}

// InProgressName prefixes name with the in-progress marker.
func InProgressName(name string) string {
	return DownloadingPrefix + name
}

// IsInProgress reports whether the base name carries the in-progress marker.
func IsInProgress(name string) bool {
	return strings.HasPrefix(filepath.Base(name), DownloadingPrefix)
}
