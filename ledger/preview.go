package ledger

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Fallback preview references for entries without a live preview.
const (
	PDFIcon  = "/icons/pdf-icon.png"
	TextIcon = "/icons/text-icon.png"
	FileIcon = "/icons/file-icon.png"
)

// PreviewStore allocates and releases live previews.
type PreviewStore interface {
	Acquire(d Descriptor) (string, error)
	Release(ref string)
}

// IsFallback reports whether ref is one of the fixed icon references.
func IsFallback(ref string) bool {
	switch ref {
	case PDFIcon, TextIcon, FileIcon:
		return true
	}
	return false
}

// hasLivePreview reports whether the media type gets a generated preview.
func hasLivePreview(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/")
}

// fallbackIcon picks the icon for a media type without a live preview.
func fallbackIcon(contentType string) string {
	switch {
	case contentType == "application/pdf":
		return PDFIcon
	case strings.HasPrefix(contentType, "text/"):
		return TextIcon
	default:
		return FileIcon
	}
}

// MemoryPreviews is a process-wide registry of live preview handles.
type MemoryPreviews struct {
	mu   sync.Mutex
	live map[string]Descriptor
}

// NewMemoryPreviews ...
func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{live: map[string]Descriptor{}}
}

// Acquire ...
func (p *MemoryPreviews) Acquire(d Descriptor) (string, error) {
	ref := "blob:" + uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[ref] = d
	return ref, nil
}

// Release ...
func (p *MemoryPreviews) Release(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, ref)
}

// Live returns the number of previews acquired and not yet released.
func (p *MemoryPreviews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
