package publish

import (
	"strings"

	"github.com/starford/notepub/internal/remote"
)

// Layout maps local logical paths to canonical remote paths.
type Layout struct {
	imagePrefix    string
	markdownPrefix string
}

// NewLayout builds a Layout from the configured publish paths, e.g.
// "/public" and "/pages".
func NewLayout(imagePath, markdownPath string) Layout {
	return Layout{
		imagePrefix:    normalizePath(imagePath),
		markdownPrefix: normalizePath(markdownPath),
	}
}

// Transform returns item with its path rooted under the prefix for its kind
// and percent-encoded. It joins naively and must be applied exactly once:
// transforming an already transformed item prefixes and encodes it again.
func (l Layout) Transform(item Item) Item {
	prefix := l.markdownPrefix
	if item.Kind == KindImage {
		prefix = l.imagePrefix
	}
	p := normalizePath(item.Path)
	if prefix != "" {
		p = prefix + "/" + p
	}
	item.Path = EncodeURI(p)
	return item
}

// ManagedPrefixes returns the two remote prefixes (encoded, no leading
// slash) inside which deletion is permitted.
func (l Layout) ManagedPrefixes() []string {
	return []string{EncodeURI(l.imagePrefix), EncodeURI(l.markdownPrefix)}
}

// normalizePath converts backslashes to forward slashes and strips leading
// and trailing slashes.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.Trim(p, "/")
}

// IsDirectory reports whether p names a directory. A path is a directory
// iff it contains no '.' anywhere, so an extensionless file name is
// indistinguishable from a directory segment.
func IsDirectory(p string) bool {
	return !strings.Contains(p, ".")
}

// EncodeURI percent-encodes s the way ECMAScript encodeURI does.
func EncodeURI(s string) string { return remote.EncodePath(s) }
