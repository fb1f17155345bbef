package publish

import (
	"fmt"
	"path"
	"strings"

	"github.com/starford/notepub/internal/models"
)

// ResolvedImage is an embed whose link target was found in the vault.
type ResolvedImage struct {
	Embed    models.Embed
	Resource *models.Resource
}

// Rewriter turns a note and its resolved images into publish items.
type Rewriter struct {
	imageDir    string
	filenameKey string
}

// NewRewriter returns a Rewriter placing images under imageDir (relative to
// the image prefix) and honouring filenameKey as an upload name override.
func NewRewriter(imageDir, filenameKey string) *Rewriter {
	return &Rewriter{
		imageDir:    normalizePath(imageDir),
		filenameKey: filenameKey,
	}
}

// MarkdownPath returns the local logical path a note is published under:
// the note's own path, or its directory joined with the frontmatter file
// name override.
func (r *Rewriter) MarkdownPath(note *models.Note) string {
	if r.filenameKey != "" {
		if v, ok := note.Frontmatter[r.filenameKey].(string); ok && strings.TrimSpace(v) != "" {
			dir := path.Dir(note.Path)
			if dir == "." {
				return v
			}
			return dir + "/" + v
		}
	}
	return note.Path
}

// CleanImageLink normalizes an embed link into a path below the image
// directory. It reports false when the link climbs out of it.
func CleanImageLink(link string) (string, bool) {
	p := path.Clean(strings.ReplaceAll(link, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// ImageItem builds the untransformed image item for a resolved embed. It
// reports false when the link cannot be placed under the image directory.
func (r *Rewriter) ImageItem(img ResolvedImage) (Item, bool) {
	p, ok := CleanImageLink(img.Embed.Link)
	if !ok {
		return Item{}, false
	}
	if r.imageDir != "" {
		p = r.imageDir + "/" + p
	}
	return Item{
		Path:    p,
		Kind:    KindImage,
		Content: img.Resource.Content,
		Message: imageMessage(img.Embed.Link),
	}, true
}

// Rewrite replaces every occurrence of each resolved embed's original markup
// with an image tag pointing at the URL the site serves the upload at, which
// is the image path relative to the image prefix. It returns the
// untransformed markdown item and one untransformed image item per resolved
// embed, in embed order. Embeds whose link escapes the image directory are
// left as they are.
func (r *Rewriter) Rewrite(note *models.Note, images []ResolvedImage) (Item, []Item) {
	content := note.Content
	imageItems := make([]Item, 0, len(images))
	for _, img := range images {
		item, ok := r.ImageItem(img)
		if !ok {
			continue
		}
		target := "/" + EncodeURI(item.Path)
		tag := fmt.Sprintf("![%s](%s)", img.Embed.Link, target)
		content = strings.ReplaceAll(content, img.Embed.Original, tag)
		imageItems = append(imageItems, item)
	}

	mdPath := r.MarkdownPath(note)
	return Item{
		Path:    mdPath,
		Kind:    KindMarkdown,
		Content: []byte(content),
		Message: markdownMessage(path.Base(mdPath)),
	}, imageItems
}

// PublishSet accumulates items, collapsing duplicate paths to the first
// item seen.
type PublishSet struct {
	items []Item
	seen  map[string]struct{}
}

// NewPublishSet returns an empty set.
func NewPublishSet() *PublishSet {
	return &PublishSet{seen: make(map[string]struct{})}
}

// Add appends item unless an item that lands under the same prefix with
// the same path is already present. It reports whether the item was added.
func (s *PublishSet) Add(item Item) bool {
	key := "page:" + item.Path
	if item.Kind == KindImage {
		key = "image:" + item.Path
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, item)
	return true
}

// Items returns the accumulated items in insertion order.
func (s *PublishSet) Items() []Item {
	return append([]Item(nil), s.items...)
}

// Paths returns the paths of items of the given kind, in insertion order.
func (s *PublishSet) Paths(kind Kind) []string {
	var out []string
	for _, it := range s.items {
		if it.Kind == kind {
			out = append(out, it.Path)
		}
	}
	return out
}
