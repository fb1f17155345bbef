package publish

import (
	"path"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	manifestFile = "_meta.json"
	rootKey      = manifestFile
)

// Manifest is the per-directory navigation index consumed by the static
// site generator. Keys are "<dir>/_meta.json" ("_meta.json" at the root).
type Manifest struct {
	entries *orderedmap.OrderedMap[string, *ManifestEntry]
}

func newManifest() *Manifest {
	return &Manifest{entries: orderedmap.New[string, *ManifestEntry]()}
}

// ManifestEntry maps URI-encoded child names to their display labels,
// keeping insertion order.
type ManifestEntry struct {
	children *orderedmap.OrderedMap[string, string]
}

func newManifestEntry() *ManifestEntry {
	return &ManifestEntry{children: orderedmap.New[string, string]()}
}

// Set assigns label to name. Re-setting an existing name keeps its position.
func (e *ManifestEntry) Set(name, label string) {
	e.children.Set(name, label)
}

// Names returns the child names in insertion order.
func (e *ManifestEntry) Names() []string {
	names := make([]string, 0, e.children.Len())
	for pair := e.children.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Label returns the display label registered for name.
func (e *ManifestEntry) Label(name string) (string, bool) {
	return e.children.Get(name)
}

// MarshalJSON encodes the entry as a JSON object in insertion order.
func (e *ManifestEntry) MarshalJSON() ([]byte, error) {
	return e.children.MarshalJSON()
}

// BuildManifest derives the navigation index from the local logical paths
// of the markdown items selected for publish. Children appear in the order
// the paths are given; nothing is sorted.
func BuildManifest(markdownPaths []string) *Manifest {
	m := newManifest()

	paths := make([]string, len(markdownPaths))
	for i, p := range markdownPaths {
		paths[i] = normalizePath(p)
	}

	for _, p := range paths {
		first := strings.SplitN(p, "/", 2)[0]
		m.register(rootKey, childName(first))
	}

	for _, p := range paths {
		segs := strings.Split(p, "/")
		for idx := range segs {
			current := strings.Join(segs[:idx+1], "/")
			if !IsDirectory(current) {
				continue
			}
			key := current + "/" + manifestFile
			for _, other := range paths {
				if !strings.HasPrefix(other, current+"/") {
					continue
				}
				rel := strings.TrimPrefix(other, current+"/")
				m.register(key, childName(strings.SplitN(rel, "/", 2)[0]))
			}
		}
	}
	return m
}

func childName(segment string) string {
	return strings.TrimSuffix(segment, ".md")
}

func (m *Manifest) register(key, child string) {
	e, ok := m.entries.Get(key)
	if !ok {
		e = newManifestEntry()
		m.entries.Set(key, e)
	}
	if child == "" {
		return
	}
	e.Set(EncodeURI(child), child)
}

// Keys returns the manifest file keys in first-seen order.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Entry returns the entry stored under key.
func (m *Manifest) Entry(key string) (*ManifestEntry, bool) {
	return m.entries.Get(key)
}

// Restrict keeps only the root entry and the entries of the directories
// that contain notePath.
func (m *Manifest) Restrict(notePath string) *Manifest {
	wanted := map[string]struct{}{rootKey: {}}
	segs := strings.Split(normalizePath(notePath), "/")
	for idx := range segs[:len(segs)-1] {
		dir := strings.Join(segs[:idx+1], "/")
		wanted[path.Join(dir, manifestFile)] = struct{}{}
	}

	out := newManifest()
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := wanted[pair.Key]; ok {
			out.entries.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// Items renders one manifest Item per key, before the layout transform.
func (m *Manifest) Items() ([]Item, error) {
	items := make([]Item, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		content, err := pair.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Path:    pair.Key,
			Kind:    KindManifest,
			Content: content,
			Message: manifestMessage(pair.Key),
		})
	}
	return items, nil
}
