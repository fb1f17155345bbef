package publish

import "fmt"

// Kind selects the path rule and commit message template of an Item.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindImage    Kind = "image"
	KindManifest Kind = "manifest"
)

// Item is the unit of remote synchronization. Items are built once per run
// and are not modified after the layout transform.
type Item struct {
	Path    string `json:"path"`
	Kind    Kind   `json:"kind"`
	Content []byte `json:"-"`
	Message string `json:"message"`
}

func markdownMessage(name string) string { return fmt.Sprintf("Upload File: %s", name) }

func imageMessage(name string) string { return fmt.Sprintf("Upload Image: %s", name) }

func manifestMessage(key string) string { return fmt.Sprintf("Update MetaJSON: %s", key) }

func deleteMessage(path string) string { return fmt.Sprintf("Delete File: %s", path) }

func mergeRequestTitle(n int) string { return fmt.Sprintf("Publish %d files", n) }
