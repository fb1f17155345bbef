package publish

import (
	"strings"

	"github.com/starford/notepub/internal/remote"
)

// ComputeDeletions returns the remote files that are absent from the
// transformed publish set and live under one of the managed prefixes.
// Files outside both prefixes are never returned; that bound is the only
// thing standing between a misconfigured prefix and unrelated site content.
func ComputeDeletions(remoteFiles []remote.File, items []Item, prefixes []string) []remote.File {
	published := make(map[string]struct{}, len(items))
	for _, it := range items {
		published[it.Path] = struct{}{}
	}

	var out []remote.File
	for _, f := range remoteFiles {
		if _, ok := published[f.Path]; ok {
			continue
		}
		if !underAny(f.Path, prefixes) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func underAny(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		pre = strings.Trim(pre, "/")
		if pre == "" {
			continue
		}
		if strings.HasPrefix(p, pre+"/") {
			return true
		}
	}
	return false
}
