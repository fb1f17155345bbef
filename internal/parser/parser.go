// Package parser extracts frontmatter, embeds, and titles from Markdown content.
package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/starford/notepub/internal/models"
)

var (
	wikiEmbedRe = regexp.MustCompile(`!\[\[(.*?)\]\]`)
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)

	md = goldmark.New()
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Embeds      []models.Embed
	Title       string
}

// Parse extracts frontmatter, body, embeds, and title from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Embeds:      extractEmbeds(body),
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the note simply has no usable frontmatter.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractEmbeds returns embeds in document order, deduplicated by their
// original markup. Wiki embeds (![[target|size]]) come from a regex scan;
// standard image embeds (![alt](dest)) are only taken when goldmark sees a
// real image node with a local destination, so examples inside code blocks
// and remote URLs are left alone.
func extractEmbeds(body string) []models.Embed {
	seen := make(map[string]struct{})
	var out []models.Embed
	add := func(original, link string) {
		if link == "" {
			return
		}
		if _, ok := seen[original]; ok {
			return
		}
		seen[original] = struct{}{}
		out = append(out, models.Embed{Original: original, Link: link})
	}

	for _, m := range wikiEmbedRe.FindAllStringSubmatch(body, -1) {
		add(m[0], linkTarget(m[1]))
	}

	local := localImageDestinations(body)
	if len(local) == 0 {
		return out
	}
	for _, m := range mdImageRe.FindAllStringSubmatch(body, -1) {
		dest := unescapeDest(m[1])
		if _, ok := local[dest]; !ok {
			continue
		}
		add(m[0], linkTarget(dest))
	}
	return out
}

// linkTarget strips the display size/alias and the subpath from a link:
// "a.png|300" and "a.png#frag" both become "a.png".
func linkTarget(raw string) string {
	target := raw
	if i := strings.Index(target, "|"); i >= 0 {
		target = target[:i]
	}
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	return strings.TrimSpace(target)
}

// localImageDestinations walks the goldmark AST and collects destinations of
// image nodes that point at vault files rather than remote URLs.
func localImageDestinations(body string) map[string]struct{} {
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	out := make(map[string]struct{})
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if isRemote(dest) {
			return ast.WalkContinue, nil
		}
		out[unescapeDest(dest)] = struct{}{}
		return ast.WalkContinue, nil
	})
	return out
}

func unescapeDest(dest string) string {
	if unescaped, err := url.PathUnescape(dest); err == nil {
		return unescaped
	}
	return dest
}

func isRemote(dest string) bool {
	if dest == "" || strings.HasPrefix(dest, "//") {
		return true
	}
	u, err := url.Parse(dest)
	return err == nil && u.Scheme != ""
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
