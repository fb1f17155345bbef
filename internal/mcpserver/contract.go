package mcpserver

import (
	"fmt"

	"github.com/starford/notepub/internal/publish"
)

const contractTemplate = `# Publish Front-matter Contract

A vault note is published only when its YAML front-matter carries a set
value under the publish key. false, 0, empty strings and empty lists count
as unset.

` + "```" + `markdown
---
%[1]s: true                 # REQUIRED to publish
%[2]s: intro.md            # OPTIONAL upload name, kept in the note's directory
title: Getting started      # OPTIONAL
---

Body. Embedded images use ![[diagram.png]] or ![alt](diagram.png).
` + "```" + `

## Layout

- Notes are written under ` + "`%[3]s`" + ` with their vault-relative path.
- Embedded images are written under ` + "`%[4]s/%[5]s/`" + ` and the embed is
  rewritten to ` + "`![name](/%[5]s/name)`" + `, the URL the site serves it at.
- Every directory with published notes gets a ` + "`_meta.json`" + ` listing its
  entries in vault order.
- A full publish deletes any file under ` + "`%[3]s`" + ` or ` + "`%[4]s`" + ` that is not
  part of the current publish set. Single-note publishes delete nothing.

## Rules

1. File and directory names should avoid dots except before the extension;
   a dotted path segment is treated as a file.
2. An embed whose target cannot be found in the vault is left untouched.
3. Two embeds that resolve to the same image upload it once.
4. An embed link that climbs above the image directory (` + "`../x.png`" + `)
   is not published and stays untouched.
`

// FrontmatterContract renders the contract for the configured keys and
// remote prefixes.
func FrontmatterContract(s publish.Settings) string {
	s = s.WithDefaults()
	return fmt.Sprintf(contractTemplate,
		s.FrontmatterKey, s.FilenameKey, s.MarkdownPath, s.ImagePath, s.ImageDir)
}
