package mcpserver

// PostFormatContract describes the draft format LLM consumers should follow
// when creating, importing or editing drafts.
const PostFormatContract = `# Scribe Post Format

Posts are written as drafts and become read-only once published.

## Draft fields

- **title**: REQUIRED, plain text, at most 300 characters.
- **markdown**: the body, standard Markdown. Do not repeat the title as an H1.
- **id**: OPTIONAL on creation. Lowercase letters, digits, ` + "`" + `-` + "`" + ` and ` + "`" + `_` + "`" + `,
  starting with a letter or digit. A random id is assigned when omitted. Ids
  of published posts cannot be reused.
- **contributors**: list of ` + "`" + `{id, name}` + "`" + ` pairs, both required.

## Importing Markdown

` + "`" + `import_draft` + "`" + ` accepts a whole document with optional YAML frontmatter:

` + "```" + `markdown
---
title: Weekly notes            # REQUIRED unless the body starts with "# Title"
slug: weekly-notes             # OPTIONAL, becomes the draft id
author: Ada Lovelace           # OPTIONAL, single contributor
contributors:                  # OPTIONAL, takes precedence over author
  - id: ada
    name: Ada Lovelace
---

Body text in standard Markdown.
` + "```" + `

## Media

- Attach files with the ` + "`" + `attach_media` + "`" + ` tool. It returns a ` + "`" + `markdownImage` + "`" + ` snippet ready to paste.
- Reference media from the body by bare file name: ` + "`" + `![cover](cover.png)` + "`" + `.
- Supported formats: png, jpg, jpeg, gif, webp, svg, pdf.
- ` + "`" + `post.json` + "`" + ` and ` + "`" + `post.md` + "`" + ` are reserved and cannot be used as media names.
- Uploading a file with an existing name replaces its content.

## Publishing

` + "`" + `publish_draft` + "`" + ` moves the draft with all its media into the published posts.
`
