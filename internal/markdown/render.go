// Package markdown renders struct information as Markdown and HTML.
package markdown

import (
	"fmt"
	"strconv"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"

	"github.com/jcdickinson/quarry/internal/rustdoc"
)

// Struct renders info as a Markdown document: YAML front matter, a Rust
// declaration and a field table.
func Struct(info *rustdoc.StructInfo) string {
	var b strings.Builder
	b.WriteString(frontMatter(info))

	fmt.Fprintf(&b, "# %s\n\n", title(info))
	if info.ModulePath != "" {
		fmt.Fprintf(&b, "Module: `%s`\n\n", info.ModulePath)
	}

	b.WriteString("```rust\n")
	b.WriteString(Declaration(info))
	b.WriteString("\n```\n")

	if len(info.Fields) == 0 {
		b.WriteString("\nThis struct has no fields.\n")
		return b.String()
	}

	b.WriteString("\n## Fields\n\n")
	b.WriteString("| Name | Type | Visibility |\n")
	b.WriteString("|------|------|------------|\n")
	for _, f := range info.Fields {
		fmt.Fprintf(&b, "| `%s` | `%s` | %s |\n", cell(f.Name), cell(f.Type), cell(f.Visibility))
	}
	return b.String()
}

func title(info *rustdoc.StructInfo) string {
	name := info.SimpleName
	if len(info.Generics) > 0 {
		name += "<" + strings.Join(info.Generics, ", ") + ">"
	}
	return "struct `" + name + "`"
}

// frontMatter is a YAML block with the identifying keys.
func frontMatter(info *rustdoc.StructInfo) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", info.Name)
	fmt.Fprintf(&b, "kind: %s\n", info.Kind)
	fmt.Fprintf(&b, "fields: %d\n", len(info.Fields))
	b.WriteString("---\n\n")
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Declaration renders info as Rust source.
func Declaration(info *rustdoc.StructInfo) string {
	head := "struct " + info.SimpleName
	if len(info.Generics) > 0 {
		head += "<" + strings.Join(info.Generics, ", ") + ">"
	}

	switch info.Kind {
	case rustdoc.KindUnit:
		return head + ";"
	case rustdoc.KindTuple:
		return head + "(" + strings.Join(tupleFields(info.Fields), ", ") + ");"
	}

	if len(info.Fields) == 0 {
		return head + " {}"
	}
	var b strings.Builder
	b.WriteString(head)
	b.WriteString(" {\n")
	for _, f := range info.Fields {
		fmt.Fprintf(&b, "    %s%s: %s,\n", visibilityPrefix(f.Visibility), f.Name, f.Type)
	}
	b.WriteString("}")
	return b.String()
}

// tupleFields lays fields out by position; positions without a field were
// stripped from the documentation and render as "_".
func tupleFields(fields []rustdoc.FieldInfo) []string {
	var out []string
	for _, f := range fields {
		pos, err := strconv.Atoi(f.Name)
		if err != nil {
			out = append(out, visibilityPrefix(f.Visibility)+f.Type)
			continue
		}
		for len(out) < pos {
			out = append(out, "_")
		}
		out = append(out, visibilityPrefix(f.Visibility)+f.Type)
	}
	return out
}

func visibilityPrefix(v string) string {
	switch {
	case v == "public":
		return "pub "
	case v == "crate":
		return "pub(crate) "
	case strings.HasPrefix(v, "restricted(") && strings.HasSuffix(v, ")"):
		return "pub(in " + strings.TrimSuffix(strings.TrimPrefix(v, "restricted("), ")") + ") "
	default:
		return ""
	}
}

// List renders paths as a bullet list.
func List(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "- `%s`\n", p)
	}
	return b.String()
}

func newParser() *gmparser.Parser {
	return gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.FencedCode | gmparser.Tables)
}

// HTML converts Markdown produced by this package into a standalone HTML
// fragment. Front matter is dropped.
func HTML(src string) string {
	doc := gm.Parse([]byte(stripFrontMatter(src)), newParser())
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(gm.Render(doc, renderer))
}

func stripFrontMatter(src string) string {
	if !strings.HasPrefix(src, "---\n") {
		return src
	}
	end := strings.Index(src[4:], "\n---\n")
	if end < 0 {
		return src
	}
	return strings.TrimLeft(src[4+end+5:], "\n")
}
