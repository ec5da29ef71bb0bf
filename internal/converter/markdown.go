package converter

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

// MarkdownConverter drops markdown syntax and keeps one paragraph per block.
type MarkdownConverter struct {
	md goldmark.Markdown
}

func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{md: goldmark.New()}
}

func (m *MarkdownConverter) Convert(ctx context.Context, path string) (string, error) {
	_ = ctx
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", appErr.ErrIO, path, err)
	}
	return m.Render(data), nil
}

func (m *MarkdownConverter) Render(source []byte) string {
	reader := text.NewReader(source)
	doc := m.md.Parser().Parse(reader)

	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var txt string
		switch n := node.(type) {
		case *ast.FencedCodeBlock:
			txt = blockLines(n, source)
		case *ast.CodeBlock:
			txt = blockLines(n, source)
		case *ast.List:
			var items []string
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				if s := extractText(item, source); s != "" {
					items = append(items, s)
				}
			}
			txt = strings.Join(items, "\n")
		case *ast.ThematicBreak, *ast.HTMLBlock:
			continue
		default:
			txt = extractText(n, source)
		}
		txt = strings.TrimSpace(txt)
		if txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func blockLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return sb.String()
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Kind() == ast.KindParagraph && node.NextSibling() != nil {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
