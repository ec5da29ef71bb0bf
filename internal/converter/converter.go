package converter

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

// IConverter turns a document on disk into normalized text.
type IConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}

type Router struct {
	byExt map[string]IConverter
}

func NewRouter() *Router {
	return &Router{byExt: make(map[string]IConverter)}
}

// NewDefault wires the pdf, markdown and plain text converters.
func NewDefault(pdfBinary string) *Router {
	r := NewRouter()
	r.Register(".pdf", NewPDFConverter(pdfBinary, nil))
	md := NewMarkdownConverter()
	r.Register(".md", md)
	r.Register(".markdown", md)
	r.Register(".txt", NewTextConverter())
	return r
}

func (r *Router) Register(ext string, c IConverter) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || c == nil {
		return
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r.byExt[ext] = c
}

func (r *Router) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (r *Router) Convert(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := r.byExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: unsupported document type %q", appErr.ErrConversion, ext)
	}
	start := time.Now()
	out, err := c.Convert(ctx, path)
	if err != nil {
		return "", err
	}
	out = Normalize(out)
	if out == "" {
		return "", fmt.Errorf("%w: no text extracted from %s", appErr.ErrConversion, filepath.Base(path))
	}
	logutil.GetLogger(ctx).Debug("document converted",
		zap.String("ext", ext),
		zap.Int("chars", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize unifies line endings, trims trailing blanks on every line and
// collapses runs of blank lines into a single paragraph break.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
