package converter

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

type TextConverter struct{}

func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

func (TextConverter) Convert(ctx context.Context, path string) (string, error) {
	_ = ctx
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", appErr.ErrIO, path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not utf-8 text", appErr.ErrConversion, path)
	}
	return string(data), nil
}
