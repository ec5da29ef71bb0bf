package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

const defaultPDFBinary = "pdftotext"

var ErrToolNotFound = errors.New("pdftotext not found, install poppler-utils")

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type PDFConverter struct {
	binary string
	runner CommandRunner
}

func NewPDFConverter(binary string, runner CommandRunner) *PDFConverter {
	if binary == "" {
		binary = defaultPDFBinary
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &PDFConverter{binary: binary, runner: runner}
}

func (p *PDFConverter) Convert(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", appErr.ErrIO, path, err)
	}
	out, err := p.runner.Run(ctx, p.binary, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %w", appErr.ErrConversion, ErrToolNotFound)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: pdftotext: %s", appErr.ErrConversion, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("%w: pdftotext: %w", appErr.ErrConversion, err)
	}
	return string(out), nil
}
