package converter

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "crlf", in: "a\r\nb", want: "a\nb"},
		{name: "trailing blanks", in: "a  \t\nb ", want: "a\nb"},
		{name: "blank runs", in: "a\n\n\n\n\nb", want: "a\n\nb"},
		{name: "form feed", in: "page one\fpage two", want: "page one\n\npage two"},
		{name: "only whitespace", in: " \n\n \n", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestPDFConverter(t *testing.T) {
	path := writeFile(t, "chess.pdf", "%PDF-1.4")

	t.Run("success", func(t *testing.T) {
		runner := &mockRunner{output: []byte("The rook moves horizontally or vertically any number of squares.\n")}
		out, err := NewPDFConverter("", runner).Convert(context.Background(), path)
		require.NoError(t, err)
		require.Contains(t, out, "rook")
		require.Equal(t, "pdftotext", runner.name)
		require.Equal(t, []string{"-layout", "-enc", "UTF-8", path, "-"}, runner.args)
	})

	t.Run("tool missing", func(t *testing.T) {
		runner := &mockRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}
		_, err := NewPDFConverter("", runner).Convert(context.Background(), path)
		require.ErrorIs(t, err, appErr.ErrConversion)
		require.ErrorIs(t, err, ErrToolNotFound)
	})

	t.Run("tool failure", func(t *testing.T) {
		runner := &mockRunner{err: errors.New("exit status 1")}
		_, err := NewPDFConverter("", runner).Convert(context.Background(), path)
		require.ErrorIs(t, err, appErr.ErrConversion)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewPDFConverter("", &mockRunner{}).Convert(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
		require.ErrorIs(t, err, appErr.ErrIO)
	})
}

func TestMarkdownConverter_Render(t *testing.T) {
	src := "# Pieces\n\nThe **rook** moves\nin straight lines.\n\n- king\n- queen\n\n```\nboard := 8\n```\n"
	out := NewMarkdownConverter().Render([]byte(src))
	require.Equal(t, "Pieces\n\nThe rook moves\nin straight lines.\n\nking\nqueen\n\nboard := 8", out)
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.Register("pdf", NewPDFConverter("", &mockRunner{output: []byte("  \n\n")}))
	r.Register(".txt", NewTextConverter())

	require.True(t, r.Supports("/tmp/A.PDF"))
	require.False(t, r.Supports("/tmp/a.docx"))

	_, err := r.Convert(context.Background(), "/tmp/a.docx")
	require.ErrorIs(t, err, appErr.ErrConversion)

	_, err = r.Convert(context.Background(), writeFile(t, "blank.pdf", "%PDF"))
	require.ErrorIs(t, err, appErr.ErrConversion)

	out, err := r.Convert(context.Background(), writeFile(t, "notes.txt", "line one\r\n\r\n\r\n\r\nline two  "))
	require.NoError(t, err)
	require.Equal(t, "line one\n\nline two", out)
}

func TestTextConverter_InvalidUTF8(t *testing.T) {
	path := writeFile(t, "bin.txt", string([]byte{0xff, 0xfe, 0xfd}))
	_, err := NewTextConverter().Convert(context.Background(), path)
	require.ErrorIs(t, err, appErr.ErrConversion)
}
