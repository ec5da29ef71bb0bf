package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

const blockSize = 64 * 1024

// HashFile returns the hex sha256 digest of the file content. The name and
// location of the file do not take part in the digest.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", appErr.ErrIO, path, err)
	}
	defer file.Close()
	return HashReader(file)
}

func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("%w: read content: %w", appErr.ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
