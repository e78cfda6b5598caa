// Package horosafe provides the security primitives used at the service
// edge: URL policy checks (SSRF prevention), an HTTP client that refuses
// to dial private addresses, path traversal guards, filename sanitisation
// and bounded reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// DefaultFilename replaces a filename that sanitises to nothing.
const DefaultFilename = "document"

var (
	// ErrPathTraversal is returned when a user-supplied path escapes its base.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrTooLarge is returned when input exceeds its size limit.
	ErrTooLarge = errors.New("horosafe: input exceeds size limit")
)

// SafePath joins userInput under base. Inputs containing ".." are refused
// outright; absolute inputs are rebased under base.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	joined := filepath.Join(root, filepath.Clean("/"+userInput))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// LimitedReadAll reads r to the end, failing with ErrTooLarge once more
// than maxBytes have been seen.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// SanitizeFilename returns the stem of name (directory and extension
// removed) keeping only letters, digits, spaces, '-' and '_'. Surrounding
// spaces are trimmed and an empty result becomes DefaultFilename.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	out := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return -1
	}, name))
	if out == "" {
		return DefaultFilename
	}
	return out
}
