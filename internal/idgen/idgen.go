// Package idgen generates short, URL-safe identifiers backed by nanoid.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// WorkbookPrefix is prepended to every workbook identifier.
const WorkbookPrefix = "wb-"

// Alphabet is the character set of the random part. It is lowercase only so
// identifiers survive case-insensitive storage such as S3 keys on some
// gateways.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// Workbook returns a new workbook identifier.
func Workbook() (string, error) {
	return Generate(WorkbookPrefix)
}

// Generate returns a new identifier with the given prefix.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// IsWorkbook reports whether s has the shape of a generated workbook id.
func IsWorkbook(s string) bool {
	rest, ok := strings.CutPrefix(s, WorkbookPrefix)
	if !ok || len(rest) != Length {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
