// Package signer is a reference implementation of the signing endpoint:
// it answers all three request shapes with signed upload URLs produced by
// an S3 or a local presigner.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidFilename is returned for names that cannot be used as object keys.
var ErrInvalidFilename = errors.New("invalid filename")

// Presigner issues a URL that accepts HEAD and PUT for one object key.
type Presigner interface {
	PresignPut(ctx context.Context, filename string) (string, error)
}

// ValidateFilename returns the trimmed filename, or an error when it is
// empty, a path, or contains control characters.
func ValidateFilename(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q is a path", ErrInvalidFilename, filename)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidFilename, filename)
		}
	}
	return name, nil
}
