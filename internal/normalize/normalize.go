// Package normalize canonicalizes business names into cache keys.
package normalize

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyName is returned by Validate for empty or whitespace-only names.
var ErrEmptyName = eris.New("normalize: business name is empty")

// Name returns the cache key for a business name:
//  1. Unicode NFKC folding (full-width letters, ligatures, non-breaking spaces)
//  2. Trimming leading/trailing whitespace
//  3. Collapsing internal whitespace runs to a single space
//  4. Lower-casing
//
// Name is idempotent. Callers must reject blank input with Validate first.
func Name(name string) string {
	name = norm.NFKC.String(name)
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Validate rejects names that would normalize to the empty key.
func Validate(name string) error {
	if Name(name) == "" {
		return ErrEmptyName
	}
	return nil
}
