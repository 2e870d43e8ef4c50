package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes a namespace or tag before it is used as a
// lookup key. Keys arrive from clients on different platforms; NFC
// normalization keeps "café" typed on macOS and Linux pointing at the same
// session row.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
