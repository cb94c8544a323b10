// Package ids generates the identifiers used as primary and foreign
// keys inside an installer database.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// NewGUID returns a random GUID in canonical, upper case form.
func NewGUID() string {
	return strings.ToUpper(uuid.New().String())
}

// NewID returns prefix followed by 32 upper case hex digits. The
// result is a valid MSI identifier as long as prefix is one.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(NewGUID(), "-", "")
}

// illegal in short (8.3) file names
const shortIllegal = `\/:*?"<>|+,;=[] `

// LegacyName returns the MSI FileName / DefaultDir form of name. Names
// that are already valid 8.3 names are returned as is, anything else
// becomes `SHORT|long`.
func LegacyName(name string) string {
	if name == "" || fitsShort(name) {
		return name
	}

	long := strings.ReplaceAll(name, " ", "_")

	base, ext := long, ""
	if i := strings.LastIndex(long, "."); i >= 0 {
		base, ext = long[:i], long[i+1:]
	}
	base = strings.ReplaceAll(base, ".", "")

	short := truncate(sanitize(base), 8)
	if ext != "" {
		short += "." + truncate(sanitize(ext), 3)
	}

	return strings.ToUpper(short) + "|" + long
}

func fitsShort(name string) bool {
	if strings.ContainsAny(name, shortIllegal) {
		return false
	}
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return len(parts[0]) > 0 && len(parts[0]) <= 8
	case 2:
		return len(parts[0]) > 0 && len(parts[0]) <= 8 && len(parts[1]) <= 3
	}
	return false
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(shortIllegal, r) || r > 0x7e {
			return '_'
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
