package inspect

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize puts panel text in NFC form, unifies line endings and trims
// surrounding whitespace so that "España" typed or decomposed compares equal.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(norm.NFC.String(s))
}

// Contains is a plain substring test on normalised text. Expected values such
// as fill colours and legend labels are case-sensitive.
func Contains(s, sub string) bool {
	return strings.Contains(Normalize(s), Normalize(sub))
}

// ContainsFold reports whether sub occurs in s under Unicode case folding.
func ContainsFold(s, sub string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(Normalize(s)), fold.String(Normalize(sub)))
}

// ContainsAnyFold reports whether any of subs occurs in s under case folding.
func ContainsAnyFold(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && ContainsFold(s, sub) {
			return true
		}
	}
	return false
}

// Lines splits panel text into its non-blank lines.
func Lines(s string) []string {
	var out []string
	for _, l := range strings.Split(Normalize(s), "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
