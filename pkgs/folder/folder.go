// Package folder classifies remote folder names so that the agent can never
// open anything but a spam/junk folder, regardless of how the server spells
// or decorates the name.
package folder

import "strings"

// Classification is the derived verdict for a folder name. A folder is
// either forbidden or a legal target, never both; SpamCandidate implies
// !Forbidden.
type Classification struct {
	Forbidden     bool
	SpamCandidate bool
}

// forbiddenMarkers are special-purpose folders that must never be opened.
// This list is a hard constant on purpose: the safety property of the whole
// agent must not be weakened by configuration.
var forbiddenMarkers = []string{
	"ALL MAIL",
	"IMPORTANT",
	"SENT MAIL",
	"STARRED",
	"DRAFTS",
}

// Backslash becomes "/" rather than disappearing so that backslash-delimited
// hierarchies still hit the INBOX path checks below.
var stripper = strings.NewReplacer(`"`, "", `'`, "", `\`, "/", `[`, "", `]`, "")

// Normalize returns the form of a folder name used for all safety
// comparisons: uppercased, with quoting and brackets stripped and hierarchy
// delimiters unified.
func Normalize(name string) string {
	return stripper.Replace(strings.ToUpper(name))
}

// IsForbidden reports whether a folder must never be selected. It is total:
// any input string, including empty or malformed names, yields a verdict.
func IsForbidden(name string) bool {
	n := Normalize(name)
	if n == "INBOX" || strings.HasSuffix(n, "/INBOX") || strings.HasPrefix(n, "INBOX/") {
		return true
	}
	for _, marker := range forbiddenMarkers {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

// IsSpamCandidate reports whether a folder name looks like a spam or junk
// folder. A forbidden folder is never a candidate, even if its name happens
// to contain SPAM or JUNK.
func IsSpamCandidate(name string) bool {
	if IsForbidden(name) {
		return false
	}
	n := Normalize(name)
	return strings.Contains(n, "SPAM") || strings.Contains(n, "JUNK")
}

// Classify returns the full classification for a folder name.
func Classify(name string) Classification {
	forbidden := IsForbidden(name)
	return Classification{
		Forbidden:     forbidden,
		SpamCandidate: !forbidden && IsSpamCandidate(name),
	}
}
