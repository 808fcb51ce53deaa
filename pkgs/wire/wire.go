// Package wire extracts typed values from loosely-framed mail-protocol
// responses. Servers disagree on quoting, attribute placement and framing,
// so every extractor here is an ordered chain of fallible patterns: the
// first one that matches wins, and a miss degrades to "not found" instead
// of an error. Downstream code treats "not found" conservatively.
package wire

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fragment is one response fragment: plain text, a byte payload, or a
// nested group of fragments, mirroring the union shapes a transport can
// hand back.
type Fragment struct {
	Text  string
	Bytes []byte
	Parts []Fragment
}

// Text wraps a string into a fragment.
func Text(s string) Fragment { return Fragment{Text: s} }

// Data wraps a byte payload into a fragment.
func Data(b []byte) Fragment { return Fragment{Bytes: b} }

// Group nests fragments.
func Group(parts ...Fragment) Fragment { return Fragment{Parts: parts} }

// flatten renders a fragment tree into one text line for pattern matching.
// Byte payloads are not rendered; they are reachable via RawMessage only.
func (f Fragment) flatten() string {
	if len(f.Parts) == 0 {
		return f.Text
	}
	parts := make([]string, 0, len(f.Parts)+1)
	if f.Text != "" {
		parts = append(parts, f.Text)
	}
	for _, p := range f.Parts {
		if s := p.flatten(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

var (
	quotedRe       = regexp.MustCompile(`"([^"]*)"`)
	intRe          = regexp.MustCompile(`\d+`)
	messagesRe     = regexp.MustCompile(`(?i)MESSAGES\s+(\d+)`)
	sizeRe         = regexp.MustCompile(`(?i)RFC822\.SIZE\s+(\d+)`)
	nameRunRe      = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9\[\]/._&+-]*`)
	internalDateRe = regexp.MustCompile(`\d{1,2}-[A-Za-z]{3}-\d{4} \d{2}:\d{2}:\d{2}(?: ?[+-]\d{4})?`)
)

// InternalDateLayout is the protocol's date-time grammar with a zone.
const InternalDateLayout = "2-Jan-2006 15:04:05 -0700"

// internalDateLayouts are tried in order when parsing a matched date-time.
var internalDateLayouts = []string{
	InternalDateLayout,
	"2-Jan-2006 15:04:05-0700",
	"2-Jan-2006 15:04:05",
}

// FolderName extracts a best-effort folder name from a folder-list entry.
// Chain: last quoted substring, else last whitespace token that is not a
// delimiter or attribute marker, else first contiguous run of name-like
// characters.
func FolderName(f Fragment) (string, bool) {
	s := f.flatten()

	if ms := quotedRe.FindAllStringSubmatch(s, -1); len(ms) > 0 {
		for i := len(ms) - 1; i >= 0; i-- {
			if name := ms[i][1]; name != "" && !isDelimiterToken(name) {
				return name, true
			}
		}
	}

	tokens := strings.Fields(s)
	for i := len(tokens) - 1; i >= 0; i-- {
		if tok := tokens[i]; !isAttributeToken(tok) && !isDelimiterToken(tok) {
			return tok, true
		}
	}

	for _, run := range nameRunRe.FindAllString(s, -1) {
		if !isDelimiterToken(run) {
			return run, true
		}
	}
	return "", false
}

// MessageCount extracts a message count: the first integer following the
// MESSAGES token, else the first integer anywhere in the fragment.
func MessageCount(f Fragment) (uint32, bool) {
	s := f.flatten()
	if m := messagesRe.FindStringSubmatch(s); m != nil {
		return parseUint32(m[1])
	}
	if m := intRe.FindString(s); m != "" {
		return parseUint32(m)
	}
	return 0, false
}

// InternalDate extracts the first match of the protocol's date-time grammar
// (DD-Mon-YYYY HH:MM:SS ±HHMM, quoting and zone optional).
func InternalDate(f Fragment) (time.Time, bool) {
	s := f.flatten()
	m := internalDateRe.FindString(s)
	if m == "" {
		return time.Time{}, false
	}
	for _, layout := range internalDateLayouts {
		if t, err := time.Parse(layout, m); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MessageSize extracts the first integer following RFC822.SIZE, else none.
func MessageSize(f Fragment) (int64, bool) {
	if m := sizeRe.FindStringSubmatch(f.flatten()); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// RawMessage returns the byte payload of the first fragment that carries
// one, walking nested groups depth-first.
func RawMessage(f Fragment) ([]byte, bool) {
	if len(f.Bytes) > 0 {
		return f.Bytes, true
	}
	for _, p := range f.Parts {
		if b, ok := RawMessage(p); ok {
			return b, true
		}
	}
	return nil, false
}

// isAttributeToken reports whether a token is a list attribute marker such
// as (\HasNoChildren) or \Noselect.
func isAttributeToken(tok string) bool {
	return strings.HasPrefix(tok, "(") || strings.HasSuffix(tok, ")") || strings.HasPrefix(tok, "\\")
}

// isDelimiterToken reports whether a token is a bare hierarchy delimiter or
// a NIL placeholder rather than a name.
func isDelimiterToken(tok string) bool {
	switch tok {
	case "/", ".", `"/"`, `"."`, "NIL", "nil":
		return true
	}
	return false
}

func parseUint32(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
