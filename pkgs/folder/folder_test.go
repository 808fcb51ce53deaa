package folder

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"INBOX", "INBOX"},
		{`"INBOX"`, "INBOX"},
		{"[Gmail]/Spam", "GMAIL/SPAM"},
		{`'inbox'`, "INBOX"},
		{`Work\Junk`, "WORK/JUNK"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIsForbidden(t *testing.T) {
	forbidden := []string{
		"INBOX",
		"inbox",
		"Inbox",
		`"INBOX"`,
		`'INBOX'`,
		"[Gmail]/All Mail",
		"[Google Mail]/All Mail",
		"[Gmail]/Important",
		"[Gmail]/Sent Mail",
		"[Gmail]/Starred",
		"[Gmail]/Drafts",
		"Drafts",
		"INBOX/Sub",
		"Work/INBOX",
		`Work\INBOX`, // backslash stripped, still matches the INBOX form
	}
	for _, name := range forbidden {
		if !IsForbidden(name) {
			t.Errorf("IsForbidden(%q) = false, want true", name)
		}
	}

	allowed := []string{
		"[Gmail]/Spam",
		"Junk",
		"Spam",
		"Archive",
		"Inbox Zero Tips", // contains INBOX as substring but not as a path element
		"",
	}
	for _, name := range allowed {
		if IsForbidden(name) {
			t.Errorf("IsForbidden(%q) = true, want false", name)
		}
	}
}

func TestIsSpamCandidate(t *testing.T) {
	candidates := []string{
		"[Gmail]/Spam",
		`"[Gmail]/Spam"`,
		"Junk",
		"junk",
		"Spam",
		"INBOX.Junk", // dotted hierarchy, not an INBOX path element
	}
	for _, name := range candidates {
		if !IsSpamCandidate(name) {
			t.Errorf("IsSpamCandidate(%q) = false, want true", name)
		}
	}

	notCandidates := []string{
		"INBOX",
		"Archive",
		"Spam/INBOX", // forbidden wins over the SPAM substring
		"",
	}
	for _, name := range notCandidates {
		if IsSpamCandidate(name) {
			t.Errorf("IsSpamCandidate(%q) = true, want false", name)
		}
	}
}

// Forbidden classification always wins: no input may be both forbidden and a
// spam candidate.
func TestForbiddenExcludesCandidate(t *testing.T) {
	names := []string{
		"INBOX", "Spam/INBOX", "[Gmail]/Spam", "Junk", "[Gmail]/All Mail",
		"", `"`, "\\", "[[]]", "INBOX/Junk",
	}
	for _, name := range names {
		c := Classify(name)
		if c.Forbidden && c.SpamCandidate {
			t.Errorf("Classify(%q) is both forbidden and spam candidate", name)
		}
		if c.Forbidden != IsForbidden(name) || c.SpamCandidate != IsSpamCandidate(name) {
			t.Errorf("Classify(%q) disagrees with predicate functions", name)
		}
	}
}
