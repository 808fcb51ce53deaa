// Package triage decides, per candidate message, whether it is worth
// forwarding. Operator-supplied exclusion rules suppress known-noise
// senders and keywords; force-include rules override exclusion so that a
// phrase the operator always wants reported can never be filtered away.
package triage

import (
	"fmt"
	"strings"
)

// Rules holds the operator-supplied pattern lists.
//
// Exclusion patterns are matched against the sender address (exact,
// substring, or @domain/.domain suffix) and as case-insensitive substrings
// of subject and body. Force-include patterns are matched against subject
// and body only, never the sender, so a keyword that happens to appear in
// the operator's own address cannot force a message through.
type Rules struct {
	Exclude      []string
	ForceInclude []string
}

// Message is the view of a candidate the filter evaluates.
type Message struct {
	Sender  string
	Subject string
	Body    string
}

// Empty reports whether no rules are configured, in which case body text
// need not be fetched at all.
func (r Rules) Empty() bool {
	return len(r.Exclude) == 0 && len(r.ForceInclude) == 0
}

// Validate rejects rule sets where any exclusion pattern and any
// force-include pattern are equal or one is a substring of the other. Such
// a pair makes the outcome order-dependent in the operator's head even
// though force-include always wins, so it is a fatal configuration error,
// checked once at load time.
func (r Rules) Validate() error {
	for _, ex := range r.Exclude {
		exNorm := strings.ToLower(strings.TrimSpace(ex))
		if exNorm == "" {
			return fmt.Errorf("empty exclusion pattern")
		}
		for _, inc := range r.ForceInclude {
			incNorm := strings.ToLower(strings.TrimSpace(inc))
			if incNorm == "" {
				return fmt.Errorf("empty force-include pattern")
			}
			if strings.Contains(exNorm, incNorm) || strings.Contains(incNorm, exNorm) {
				return fmt.Errorf("conflicting rules: exclusion %q overlaps force-include %q", ex, inc)
			}
		}
	}
	return nil
}

// Verdict is the outcome of evaluating one message.
type Verdict struct {
	Forward bool
	Reason  string
}

// Evaluate applies the rules to one message. Force-include is checked
// first and unconditionally overrides exclusion.
func (r Rules) Evaluate(m Message) Verdict {
	subject := strings.ToLower(m.Subject)
	body := strings.ToLower(m.Body)
	sender := strings.ToLower(strings.TrimSpace(m.Sender))

	for _, inc := range r.ForceInclude {
		pat := strings.ToLower(strings.TrimSpace(inc))
		if pat == "" {
			continue
		}
		if strings.Contains(subject, pat) || strings.Contains(body, pat) {
			return Verdict{Forward: true, Reason: fmt.Sprintf("force-include %q", inc)}
		}
	}

	for _, ex := range r.Exclude {
		pat := strings.ToLower(strings.TrimSpace(ex))
		if pat == "" {
			continue
		}
		if senderMatches(sender, pat) {
			return Verdict{Forward: false, Reason: fmt.Sprintf("sender matches exclusion %q", ex)}
		}
		if strings.Contains(subject, pat) || strings.Contains(body, pat) {
			return Verdict{Forward: false, Reason: fmt.Sprintf("content matches exclusion %q", ex)}
		}
	}

	return Verdict{Forward: true, Reason: "no rule matched"}
}

// senderMatches implements the sender pattern forms: exact address,
// literal substring, and @domain/.domain suffix match.
func senderMatches(sender, pat string) bool {
	if sender == "" {
		return false
	}
	switch {
	case strings.HasPrefix(pat, "@"):
		// "@example.com" matches the domain and its subdomains.
		return strings.HasSuffix(sender, pat) || strings.HasSuffix(sender, "."+pat[1:])
	case strings.HasPrefix(pat, "."):
		// ".example.com" matches any subdomain suffix.
		return strings.HasSuffix(sender, pat)
	default:
		return sender == pat || strings.Contains(sender, pat)
	}
}
