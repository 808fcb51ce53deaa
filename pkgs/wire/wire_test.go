package wire

import (
	"testing"
	"time"
)

func TestFolderName(t *testing.T) {
	tests := []struct {
		name  string
		frag  Fragment
		want  string
		found bool
	}{
		{"gmail list line", Text(`(\HasNoChildren) "/" "INBOX"`), "INBOX", true},
		{"nested name", Text(`(\HasChildren \Noselect) "/" "[Gmail]"`), "[Gmail]", true},
		{"spam folder", Text(`(\HasNoChildren) "/" "[Gmail]/Spam"`), "[Gmail]/Spam", true},
		{"name with spaces", Text(`(\HasNoChildren) "/" "All Old Mail"`), "All Old Mail", true},
		{"unquoted", Text(`(\HasNoChildren) . Junk`), "Junk", true},
		{"attribute-glued name", Text(`\Spam\`), "Spam", true},
		{"tuple framing", Group(Text(`(\HasNoChildren) "/"`), Text(`"Junk"`)), "Junk", true},
		{"empty", Text(""), "", false},
		{"only delimiters", Text(`"/" NIL`), "", false},
	}
	for _, tt := range tests {
		got, ok := FolderName(tt.frag)
		if ok != tt.found || got != tt.want {
			t.Errorf("%s: FolderName = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.found)
		}
	}
}

func TestMessageCount(t *testing.T) {
	tests := []struct {
		frag  Fragment
		want  uint32
		found bool
	}{
		{Text(`"[Gmail]/Spam" (MESSAGES 123)`), 123, true},
		{Text(`(messages 7)`), 7, true},
		{Text(`* STATUS Junk (UIDNEXT 44)`), 44, true}, // falls back to first integer
		{Text("no numbers here"), 0, false},
		{Text(""), 0, false},
	}
	for _, tt := range tests {
		got, ok := MessageCount(tt.frag)
		if ok != tt.found || got != tt.want {
			t.Errorf("MessageCount(%q) = (%d, %v), want (%d, %v)", tt.frag.Text, got, ok, tt.want, tt.found)
		}
	}
}

func TestInternalDate(t *testing.T) {
	frag := Text(`INTERNALDATE "17-Jul-2024 02:44:25 -0700"`)
	got, ok := InternalDate(frag)
	if !ok {
		t.Fatal("InternalDate: not found")
	}
	want := time.Date(2024, time.July, 17, 2, 44, 25, 0, time.FixedZone("", -7*3600))
	if !got.Equal(want) {
		t.Errorf("InternalDate = %v, want %v", got, want)
	}

	// No zone: still parses.
	if _, ok := InternalDate(Text(`7-Jan-2023 10:00:00`)); !ok {
		t.Error("InternalDate without zone: not found")
	}

	// Garbage degrades to not-found, never panics.
	for _, s := range []string{"", "yesterday", "32-Foo-20 9:9:9"} {
		if _, ok := InternalDate(Text(s)); ok {
			t.Errorf("InternalDate(%q) unexpectedly found", s)
		}
	}
}

func TestMessageSize(t *testing.T) {
	if n, ok := MessageSize(Text(`12 (RFC822.SIZE 4599)`)); !ok || n != 4599 {
		t.Errorf("MessageSize = (%d, %v), want (4599, true)", n, ok)
	}
	// A bare integer is NOT a size; size requires the RFC822.SIZE token.
	if _, ok := MessageSize(Text("4599")); ok {
		t.Error("MessageSize matched a bare integer")
	}
	if _, ok := MessageSize(Text("")); ok {
		t.Error("MessageSize matched empty input")
	}
}

func TestRawMessage(t *testing.T) {
	raw := []byte("From: a@b\r\n\r\nbody")
	frag := Group(Text("12 (BODY[] {17}"), Data(raw), Text(")"))
	got, ok := RawMessage(frag)
	if !ok || string(got) != string(raw) {
		t.Errorf("RawMessage = (%q, %v)", got, ok)
	}

	if _, ok := RawMessage(Text("no payload")); ok {
		t.Error("RawMessage matched a text-only fragment")
	}

	// Depth-first: first payload wins.
	first := Group(Group(Data([]byte("one"))), Data([]byte("two")))
	if got, _ := RawMessage(first); string(got) != "one" {
		t.Errorf("RawMessage depth-first = %q, want %q", got, "one")
	}
}
