package contact

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ID
		ok   bool
	}{
		{"tel:+33612345678", "+33612345678", true},
		{"<tel:+33612345678>", "+33612345678", true},
		{`"Alice" <sip:+33612345678@ims.example.org;user=phone>`, "+33612345678", true},
		{"sip:alice@example.org", "alice@example.org", true},
		{"+33 6 12 34 56 78", "+33612345678", true},
		{"sip:@example.org", "", false},
		{"hello", "", false},
		{"<sip:broken", "", false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Parse(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestURI(t *testing.T) {
	if got := ID("+33612345678").URI(); got != "tel:+33612345678" {
		t.Errorf("URI() = %q", got)
	}
	if got := ID("alice@example.org").URI(); got != "sip:alice@example.org" {
		t.Errorf("URI() = %q", got)
	}
}

func TestEqual(t *testing.T) {
	if !Equal("tel:+33612345678", "<sip:+33612345678@example.org>") {
		t.Error("expected same identity")
	}
	if Equal("tel:+33612345678", "tel:+33600000000") {
		t.Error("expected different identities")
	}
}
