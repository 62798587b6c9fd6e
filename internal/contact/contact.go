// Package contact turns SIP/tel URIs into contact identities and back.
package contact

import (
	"regexp"
	"strings"
)

// ID is a normalized contact identity: an international number with its
// leading "+" or, for non-numeric users, the bare sip user@host.
type ID string

var numberRe = regexp.MustCompile(`^\+?[0-9]{3,15}$`)

// IsNumber reports whether s is a dialable number once separators are removed.
func IsNumber(s string) bool {
	return numberRe.MatchString(stripSeparators(s))
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// Parse extracts the contact identity from a URI, a bracketed URI, a URI
// carrying a display name, or a bare number. It returns false when nothing
// usable is found.
func Parse(uri string) (ID, bool) {
	s := strings.TrimSpace(uri)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			return "", false
		}
		s = s[i+1 : i+j]
	}
	if i := strings.IndexAny(s, ";?"); i >= 0 {
		s = s[:i]
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "tel:"):
		n := stripSeparators(s[4:])
		if !numberRe.MatchString(n) {
			return "", false
		}
		return ID(n), true
	case strings.HasPrefix(lower, "sip:"), strings.HasPrefix(lower, "sips:"):
		s = s[strings.IndexByte(s, ':')+1:]
		user, host, hasHost := strings.Cut(s, "@")
		if n := stripSeparators(user); numberRe.MatchString(n) {
			return ID(n), true
		}
		if !hasHost || user == "" || host == "" {
			return "", false
		}
		return ID(user + "@" + host), true
	}
	if n := stripSeparators(s); numberRe.MatchString(n) {
		return ID(n), true
	}
	return "", false
}

// URI renders the identity as a tel URI for numbers, a sip URI otherwise.
func (id ID) URI() string {
	if numberRe.MatchString(string(id)) {
		return "tel:" + string(id)
	}
	return "sip:" + string(id)
}

func (id ID) String() string { return string(id) }

// Equal compares two URIs by the identity they carry.
func Equal(a, b string) bool {
	ia, ok := Parse(a)
	if !ok {
		return false
	}
	ib, ok := Parse(b)
	return ok && ia == ib
}
