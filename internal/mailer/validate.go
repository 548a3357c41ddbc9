package mailer

import "strings"

// ValidEmail reports whether s is an acceptable recipient address.
//
// Rules: a single '@', a local part of 1..64 bytes with no
// leading, trailing or doubled dots, and a dotted domain of at most 253 bytes
// whose labels are 1..63 bytes and do not start or end with '-'.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return false
	}
	local, domain := s[:at], s[at+1:]
	if local == "" || domain == "" || strings.ContainsRune(local, '@') {
		return false
	}
	if len(local) > 64 || !dotted(local) {
		return false
	}
	if len(domain) > 253 || !dotted(domain) || !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
	}
	return !strings.ContainsAny(s, " \t\r\n")
}

func dotted(s string) bool {
	return !strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".") && !strings.Contains(s, "..")
}

// Recipients filters raw addresses through ValidEmail and drops
// case-insensitive duplicates, keeping first-seen order. Rejected inputs are
// returned separately so callers can log them.
func Recipients(raw ...string) (valid, rejected []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !ValidEmail(r) {
			rejected = append(rejected, r)
			continue
		}
		k := strings.ToLower(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		valid = append(valid, r)
	}
	return valid, rejected
}
