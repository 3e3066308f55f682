package cookie

import "strings"

// Parse reads a Cookie (or Set-Cookie style) header into cookies keyed by
// name. It never fails: fragments it cannot make sense of are skipped.
// When a name repeats, the first occurrence wins.
func Parse(header string) map[string]*Cookie {
	out := make(map[string]*Cookie)
	var last *Cookie

	for key, val := range pairs(header) {
		if key[0] == '$' {
			if last != nil {
				last.setAttr(strings.ToLower(key[1:]), val)
			}
			continue
		}
		if last != nil && isAttrName(strings.ToLower(key)) {
			last.setAttr(strings.ToLower(key), val)
			continue
		}
		if _, dup := out[key]; dup {
			last = nil
			continue
		}
		last = &Cookie{Name: key, Value: val}
		out[key] = last
	}
	return out
}

func isAttrName(name string) bool {
	switch name {
	case "path", "domain", "comment", "version", "max-age", "expires",
		"secure", "httponly", "discard", "samesite":
		return true
	}
	return false
}

// pairs yields key/value fragments of a header in order.
func pairs(s string) func(yield func(string, string) bool) {
	return func(yield func(string, string) bool) {
		i, n := 0, len(s)
		for i < n {
			for i < n && (s[i] == ' ' || s[i] == ';' || s[i] == '\t') {
				i++
			}
			start := i
			for i < n && s[i] != ';' && s[i] != ' ' && s[i] != '=' && s[i] != '\t' {
				i++
			}
			key := s[start:i]
			for i < n && (s[i] == ' ' || s[i] == '\t') {
				i++
			}
			if i < n && s[i] == '=' {
				i++
				for i < n && (s[i] == ' ' || s[i] == '\t') {
					i++
				}
			}

			var val string
			if i < n && s[i] == '"' {
				val, i = readQuoted(s, i)
			} else {
				start = i
				for i < n && s[i] != ';' {
					i++
				}
				val = strings.TrimRight(s[start:i], " \t")
			}
			for i < n && s[i] != ';' {
				i++
			}

			if key == "" {
				continue
			}
			if !yield(key, val) {
				return
			}
		}
	}
}

// readQuoted reads a double-quoted string starting at s[i] == '"' and returns
// the unescaped content and the index after the closing quote. An
// unterminated string runs to the end of s.
func readQuoted(s string, i int) (string, int) {
	var b strings.Builder
	i++
	for i < len(s) {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			i++
		case '"':
			return b.String(), i + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}
