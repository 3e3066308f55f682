// Package cookie implements the cookie codec used by modserve: a permissive
// Cookie header parser, Set-Cookie serialization, and HMAC-signed values.
//
// Parsing follows what browsers and old user agents actually send rather than
// the strict RFC grammar. Values may be double quoted (and may then contain
// semicolons), `$Path`/`$Domain` style attributes are folded into the cookie
// that precedes them and never become data cookies, and malformed fragments
// are skipped instead of failing the whole header.
//
// Signed cookies carry a hex HMAC-SHA256 of name and value in front of the
// value:
//
//	v := cookie.Sign(secret, "pysid", id)       // "<64 hex chars><id>"
//	id, err := cookie.Unsign(secret, "pysid", v) // ErrSignatureMismatch on tamper
//
// [ParseSigned] applies a [MismatchPolicy] to every cookie in a header, and
// [Manager] bundles a secret with default attributes for handlers that set
// and read cookies through net/http.
package cookie
