package cookie

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Cookie is a single cookie as read from a request or written to a response.
type Cookie struct {
	Name    string
	Value   string
	Path    string
	Domain  string
	Expires time.Time
	// MaxAge follows net/http: 0 means unset, negative means delete now.
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	Discard  bool
	SameSite http.SameSite
	Comment  string
	Version  int

	// Signed reports whether Value was recovered from a verified signature.
	Signed bool
}

// Validate checks that the cookie name is a non-empty token and the value
// carries no control characters.
func (c *Cookie) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrMalformed)
	}
	for i := 0; i < len(c.Name); i++ {
		if !isTokenByte(c.Name[i]) {
			return fmt.Errorf("%w: invalid byte %q in name %q", ErrMalformed, c.Name[i], c.Name)
		}
	}
	for i := 0; i < len(c.Value); i++ {
		if b := c.Value[i]; b < 0x20 || b == 0x7f {
			return fmt.Errorf("%w: control byte in value of %q", ErrInvalidValue, c.Name)
		}
	}
	return nil
}

// String serializes c in Set-Cookie form. Values that contain separators are
// quoted; flag attributes are written bare.
func (c *Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(quoteValue(c.Value))

	if c.Version > 0 {
		b.WriteString("; Version=")
		b.WriteString(strconv.Itoa(c.Version))
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(http.TimeFormat))
	}
	switch {
	case c.MaxAge > 0:
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	case c.MaxAge < 0:
		b.WriteString("; Max-Age=0")
	}
	if c.Comment != "" {
		b.WriteString("; Comment=")
		b.WriteString(quoteValue(c.Comment))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if c.Discard {
		b.WriteString("; Discard")
	}
	switch c.SameSite {
	case http.SameSiteLaxMode:
		b.WriteString("; SameSite=Lax")
	case http.SameSiteStrictMode:
		b.WriteString("; SameSite=Strict")
	case http.SameSiteNoneMode:
		b.WriteString("; SameSite=None")
	}
	return b.String()
}

// Expired returns a copy of c that instructs the client to drop it.
func (c *Cookie) Expired() *Cookie {
	out := *c
	out.Value = ""
	out.Signed = false
	out.MaxAge = -1
	out.Expires = time.Unix(0, 0)
	return &out
}

// setAttr applies a cookie attribute by its lower-case name. It reports
// whether the name was a known attribute.
func (c *Cookie) setAttr(name, value string) bool {
	switch name {
	case "path":
		c.Path = value
	case "domain":
		c.Domain = value
	case "comment":
		c.Comment = value
	case "version":
		c.Version, _ = strconv.Atoi(value)
	case "max-age":
		if n, err := strconv.Atoi(value); err == nil {
			c.MaxAge = n
			if n <= 0 {
				c.MaxAge = -1
			}
		}
	case "expires":
		if t, err := http.ParseTime(value); err == nil {
			c.Expires = t
		}
	case "secure":
		c.Secure = true
	case "httponly":
		c.HTTPOnly = true
	case "discard":
		c.Discard = true
	case "samesite":
		switch strings.ToLower(value) {
		case "lax":
			c.SameSite = http.SameSiteLaxMode
		case "strict":
			c.SameSite = http.SameSiteStrictMode
		case "none":
			c.SameSite = http.SameSiteNoneMode
		default:
			c.SameSite = http.SameSiteDefaultMode
		}
	default:
		return false
	}
	return true
}

func isTokenByte(b byte) bool {
	if b <= 0x20 || b >= 0x7f {
		return false
	}
	return !strings.ContainsRune(`()<>@,;:\"/[]?={}`, rune(b))
}

func needsQuoting(v string) bool {
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case ';', ',', ' ', '"', '\\', '\t':
			return true
		}
	}
	return false
}

func quoteValue(v string) string {
	if !needsQuoting(v) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		if v[i] == '"' || v[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte('"')
	return b.String()
}
