package cookie

import (
	"net/http"
	"strings"
)

// FromRequest parses every Cookie header of r.
func FromRequest(r *http.Request) map[string]*Cookie {
	return Parse(requestHeader(r))
}

// Get returns the named cookie from r.
func Get(r *http.Request, name string) (*Cookie, error) {
	if c, ok := FromRequest(r)[name]; ok {
		return c, nil
	}
	return nil, ErrCookieNotFound
}

// GetSigned returns the named cookie from r after verifying its signature.
// Only that cookie is verified; a failure is handled according to policy.
func GetSigned(r *http.Request, name, secret string, policy MismatchPolicy) (*Cookie, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	c, ok := FromRequest(r)[name]
	if !ok {
		return nil, ErrCookieNotFound
	}
	value, err := Unsign(secret, name, c.Value)
	if err == nil {
		c.Value = value
		c.Signed = true
		return c, nil
	}
	switch policy {
	case Exception:
		return nil, err
	case Ignore:
		return nil, ErrCookieNotFound
	}
	return c, nil
}

// Add appends c as a Set-Cookie header and tells caches not to store it.
func Add(w http.ResponseWriter, c *Cookie) error {
	if err := c.Validate(); err != nil {
		return err
	}
	h := w.Header()
	h.Add("Set-Cookie", c.String())
	h.Set("Cache-Control", `no-cache="set-cookie"`)
	return nil
}

// AddSigned signs c.Value with secret and adds the cookie to w.
func AddSigned(w http.ResponseWriter, c *Cookie, secret string) error {
	if secret == "" {
		return ErrNoSecret
	}
	signed := *c
	signed.Value = Sign(secret, c.Name, c.Value)
	return Add(w, &signed)
}

func requestHeader(r *http.Request) string {
	return strings.Join(r.Header.Values("Cookie"), "; ")
}
