package cookie

import (
	"net/http"
	"time"
)

// Manager writes and reads cookies with a shared secret and default attributes.
type Manager struct {
	secret   string
	defaults Options
}

// New creates a Manager. An empty secret is allowed; signed operations then
// return ErrNoSecret.
func New(secret string, opts ...Option) *Manager {
	defaults := Options{
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{
		secret:   secret,
		defaults: applyOptions(defaults, opts),
	}
}

// Secret returns the signing secret.
func (m *Manager) Secret() string { return m.secret }

// Cookie builds a cookie with the manager defaults and opts applied.
func (m *Manager) Cookie(name, value string, opts ...Option) *Cookie {
	return applyOptions(m.defaults, opts).cookie(name, value)
}

func (m *Manager) Set(w http.ResponseWriter, name, value string, opts ...Option) error {
	return Add(w, m.Cookie(name, value, opts...))
}

func (m *Manager) SetSigned(w http.ResponseWriter, name, value string, opts ...Option) error {
	return AddSigned(w, m.Cookie(name, value, opts...), m.secret)
}

func (m *Manager) Get(r *http.Request, name string) (string, error) {
	c, err := Get(r, name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSigned returns the verified value of the named cookie. Cookies with a
// bad signature are reported as ErrSignatureMismatch.
func (m *Manager) GetSigned(r *http.Request, name string) (string, error) {
	c, err := GetSigned(r, name, m.secret, Exception)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// Read returns the named cookie. With a secret, a verified cookie comes
// back with its signature stripped and any other cookie with its raw value.
func (m *Manager) Read(r *http.Request, name string) (*Cookie, error) {
	if m.secret == "" {
		return Get(r, name)
	}
	return GetSigned(r, name, m.secret, Downgrade)
}

// Write adds c to w as is, signing its value first when signed is true.
func (m *Manager) Write(w http.ResponseWriter, c *Cookie, signed bool) error {
	if signed {
		return AddSigned(w, c, m.secret)
	}
	return Add(w, c)
}

// SetJSON stores v as a signed JSON cookie.
func (m *Manager) SetJSON(w http.ResponseWriter, name string, v any, opts ...Option) error {
	value, err := MarshalValue(m.secret, name, v)
	if err != nil {
		return err
	}
	return Add(w, m.Cookie(name, value, opts...))
}

// GetJSON decodes a cookie written by SetJSON into v.
func (m *Manager) GetJSON(r *http.Request, name string, v any) error {
	c, err := Get(r, name)
	if err != nil {
		return err
	}
	return UnmarshalValue(m.secret, name, c.Value, v)
}

// Expire tells the client to drop the named cookie.
func (m *Manager) Expire(w http.ResponseWriter, name string, opts ...Option) error {
	c := m.Cookie(name, "", opts...)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return Add(w, c)
}
