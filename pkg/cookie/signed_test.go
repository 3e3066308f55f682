package cookie_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/modserve/pkg/cookie"
)

const secret = "s3cr3t"

func TestSignUnsign(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		signed := cookie.Sign(secret, "pysid", "abc")
		assert.Len(t, signed, cookie.SignatureLength+3)
		assert.True(t, strings.HasSuffix(signed, "abc"))

		value, err := cookie.Unsign(secret, "pysid", signed)
		require.NoError(t, err)
		assert.Equal(t, "abc", value)
	})

	t.Run("name is part of the signature", func(t *testing.T) {
		signed := cookie.Sign(secret, "pysid", "abc")
		_, err := cookie.Unsign(secret, "other", signed)
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("tampered value", func(t *testing.T) {
		signed := cookie.Sign(secret, "pysid", "abc")
		_, err := cookie.Unsign(secret, "pysid", signed[:len(signed)-1]+"d")
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("wrong secret", func(t *testing.T) {
		signed := cookie.Sign(secret, "pysid", "abc")
		_, err := cookie.Unsign("another", "pysid", signed)
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := cookie.Unsign(secret, "pysid", "abc")
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("no secret", func(t *testing.T) {
		_, err := cookie.Unsign("", "pysid", cookie.Sign(secret, "pysid", "abc"))
		assert.ErrorIs(t, err, cookie.ErrNoSecret)
	})
}

func TestParseSigned(t *testing.T) {
	t.Parallel()

	header := "good=" + cookie.Sign(secret, "good", "v1") + "; bad=" + strings.Repeat("0", cookie.SignatureLength) + "v2"

	t.Run("downgrade keeps raw value unsigned", func(t *testing.T) {
		got, err := cookie.ParseSigned(header, secret, cookie.Downgrade)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "v1", got["good"].Value)
		assert.True(t, got["good"].Signed)
		assert.False(t, got["bad"].Signed)
		assert.True(t, strings.HasSuffix(got["bad"].Value, "v2"))
	})

	t.Run("ignore drops the cookie", func(t *testing.T) {
		got, err := cookie.ParseSigned(header, secret, cookie.Ignore)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Contains(t, got, "good")
	})

	t.Run("exception fails", func(t *testing.T) {
		_, err := cookie.ParseSigned(header, secret, cookie.Exception)
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("policy names", func(t *testing.T) {
		assert.Equal(t, cookie.Ignore, cookie.ParseMismatchPolicy("ignore"))
		assert.Equal(t, cookie.Exception, cookie.ParseMismatchPolicy("exception"))
		assert.Equal(t, cookie.Downgrade, cookie.ParseMismatchPolicy("whatever"))
		assert.Equal(t, "ignore", cookie.Ignore.String())
	})
}

func TestGetSigned(t *testing.T) {
	t.Parallel()

	get := func(header string, policy cookie.MismatchPolicy) (*cookie.Cookie, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cookie", header)
		return cookie.GetSigned(req, "pysid", secret, policy)
	}
	forged := strings.Repeat("0", cookie.SignatureLength) + "abc"

	t.Run("unrelated unsigned cookies are not verified", func(t *testing.T) {
		c, err := get("theme=dark; pysid="+cookie.Sign(secret, "pysid", "abc"), cookie.Exception)
		require.NoError(t, err)
		assert.Equal(t, "abc", c.Value)
		assert.True(t, c.Signed)
	})

	t.Run("exception on the named cookie", func(t *testing.T) {
		_, err := get("theme=dark; pysid="+forged, cookie.Exception)
		assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)
	})

	t.Run("ignore reports not found", func(t *testing.T) {
		_, err := get("pysid="+forged, cookie.Ignore)
		assert.ErrorIs(t, err, cookie.ErrCookieNotFound)
	})

	t.Run("downgrade keeps the raw value", func(t *testing.T) {
		c, err := get("pysid="+forged, cookie.Downgrade)
		require.NoError(t, err)
		assert.Equal(t, forged, c.Value)
		assert.False(t, c.Signed)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := get("theme=dark", cookie.Exception)
		assert.ErrorIs(t, err, cookie.ErrCookieNotFound)
	})
}

func TestMarshalValue(t *testing.T) {
	t.Parallel()

	type prefs struct {
		Theme string `json:"theme"`
		Size  int    `json:"size"`
	}

	value, err := cookie.MarshalValue(secret, "prefs", prefs{Theme: "dark", Size: 3})
	require.NoError(t, err)

	var got prefs
	require.NoError(t, cookie.UnmarshalValue(secret, "prefs", value, &got))
	assert.Equal(t, prefs{Theme: "dark", Size: 3}, got)

	err = cookie.UnmarshalValue(secret, "other", value, &got)
	assert.ErrorIs(t, err, cookie.ErrSignatureMismatch)

	_, err = cookie.MarshalValue("", "prefs", got)
	assert.ErrorIs(t, err, cookie.ErrNoSecret)
}

func TestManager(t *testing.T) {
	t.Parallel()

	m := cookie.New(secret, cookie.WithPath("/app"), cookie.WithSecure(true))

	t.Run("signed set and get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, m.SetSigned(rec, "token", "xyz"))

		header := rec.Header().Get("Set-Cookie")
		assert.Contains(t, header, "Path=/app")
		assert.Contains(t, header, "Secure")
		assert.Contains(t, header, "HttpOnly")

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cookie", strings.SplitN(header, ";", 2)[0])
		value, err := m.GetSigned(req, "token")
		require.NoError(t, err)
		assert.Equal(t, "xyz", value)
	})

	t.Run("json cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, m.SetJSON(rec, "cart", map[string]int{"apples": 2}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Cookie", strings.SplitN(rec.Header().Get("Set-Cookie"), ";", 2)[0])
		var cart map[string]int
		require.NoError(t, m.GetJSON(req, "cart", &cart))
		assert.Equal(t, 2, cart["apples"])
	})

	t.Run("expire", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, m.Expire(rec, "token"))
		header := rec.Header().Get("Set-Cookie")
		assert.Contains(t, header, "token=;")
		assert.Contains(t, header, "Expires=Thu, 01 Jan 1970 00:00:00 GMT")
		assert.Contains(t, header, "Max-Age=0")
	})

	t.Run("from config", func(t *testing.T) {
		cfg := cookie.DefaultConfig()
		cfg.Secret = secret
		cfg.Domain = "example.com"
		mgr := cookie.NewFromConfig(cfg)
		c := mgr.Cookie("a", "b")
		assert.Equal(t, "example.com", c.Domain)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HTTPOnly)
		assert.Equal(t, secret, mgr.Secret())
	})
}
