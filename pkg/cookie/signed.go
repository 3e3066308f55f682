package cookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureLength is the width of the hex signature prefix.
const SignatureLength = sha256.Size * 2

// MismatchPolicy decides what happens to a cookie whose signature does not
// verify.
type MismatchPolicy int

const (
	// Downgrade keeps the cookie as a plain, unsigned cookie with its raw value.
	Downgrade MismatchPolicy = iota
	// Ignore drops the cookie as if it was never sent.
	Ignore
	// Exception fails the whole parse with ErrSignatureMismatch.
	Exception
)

func (p MismatchPolicy) String() string {
	switch p {
	case Ignore:
		return "ignore"
	case Exception:
		return "exception"
	default:
		return "downgrade"
	}
}

// ParseMismatchPolicy maps "downgrade", "ignore" and "exception" to a policy.
// Anything else is Downgrade.
func ParseMismatchPolicy(s string) MismatchPolicy {
	switch s {
	case "ignore":
		return Ignore
	case "exception", "error":
		return Exception
	default:
		return Downgrade
	}
}

func signature(secret, name, value string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(name))
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// Sign returns value prefixed with the hex HMAC-SHA256 of name and value.
func Sign(secret, name, value string) string {
	return hex.EncodeToString(signature(secret, name, value)) + value
}

// Unsign verifies a value produced by Sign and returns the original value.
func Unsign(secret, name, signed string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if len(signed) < SignatureLength {
		return "", fmt.Errorf("%w: %s", ErrSignatureMismatch, name)
	}
	sig, value := signed[:SignatureLength], signed[SignatureLength:]
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, signature(secret, name, value)) {
		return "", fmt.Errorf("%w: %s", ErrSignatureMismatch, name)
	}
	return value, nil
}

// ParseSigned parses header and verifies every cookie against secret,
// applying policy to the ones that fail.
func ParseSigned(header, secret string, policy MismatchPolicy) (map[string]*Cookie, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	cookies := Parse(header)
	for name, c := range cookies {
		value, err := Unsign(secret, name, c.Value)
		if err == nil {
			c.Value = value
			c.Signed = true
			continue
		}
		switch policy {
		case Exception:
			return nil, err
		case Ignore:
			delete(cookies, name)
		}
	}
	return cookies, nil
}

// MarshalValue encodes v as JSON and signs it for use as the value of the
// cookie called name.
func MarshalValue(secret, name string, v any) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Join(ErrInvalidValue, err)
	}
	return Sign(secret, name, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// UnmarshalValue verifies a value produced by MarshalValue and decodes it into v.
func UnmarshalValue(secret, name, signed string, v any) error {
	payload, err := Unsign(secret, name, signed)
	if err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return errors.Join(ErrInvalidValue, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrInvalidValue, err)
	}
	return nil
}
