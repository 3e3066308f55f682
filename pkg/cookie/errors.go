package cookie

import "errors"

var (
	ErrNoSecret          = errors.New("cookie.no_secret")
	ErrSignatureMismatch = errors.New("cookie.signature_mismatch")
	ErrCookieNotFound    = errors.New("cookie.not_found")
	ErrMalformed         = errors.New("cookie.malformed")
	ErrInvalidValue      = errors.New("cookie.invalid_value")
)
