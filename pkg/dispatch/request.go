package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/session"
)

// Request is the per-request object handed to every handler of a chain.
// It implements session.RequestContext.
type Request struct {
	d   *Dispatcher
	loc *Location
	w   *responseWriter
	r   *http.Request

	id       string
	remoteIP string

	mu       sync.Mutex
	cleanups []func()
	options  map[string]optionValue

	sessMu   sync.Mutex
	sess     *session.Session
	sessErr  error
	sessDone bool
}

var _ session.RequestContext = (*Request)(nil)

type optionValue struct {
	value string
	ok    bool
}

func (d *Dispatcher) newRequest(w http.ResponseWriter, r *http.Request, loc *Location) *Request {
	id := RequestIDFromContext(r.Context())
	if id == "" {
		id = requestIDOf(r)
		r = r.WithContext(withRequestID(r.Context(), id))
	}
	return &Request{
		d:        d,
		loc:      loc,
		w:        &responseWriter{ResponseWriter: w},
		r:        r,
		id:       id,
		remoteIP: clientIP(r, d.trustedHeaders),
		options:  make(map[string]optionValue),
	}
}

func (r *Request) Request() *http.Request              { return r.r }
func (r *Request) ResponseWriter() http.ResponseWriter { return r.w }
func (r *Request) Context() context.Context            { return r.r.Context() }

// ID returns the request id echoed in X-Request-ID.
func (r *Request) ID() string { return r.id }

// RemoteIP returns the client address, honouring the dispatcher's trusted
// proxy headers.
func (r *Request) RemoteIP() string { return r.remoteIP }

func (r *Request) Location() Location { return *r.loc }

// RegisterCleanup schedules fn to run after the handler chain has finished
// and the response has been written.
func (r *Request) RegisterCleanup(fn func()) {
	r.mu.Lock()
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

// finish runs the cleanups in registration order. Cleanups registered by a
// cleanup run too.
func (r *Request) finish() {
	for {
		r.mu.Lock()
		fns := r.cleanups
		r.cleanups = nil
		r.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			r.runCleanup(fn)
		}
	}
}

func (r *Request) runCleanup(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.d.logger.ErrorContext(r.Context(), "request cleanup panicked",
				logger.RequestID(r.id), logger.Error(fmt.Errorf("panic: %v", v)))
		}
	}()
	fn()
}

// Option looks name up in the location options and then in the
// environment as <prefix><NAME>. Lookups are cached for the rest of the
// request, so a handler chain sees one consistent value.
func (r *Request) Option(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.options[name]; ok {
		return o.value, o.ok
	}
	var o optionValue
	if v, ok := r.loc.Options[name]; ok {
		o = optionValue{value: v, ok: true}
	} else if r.d.envPrefix != "" {
		o.value, o.ok = os.LookupEnv(envName(r.d.envPrefix, name))
	}
	r.options[name] = o
	return o.value, o.ok
}

func envName(prefix, name string) string {
	return prefix + strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		default:
			return '_'
		}
	}, name)
}

// Session opens the client's session on first use. Later calls return the
// same session and ignore opts.
func (r *Request) Session(opts ...session.OpenOption) (*session.Session, error) {
	if r.d.sessions == nil {
		return nil, ErrNoSessions
	}
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if !r.sessDone {
		r.sess, r.sessErr = r.d.sessions.Open(r, opts...)
		r.sessDone = true
	}
	return r.sess, r.sessErr
}

// Cookie returns the named request cookie. With a cookie secret
// configured, signed cookies come back verified and unsigned ones as is.
func (r *Request) Cookie(name string) (*cookie.Cookie, error) {
	return r.d.cookies.Read(r.r, name)
}

// NewCookie builds a cookie carrying the dispatcher's default attributes.
func (r *Request) NewCookie(name, value string, opts ...cookie.Option) *cookie.Cookie {
	return r.d.cookies.Cookie(name, value, opts...)
}

// SetCookie adds c to the response, signing its value when signed is true.
func (r *Request) SetCookie(c *cookie.Cookie, signed bool) error {
	return r.d.cookies.Write(r.w, c, signed)
}

// SetStatus sets the status sent with the first write. It has no effect
// once the header is out.
func (r *Request) SetStatus(code int) { r.w.setStatus(code) }

func (r *Request) Status() int { return r.w.statusCode() }

// Written reports whether the response header has been sent.
func (r *Request) Written() bool { return r.w.written() }

func (r *Request) Write(p []byte) (int, error) { return r.w.Write(p) }

// responseWriter holds back the status until the first write so handlers
// can set it at any point before producing output.
type responseWriter struct {
	http.ResponseWriter

	mu      sync.Mutex
	pending int
	status  int
	wrote   bool
}

func (w *responseWriter) setStatus(code int) {
	w.mu.Lock()
	if !w.wrote {
		w.pending = code
	}
	w.mu.Unlock()
}

func (w *responseWriter) statusCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.wrote:
		return w.status
	case w.pending != 0:
		return w.pending
	default:
		return http.StatusOK
	}
}

func (w *responseWriter) written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wrote
}

func (w *responseWriter) WriteHeader(code int) {
	w.mu.Lock()
	if w.wrote {
		w.mu.Unlock()
		return
	}
	w.wrote, w.status = true, code
	w.mu.Unlock()
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.written() {
		w.WriteHeader(w.statusCode())
	}
	return w.ResponseWriter.Write(p)
}

// commit sends the pending status if nothing was written.
func (w *responseWriter) commit() {
	if !w.written() {
		w.WriteHeader(w.statusCode())
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
