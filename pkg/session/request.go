package session

import (
	"net/http"
	"sync"
)

// RequestContext is what a session needs from the hosting request.
type RequestContext interface {
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
	// RegisterCleanup schedules fn to run once the request has completed.
	RegisterCleanup(fn func())
}

// remoteIPer is implemented by request contexts that resolve the client
// address through proxies.
type remoteIPer interface {
	RemoteIP() string
}

func remoteAddr(rc RequestContext) string {
	if r, ok := rc.(remoteIPer); ok {
		return r.RemoteIP()
	}
	return rc.Request().RemoteAddr
}

// HTTPContext adapts a plain net/http request to RequestContext.
type HTTPContext struct {
	w http.ResponseWriter
	r *http.Request

	mu       sync.Mutex
	cleanups []func()
}

func NewHTTPContext(w http.ResponseWriter, r *http.Request) *HTTPContext {
	return &HTTPContext{w: w, r: r}
}

func (c *HTTPContext) Request() *http.Request              { return c.r }
func (c *HTTPContext) ResponseWriter() http.ResponseWriter { return c.w }

func (c *HTTPContext) RegisterCleanup(fn func()) {
	c.mu.Lock()
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// Finish runs registered cleanups in registration order. A panicking
// cleanup does not stop the others.
func (c *HTTPContext) Finish() {
	c.mu.Lock()
	fns := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn()
		}()
	}
}
