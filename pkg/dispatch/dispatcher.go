package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/modserve/pkg/cookie"
	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/modcache"
	"github.com/dmitrymomot/modserve/pkg/session"
)

// Config is the environment configuration of a Dispatcher.
type Config struct {
	TrustedHeaders []string `env:"DISPATCH_TRUSTED_HEADERS" envSeparator:","`
	OptionPrefix   string   `env:"DISPATCH_OPTION_PREFIX" envDefault:"MODSERVE_OPT_"`
}

// Dispatcher runs handler chains against a module cache.
type Dispatcher struct {
	cache          *modcache.Cache
	sessions       *session.Manager
	logger         *slog.Logger
	metrics        *Metrics
	trustedHeaders []string
	cookies        *cookie.Manager
	envPrefix      string
	errorPage      func(ErrorPageParams) templ.Component
}

type Option func(*Dispatcher)

// WithSessions enables req:session().
func WithSessions(m *session.Manager) Option {
	return func(d *Dispatcher) { d.sessions = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTrustedHeaders lists the proxy headers RemoteIP may believe, in
// priority order. By default only the connection address is used.
func WithTrustedHeaders(headers ...string) Option {
	return func(d *Dispatcher) { d.trustedHeaders = headers }
}

// WithCookies sets the manager behind req:cookie and req:set_cookie. Its
// secret verifies and signs cookies and its defaults fill the attributes a
// handler leaves out.
func WithCookies(m *cookie.Manager) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.cookies = m
		}
	}
}

// WithOptionPrefix sets the prefix of environment variables consulted by
// req:option after the location options. An empty prefix disables the
// environment lookup.
func WithOptionPrefix(prefix string) Option {
	return func(d *Dispatcher) { d.envPrefix = prefix }
}

// WithErrorPage replaces DebugPage.
func WithErrorPage(page func(ErrorPageParams) templ.Component) Option {
	return func(d *Dispatcher) {
		if page != nil {
			d.errorPage = page
		}
	}
}

func New(cache *modcache.Cache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:     cache,
		logger:    slog.Default(),
		cookies:   cookie.New(""),
		envPrefix: "MODSERVE_OPT_",
		errorPage: DebugPage,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewFromConfig creates a dispatcher from cfg.
func NewFromConfig(cache *modcache.Cache, cfg Config, opts ...Option) *Dispatcher {
	base := []Option{
		WithTrustedHeaders(cfg.TrustedHeaders...),
		WithOptionPrefix(cfg.OptionPrefix),
	}
	return New(cache, append(base, opts...)...)
}

// Handler returns the http.Handler for one location.
func (d *Dispatcher) Handler(loc Location) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.serve(w, r, &loc)
	})
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, loc *Location) {
	start := time.Now()
	req := d.newRequest(w, r, loc)
	defer req.finish()

	handler, out, err := d.Dispatch(req)
	result := d.respond(req, handler, out, err)
	d.metrics.observe(loc.Path, result, time.Since(start))
}

// Dispatch runs the location's handler chain for req. It returns the
// outcome that ended the chain and the handler that produced it. Load,
// lookup and script errors end the chain with a nil outcome.
func (d *Dispatcher) Dispatch(req *Request) (string, Outcome, error) {
	loc := req.loc
	if len(loc.Handlers) == 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrNoHandlers, loc.Path)
	}

	ctx := modcache.WithScope(req.Context(), modcache.NewScope())
	opts := loc.resolveOptions()

	var (
		name string
		out  Outcome
	)
	for _, name = range loc.Handlers {
		var err error
		out, err = d.Invoke(ctx, req, name, opts)
		if err != nil {
			return name, nil, err
		}
		if c, ok := out.(Continue); !ok || !c.Next() {
			break
		}
	}
	return name, out, nil
}

// Invoke resolves one "module::object" handler and calls it with req.
func (d *Dispatcher) Invoke(ctx context.Context, req *Request, name string, opts modcache.ResolveOptions) (Outcome, error) {
	h, err := d.lookup(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	res, err := h.Call(logger.WithContextAttrs(ctx, logger.Handler(name)), req)
	if err != nil {
		var abort *luamod.AbortError
		if errors.As(err, &abort) {
			return Abort{Status: abort.Status, Body: abort.Body}, nil
		}
		return nil, err
	}
	out, err := outcomeOf(res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Check loads the module behind handler name as a request to loc would,
// and verifies the handler object exists, without calling it.
func (d *Dispatcher) Check(ctx context.Context, loc Location, name string) error {
	ctx = modcache.WithScope(ctx, modcache.NewScope())
	_, err := d.lookup(ctx, name, loc.resolveOptions())
	return err
}

func (d *Dispatcher) lookup(ctx context.Context, name string, opts modcache.ResolveOptions) (luamod.Handler, error) {
	modName, object := splitHandler(name)
	path, err := d.cache.ResolveName(modName, "", opts.SearchPath)
	if err != nil {
		return nil, errors.Join(ErrHandlerNotFound, err)
	}
	mod, err := d.cache.Resolve(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	lm, ok := mod.(*luamod.Module)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a lua module", ErrHandlerNotFound, path)
	}
	h, err := lm.Lookup(ctx, object)
	if err != nil {
		return nil, errors.Join(ErrHandlerNotFound, err)
	}
	return h, nil
}

// respond turns the end of a chain into a response and returns the
// outcome label used for metrics.
func (d *Dispatcher) respond(req *Request, handler string, out Outcome, err error) string {
	if err != nil {
		d.fail(req, handler, err)
		return "error"
	}
	switch o := out.(type) {
	case Abort:
		d.status(req, o.Status, o.Body)
		return "abort"
	case Continue:
		switch {
		case o.Result == luamod.OK || o.Result == luamod.DONE:
			req.w.commit()
			return "ok"
		case o.Result == luamod.DECLINED:
			d.status(req, http.StatusNotFound, "")
			return "declined"
		case o.Result >= 100 && o.Result <= 599:
			d.status(req, o.Result, "")
			return "status"
		default:
			d.fail(req, handler, fmt.Errorf("%w: unknown result %d", ErrNoResult, o.Result))
			return "error"
		}
	}
	return "error"
}

// status answers with code unless the handler already started the
// response. Error codes get a plain text body.
func (d *Dispatcher) status(req *Request, code int, body string) {
	if req.w.written() {
		if code != req.w.statusCode() {
			d.logger.WarnContext(req.Context(), "status after response started",
				logger.RequestID(req.id), logger.Status(code))
		}
		return
	}
	if code >= http.StatusBadRequest {
		if body == "" {
			body = http.StatusText(code)
		}
		http.Error(req.w, body, code)
		return
	}
	req.w.WriteHeader(code)
	if body != "" {
		_, _ = io.WriteString(req.w, body)
	}
}

// fail is the one place load and handler errors become a response.
func (d *Dispatcher) fail(req *Request, handler string, err error) {
	attrs := []any{
		logger.RequestID(req.id),
		slog.String("location", req.loc.Path),
		logger.Handler(handler),
		logger.Error(err),
	}
	var se *luamod.ScriptError
	if errors.As(err, &se) && se.StackTrace != "" {
		attrs = append(attrs, slog.String("traceback", se.StackTrace))
	}
	d.logger.ErrorContext(req.Context(), "handler failed", attrs...)

	if req.w.written() {
		return
	}
	status := http.StatusInternalServerError
	if !req.loc.Debug {
		http.Error(req.w, http.StatusText(status), status)
		return
	}
	h := req.w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	req.w.WriteHeader(status)
	page := d.errorPage(errorParams(req, handler, status, err))
	if rerr := page.Render(req.Context(), req.w); rerr != nil {
		d.logger.ErrorContext(req.Context(), "error page render failed", logger.Error(rerr))
	}
}
