package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/modserve/pkg/logger"
)

// Router mounts every location on a chi router behind the request id and
// panic recovery middleware.
func (d *Dispatcher) Router(locs ...Location) (chi.Router, error) {
	errs := make([]error, 0, len(locs))
	for _, loc := range locs {
		errs = append(errs, loc.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(RequestID, d.Recoverer)
	for _, loc := range locs {
		h := d.Handler(loc)
		if len(loc.Methods) == 0 {
			r.Handle(loc.Path, h)
			continue
		}
		for _, m := range loc.Methods {
			r.Method(strings.ToUpper(m), loc.Path, h)
		}
	}
	return r, nil
}

// Recoverer turns a panic in next into a logged 500.
func (d *Dispatcher) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			d.logger.ErrorContext(r.Context(), "panic while serving request",
				logger.RequestID(RequestIDFromContext(r.Context())),
				logger.Error(fmt.Errorf("panic: %v", v)),
				slog.String("stack", string(debug.Stack())))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
