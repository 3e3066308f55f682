package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/modserve/pkg/luamod"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

// ErrorPageParams describes a failed request for the debug error page.
// Module is the source file the error came from, if known.
type ErrorPageParams struct {
	StatusCode int
	RequestID  string
	Location   string
	Handler    string
	Module     string
	Reload     bool
	Message    string
	StackTrace string
}

// errorParams extracts what the page shows from err.
func errorParams(req *Request, handler string, status int, err error) ErrorPageParams {
	p := ErrorPageParams{
		StatusCode: status,
		RequestID:  req.ID(),
		Location:   req.loc.Path,
		Handler:    handler,
		Message:    err.Error(),
	}
	var le *modcache.LoadError
	if errors.As(err, &le) {
		p.Module, p.Reload = le.Path, le.Reload
	}
	var se *luamod.ScriptError
	if errors.As(err, &se) {
		p.Message, p.StackTrace = se.Message, se.StackTrace
		if se.Path != "" {
			p.Module = se.Path
		}
	}
	return p
}

// DebugPage renders a traceback page. It is only used for locations with
// Debug set.
func DebugPage(p ErrorPageParams) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		title := http.StatusText(p.StatusCode)
		page := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" +
			templ.EscapeString(title) + "</title></head><body>\n" +
			"<h1>" + templ.EscapeString(title) + "</h1>\n<dl>\n" +
			row("Location", p.Location) +
			row("Handler", p.Handler) +
			row("Module", p.Module) +
			row("Request ID", p.RequestID)
		if p.Reload {
			page += row("Phase", "reload")
		}
		page += "</dl>\n<pre class=\"message\">" + templ.EscapeString(p.Message) + "</pre>\n"
		if p.StackTrace != "" {
			page += "<pre class=\"traceback\">" + templ.EscapeString(p.StackTrace) + "</pre>\n"
		}
		page += "</body></html>\n"
		_, err := io.WriteString(w, page)
		return err
	})
}

func row(name, value string) string {
	if value == "" {
		return ""
	}
	return "<dt>" + templ.EscapeString(name) + "</dt><dd>" + templ.EscapeString(value) + "</dd>\n"
}
