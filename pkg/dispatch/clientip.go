package dispatch

import (
	"net"
	"net/http"
	"strings"
)

// ProxyHeaders are the client address headers set by common reverse
// proxies, in the order they are usually trusted.
var ProxyHeaders = []string{"CF-Connecting-IP", "DO-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// clientIP returns the first valid address found in the trusted headers,
// falling back to the connection's remote address. List headers such as
// X-Forwarded-For yield their first valid entry.
func clientIP(r *http.Request, trusted []string) string {
	for _, name := range trusted {
		v := r.Header.Get(name)
		if v == "" {
			continue
		}
		for candidate := range strings.SplitSeq(v, ",") {
			if ip := parseIP(candidate); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
