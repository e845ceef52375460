package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ephemchat/roomstate/internal/stats"
)

func (s *RoomStateApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeError(w, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// gateMiddleware consults the security gate before the request reaches the
// action dispatcher.
func (s *RoomStateApp) gateMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if s.gate.IsIPBlocked(ip) {
			s.gate.LogAccess(ip, r.Method+" "+r.URL.Path, false)
			s.stats.Incr(stats.MetricBlockedRequests)
			s.writeError(w, NewTooManyRequestsError())
			return
		}
		s.gate.LogAccess(ip, r.Method+" "+r.URL.Path, true)

		next(w, r)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// proxies append to the list; only the first hop is the client
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
