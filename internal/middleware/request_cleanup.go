package middleware

import (
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxDrain matches what net/http itself is willing to discard to keep a connection alive.
const DefaultMaxDrain = 256 << 10

// DrainAndCloseRequest discards at most maxDrain bytes the handler left unread, then closes the body.
// Rejected image uploads stop being read there and their connection is not reused.
func DrainAndCloseRequest(maxDrain int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil || r.Body == http.NoBody {
				return
			}
			n, _ := io.Copy(io.Discard, io.LimitReader(r.Body, maxDrain))
			if n == maxDrain {
				log.Tracef("request body [%s %s] not drained past %d bytes", r.Method, r.URL.Path, maxDrain)
			}
			_ = r.Body.Close()
		})
	}
}
