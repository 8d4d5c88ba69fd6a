package middleware

import (
	"net/http"
	"strings"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=../auth/checker.go -destination=checker_mocks_test.go -package=middleware_test

type AuthMiddlewareHandler struct {
	identityChecker auth.IdentityChecker
	// paths open to anyone, for any method
	allowedPaths map[string]bool
	// path prefixes open to anyone for reading
	readOnlyPathsPrefixes []string
}

func NewAuthMiddlewareHandler(identityChecker auth.IdentityChecker) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		identityChecker: identityChecker,
		allowedPaths: map[string]bool{
			"/":        true,
			"/version": true,

			// register-login:
			"/a/register": true,
			"/a/login":    true,
		},
		readOnlyPathsPrefixes: []string{
			"/posts",
			"/images/",
		},
	}
}

func (h *AuthMiddlewareHandler) pathIsAlwaysAllowed(r *http.Request) bool {
	if h.allowedPaths[r.URL.Path] {
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	for _, prefix := range h.readOnlyPathsPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// AuthCheck resolves the request token to an identity and puts it in the request context.
// Public paths pass through with the anonymous identity when no valid token is sent.
func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, PUT, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			public := h.pathIsAlwaysAllowed(r)
			authToken := auth.TokenFromRequest(r)

			var identity auth.Identity
			if authToken != "" {
				var err error
				identity, err = h.identityChecker.Identity(ctx, authToken)
				if err != nil {
					span.RecordError(err)
					if !public {
						log.Errorf("[failed login check] => %s: %s", r.URL.Path, err)
						http.Error(w, "no can do", http.StatusUnauthorized)
						span.SetStatus(codes.Error, "check-logged-err")
						return
					}
					log.Warnf("[failed login check] on public path %s: %s", r.URL.Path, err)
					identity = auth.Identity{}
				}
			}

			if identity.IsAnonymous() && !public {
				if authToken == "" {
					log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
					span.SetStatus(codes.Error, "missing-auth-token")
				} else {
					log.Tracef("[invalid token] [auth middleware] unauthorized => %s", r.URL.Path)
					span.SetStatus(codes.Error, "not-logged")
				}
				http.Error(w, "no can do", http.StatusUnauthorized)
				return
			}

			if !identity.IsAnonymous() {
				span.SetAttributes(attribute.String("identity.id", identity.ID))
			}
			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(ctx, identity)))
		})
	}
}
