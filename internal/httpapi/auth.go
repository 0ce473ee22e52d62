package httpapi

import (
	"context"
	"net/http"
	"strings"

	"masar/queue-service/internal/models"
	"masar/queue-service/internal/session"
)

type authContextKey struct{}

type authInfo struct {
	Session models.Session
	User    models.User
}

// AuthMiddleware resolves the bearer token for everything except the public
// kiosk, display and feedback-tablet surface. Handlers read the session and
// user from the request context.
func AuthMiddleware(registry *session.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
			return
		}
		sess, user, err := registry.Authenticate(token)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{Session: sess, User: user})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	info, ok := ctx.Value(authContextKey{}).(authInfo)
	return info, ok
}

// requireCounter admits only a counter operator who currently holds a counter.
// Standby sessions get a conflict, not an auth failure, so the client can show
// "waiting for a free counter" instead of logging the user out.
func requireCounter(w http.ResponseWriter, r *http.Request) (counterID, userID int, ok bool) {
	info, found := authFromContext(r.Context())
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
		return 0, 0, false
	}
	if info.Session.Role != models.RoleCounter {
		writeError(w, http.StatusForbidden, "access_denied", "counter session required")
		return 0, 0, false
	}
	if info.Session.CounterID == nil {
		writeError(w, http.StatusConflict, "no_counter", "no counter reserved for this session")
		return 0, 0, false
	}
	return *info.Session.CounterID, info.User.ID, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	info, found := authFromContext(r.Context())
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session token")
		return models.User{}, false
	}
	if info.Session.Role != models.RoleAdmin && info.Session.Role != models.RoleSupervisor {
		writeError(w, http.StatusForbidden, "access_denied", "admin session required")
		return models.User{}, false
	}
	return info.User, true
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/auth/login", "/api/auth/admin-login":
		return r.Method == http.MethodPost
	case "/api/services":
		return r.Method == http.MethodGet
	case "/api/tickets":
		return r.Method == http.MethodPost
	case "/api/display/queue":
		return r.Method == http.MethodGet
	case "/api/feedback/current":
		return r.Method == http.MethodGet
	case "/api/feedback":
		return r.Method == http.MethodPost
	default:
		return r.Method == http.MethodOptions
	}
}
