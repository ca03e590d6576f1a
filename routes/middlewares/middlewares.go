package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"

	"github.com/mbolis/survey-flow/httpx"
	"github.com/mbolis/survey-flow/log"
	"github.com/mbolis/survey-flow/model"
	"github.com/mbolis/survey-flow/store"
)

type contextKey string

const userContextKey contextKey = "survey-flow.user"

// Admin middleware to check for the 'admin' role in an OAuth token.
func Admin(tokenSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(tokenSecret, nil), requireRole("admin")).Handler(next)
	}
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := r.Context().Value(oauth.ClaimsContext).(map[string]string)

			found := false
			if rolesClaim, ok := claims["roles"]; ok {
				for _, have := range strings.Split(rolesClaim, ",") {
					if have == role {
						found = true
						break
					}
				}
			}

			if !found {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Respondent authorizes the bearer token and resolves its username to a user
// row, stashed in the request context for the flow handlers.
func Respondent(tokenSecret string, users *store.SQL) func(http.Handler) http.Handler {
	resolve := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, _ := r.Context().Value(oauth.CredentialContext).(string)
			if username == "" {
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "auth.respondent.credential")
				return
			}

			user, err := users.UserByUsername(r.Context(), username)
			if err != nil {
				httpx.LogInternalError(w, "auth.respondent.lookup", err)
				return
			}
			if user == nil {
				httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "auth.respondent.unknown_user")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(tokenSecret, nil), resolve).Handler(next)
	}
}

// CurrentUser returns the user resolved by the Respondent middleware.
func CurrentUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}
