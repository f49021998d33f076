package controller

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/unclebandit/campaign-batch-sender/internal/handler"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

// TokenAuth maps static bearer tokens to actors. With no tokens configured
// every request runs as Fallback.
type TokenAuth struct {
	AdminToken  string
	ViewerToken string
	Fallback    model.Actor
}

func (a TokenAuth) Enabled() bool {
	return a.AdminToken != "" || a.ViewerToken != ""
}

func (a TokenAuth) actorFor(token string) (model.Actor, bool) {
	switch {
	case a.AdminToken != "" && equal(token, a.AdminToken):
		return model.SystemActor("admin"), true
	case a.ViewerToken != "" && equal(token, a.ViewerToken):
		return model.ViewerActor("viewer"), true
	}
	return model.Actor{}, false
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (a TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(handler.WithActor(r.Context(), a.Fallback)))
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			handler.Error(w, r, http.StatusUnauthorized, "missing bearer token", "unauthorized")
			return
		}
		actor, ok := a.actorFor(strings.TrimSpace(token))
		if !ok {
			handler.Error(w, r, http.StatusUnauthorized, "invalid token", "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(handler.WithActor(r.Context(), actor)))
	})
}
