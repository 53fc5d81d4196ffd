package main

import (
	"context"
	"net/http"
)

type ctxKey int

const (
	ctxKeyDB ctxKey = iota
	ctxKeyUser
)

// withRequestDB binds a lazy per-request database connection to the request
// context and releases it when the request completes, on every exit path.
func (app *App) withRequestDB(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd := &requestDB{engine: app.db}
		defer rd.release()
		ctx := context.WithValue(r.Context(), ctxKeyDB, rd)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCurrentUser resolves the logged-in user from the session once, before
// handler dispatch. Handlers read the result via currentUser.
func (app *App) withCurrentUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := app.store.Get(r, sessionName)
		if userID, ok := session.Values["user_id"].(int); ok {
			if user := getUserByID(r, userID); user != nil {
				ctx := context.WithValue(r.Context(), ctxKeyUser, user)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the user resolved by withCurrentUser, or nil.
func currentUser(r *http.Request) *User {
	user, _ := r.Context().Value(ctxKeyUser).(*User)
	return user
}

// withHeaders decorates every response with host identity and build info.
func (app *App) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Host", app.cloud.Hostname)
		if app.cloud.InCloud && app.cloud.Metadata.AvailabilityZone != "" {
			h.Set("X-Host-AZ", app.cloud.Metadata.AvailabilityZone)
		}
		if v := app.config.BuildGitVersion; v != "" {
			if len(v) > 7 {
				v = v[:7]
			}
			h.Set("X-App-Version", v)
		}
		next.ServeHTTP(w, r)
	})
}
