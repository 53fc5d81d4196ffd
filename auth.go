package main

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const sessionName = "session"

func newStore(secretKey string) *sessions.CookieStore {
	s := sessions.NewCookieStore([]byte(secretKey))
	s.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
	}
	return s
}

// --- Password helpers ---

func hashPassword(password string) string {
	bytes, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes)
}

func checkPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// dummyPwHash is compared against when a login names an unknown user, so the
// response time doesn't reveal whether the username exists.
var dummyPwHash = hashPassword("no such user")

// --- Admin basic auth ---

// requireBasicAuth gates the admin endpoints behind the static credential
// pair from the configuration.
func (app *App) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(username), []byte(app.config.AdminUser)) != 1 ||
			bcrypt.CompareHashAndPassword(app.adminPwHash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
