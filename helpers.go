package main

import (
	"crypto/md5"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

//go:embed templates
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// staticContent is the static tree with the "static/" prefix stripped, ready
// for http.FileServer.
func staticContent() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// --- Flash helpers ---

func (app *App) addFlash(w http.ResponseWriter, r *http.Request, message string) {
	session, _ := app.store.Get(r, sessionName)
	session.AddFlash(message)
	session.Save(r, w)
}

func (app *App) getFlashes(w http.ResponseWriter, r *http.Request) []interface{} {
	session, _ := app.store.Get(r, sessionName)
	flashes := session.Flashes()
	session.Save(r, w)
	return flashes
}

// --- Template helpers ---

func gravatar(email string) string {
	h := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=identicon&s=48", h)
}

func datetimeformat(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 @ 15:04")
}

func (app *App) renderTemplate(w http.ResponseWriter, r *http.Request, templateFile string, data map[string]interface{}) {
	funcMap := template.FuncMap{
		"gravatar":       gravatar,
		"datetimeformat": datetimeformat,
	}

	tmpl := template.Must(template.New("layout.html").
		Funcs(funcMap).
		ParseFS(templatesFS, "templates/layout.html", "templates/"+templateFile))

	if _, ok := data["CurrentUser"]; !ok {
		data["CurrentUser"] = currentUser(r)
	}
	if _, ok := data["Flashes"]; !ok {
		data["Flashes"] = app.getFlashes(w, r)
	}

	tmpl.ExecuteTemplate(w, "layout.html", data)
}
