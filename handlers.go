package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

func (app *App) serverError(w http.ResponseWriter, err error) {
	app.log.WithError(err).Error("database error")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// GET / — personal timeline (redirect to /public if not logged in)
func (app *App) timelineHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Redirect(w, r, "/public", http.StatusFound)
		return
	}

	messages, err := queryMessages(r, `
		SELECT message.text, message.pub_date, user.username, user.email
		FROM message, user
		WHERE message.flagged = 0 AND message.author_id = user.user_id AND (
			user.user_id = ? OR
			user.user_id IN (SELECT whom_id FROM follower WHERE who_id = ?))
		ORDER BY message.pub_date DESC LIMIT ?`,
		user.UserID, user.UserID, PER_PAGE)
	if err != nil {
		app.serverError(w, err)
		return
	}

	app.renderTemplate(w, r, "timeline.html", map[string]interface{}{
		"Messages":    messages,
		"CurrentUser": user,
		"IsTimeline":  true,
	})
}

// GET /public — public timeline
func (app *App) publicTimelineHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := queryMessages(r, `
		SELECT message.text, message.pub_date, user.username, user.email
		FROM message, user
		WHERE message.flagged = 0 AND message.author_id = user.user_id
		ORDER BY message.pub_date DESC LIMIT ?`, PER_PAGE)
	if err != nil {
		app.serverError(w, err)
		return
	}

	app.renderTemplate(w, r, "timeline.html", map[string]interface{}{
		"Messages": messages,
		"IsPublic": true,
	})
}

// GET /{username} — user timeline
func (app *App) userTimelineHandler(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	profileUser := getUserByName(r, username)
	if profileUser == nil {
		http.NotFound(w, r)
		return
	}

	followed := false
	if user := currentUser(r); user != nil {
		row, err := queryOne(r, "SELECT 1 FROM follower WHERE who_id = ? AND whom_id = ?",
			user.UserID, profileUser.UserID)
		if err != nil {
			app.serverError(w, err)
			return
		}
		followed = row != nil
	}

	messages, err := queryMessages(r, `
		SELECT message.text, message.pub_date, user.username, user.email
		FROM message, user
		WHERE message.flagged = 0 AND user.user_id = message.author_id AND user.user_id = ?
		ORDER BY message.pub_date DESC LIMIT ?`,
		profileUser.UserID, PER_PAGE)
	if err != nil {
		app.serverError(w, err)
		return
	}

	app.renderTemplate(w, r, "timeline.html", map[string]interface{}{
		"Messages":    messages,
		"IsUser":      true,
		"ProfileUser": profileUser,
		"Followed":    followed,
	})
}

// GET /{username}/follow
func (app *App) followHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	username := mux.Vars(r)["username"]
	whomID := getUserID(r, username)
	if whomID == -1 {
		http.NotFound(w, r)
		return
	}

	// Note: no uniqueness check here. Repeated follows insert duplicate
	// edges, matching the schema's lack of a constraint.
	if _, err := execDB(r, "INSERT INTO follower (who_id, whom_id) VALUES (?, ?)", user.UserID, whomID); err != nil {
		app.serverError(w, err)
		return
	}
	app.addFlash(w, r, fmt.Sprintf("You are now following \"%s\"", username))
	http.Redirect(w, r, "/"+username, http.StatusFound)
}

// GET /{username}/unfollow
func (app *App) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	username := mux.Vars(r)["username"]
	whomID := getUserID(r, username)
	if whomID == -1 {
		http.NotFound(w, r)
		return
	}

	if _, err := execDB(r, "DELETE FROM follower WHERE who_id = ? AND whom_id = ?", user.UserID, whomID); err != nil {
		app.serverError(w, err)
		return
	}
	app.addFlash(w, r, fmt.Sprintf("You are no longer following \"%s\"", username))
	http.Redirect(w, r, "/"+username, http.StatusFound)
}

// POST /add_message
func (app *App) addMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Empty text is silently ignored: no insert, no notice.
	if text := r.FormValue("text"); text != "" {
		_, err := execDB(r, "INSERT INTO message (author_id, text, pub_date, flagged) VALUES (?, ?, ?, 0)",
			user.UserID, text, time.Now().UTC().Unix())
		if err != nil {
			app.serverError(w, err)
			return
		}
		app.addFlash(w, r, "Your message was recorded")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// GET + POST /login
func (app *App) loginHandler(w http.ResponseWriter, r *http.Request) {
	if currentUser(r) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	errorMsg := ""
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		password := r.FormValue("password")

		user := getUserByName(r, username)
		if user == nil {
			// Burn a comparison anyway so unknown usernames cost the
			// same as wrong passwords.
			checkPassword(dummyPwHash, password)
			errorMsg = "Invalid username"
		} else if !checkPassword(user.PwHash, password) {
			errorMsg = "Invalid password"
		} else {
			session, _ := app.store.Get(r, sessionName)
			session.Values["user_id"] = user.UserID
			session.Save(r, w)
			app.addFlash(w, r, "You were logged in")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
	}

	app.renderTemplate(w, r, "login.html", map[string]interface{}{
		"Error": errorMsg,
	})
}

// GET + POST /register
func (app *App) registerHandler(w http.ResponseWriter, r *http.Request) {
	if currentUser(r) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	errorMsg := ""
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		email := r.FormValue("email")
		password := r.FormValue("password")
		password2 := r.FormValue("password2")

		if username == "" {
			errorMsg = "You have to enter a username"
		} else if email == "" || !strings.Contains(email, "@") {
			errorMsg = "You have to enter a valid email address"
		} else if password == "" {
			errorMsg = "You have to enter a password"
		} else if password != password2 {
			errorMsg = "The two passwords do not match"
		} else if getUserID(r, username) != -1 {
			errorMsg = "The username is already taken"
		} else {
			_, err := execDB(r, "INSERT INTO user (username, email, pw_hash) VALUES (?, ?, ?)",
				username, email, hashPassword(password))
			if err != nil {
				app.serverError(w, err)
				return
			}
			app.addFlash(w, r, "You were successfully registered and can login now")
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
	}

	app.renderTemplate(w, r, "register.html", map[string]interface{}{
		"Error": errorMsg,
	})
}

// GET /logout
func (app *App) logoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := app.store.Get(r, sessionName)
	delete(session.Values, "user_id")
	session.Save(r, w)
	app.addFlash(w, r, "You were logged out")
	http.Redirect(w, r, "/public", http.StatusFound)
}
