package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// App carries everything a request handler needs. All fields are set before
// the server starts and never mutated afterwards.
type App struct {
	config      *Config
	log         *logrus.Logger
	db          *sql.DB
	store       *sessions.CookieStore
	cloud       *CloudInfo
	router      *mux.Router
	rds         dbInstanceDescriber
	adminPwHash []byte
	secretsUsed bool
}

func newApp(cfg *Config, cloud *CloudInfo, db *sql.DB, log *logrus.Logger) *App {
	app := &App{
		config: cfg,
		log:    log,
		db:     db,
		cloud:  cloud,
		store:  newStore(cfg.SecretKey),
	}
	app.adminPwHash, _ = bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	app.router = app.setupRouter()
	return app
}

func (app *App) setupRouter() *mux.Router {
	r := mux.NewRouter()

	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(staticContent())))

	r.HandleFunc("/", app.timelineHandler).Methods("GET")
	r.HandleFunc("/public", app.publicTimelineHandler).Methods("GET")
	r.HandleFunc("/add_message", app.addMessageHandler).Methods("POST")
	r.HandleFunc("/login", app.loginHandler).Methods("GET", "POST")
	r.HandleFunc("/register", app.registerHandler).Methods("GET", "POST")
	r.HandleFunc("/logout", app.logoutHandler).Methods("GET")

	r.HandleFunc("/healthcheck/liveness", app.livenessHandler).Methods("GET")
	r.HandleFunc("/healthcheck/readiness", app.readinessHandler).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(app.requireBasicAuth)
	admin.HandleFunc("/env", app.adminEnvHandler).Methods("GET")
	admin.HandleFunc("/config", app.adminConfigHandler).Methods("GET")
	admin.HandleFunc("/endpoints", app.adminEndpointsHandler).Methods("GET")

	// Username routes come last so the literal paths above win.
	r.HandleFunc("/{username}", app.userTimelineHandler).Methods("GET")
	r.HandleFunc("/{username}/follow", app.followHandler).Methods("GET")
	r.HandleFunc("/{username}/unfollow", app.unfollowHandler).Methods("GET")

	return r
}

// handler is the full chain: header decoration, then the request-scoped
// connection, then the before-request user lookup, then routing.
func (app *App) handler() http.Handler {
	return app.withHeaders(app.withRequestDB(app.withCurrentUser(app.router)))
}

func logCurrentEnvironment(log *logrus.Logger) {
	var sb strings.Builder
	sb.WriteString("\n")
	for _, kv := range os.Environ() {
		sb.WriteString(kv)
		sb.WriteString("\n")
	}
	log.Infof("Current environment: %s", sb.String())
}

func main() {
	initdb := flag.Bool("initdb", false, "create the database tables and exit")
	flag.Parse()

	log := logrus.New()

	cfg, err := loadConfig(log)
	if err != nil {
		log.Fatal(err)
	}

	logCurrentEnvironment(log)
	log.Info("Bootstrapping app server...")

	cloud := newHostService(log).Detect()
	if !cloud.InCloud {
		log.Warn("Can't fetch the cloud metadata because this instance is not in the cloud!")
	}

	creds := DBCredentials{Username: cfg.DBUser, Password: cfg.DBPassword}
	if cfg.DBType != dbTypeSQLite {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := newSecretsClient(ctx, cloud.Metadata.Region)
		if err != nil {
			log.Infof("Unable to build the secrets manager client. Using stored credentials: %v", err)
		} else {
			creds = resolveDBCredentials(ctx, cfg, client, log)
		}
		cancel()
	}

	db, _, err := makeDBEngine(cfg, creds, log)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if *initdb {
		if err := initSchema(db, cfg.DBType); err != nil {
			log.Fatal(err)
		}
		log.Info("Initialized the database.")
		return
	}

	app := newApp(cfg, cloud, db, log)
	app.secretsUsed = creds.SecretsUsed

	if cloud.InCloud {
		rdsClient, err := newRDSClient(context.Background(), cloud.Metadata.Region)
		if err != nil {
			log.Warnf("Can't build the RDS client, readiness will report unavailable: %v", err)
		} else {
			app.rds = rdsClient
		}
	}

	log.Infof("Loaded with the following config: %v", cfg.display())
	log.Infof("Endpoints: %v", app.endpoints())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Infof("Listening on http://localhost%s/public", addr)
	log.Fatal(http.ListenAndServe(addr, app.handler()))
}
