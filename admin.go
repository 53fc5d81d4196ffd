package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GET /admin/env — process environment dump
func (app *App) adminEnvHandler(w http.ResponseWriter, r *http.Request) {
	env := environMap()
	app.log.Infof("Current envs: %d entries", len(env))
	writeJSON(w, http.StatusOK, env)
}

// GET /admin/config — resolved configuration, passwords redacted
func (app *App) adminConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg := app.config.display()
	cfg["HOSTNAME"] = app.cloud.Hostname
	cfg["IN_CLOUD"] = app.cloud.Type
	if app.secretsUsed {
		cfg["SECRETS_USED"] = "true"
	} else {
		cfg["SECRETS_USED"] = "false"
	}
	if app.cloud.InCloud {
		cfg["AVAILABILITY_ZONE"] = app.cloud.Metadata.AvailabilityZone
		cfg["INSTANCE_ID"] = app.cloud.Metadata.InstanceID
		cfg["INSTANCE_TYPE"] = app.cloud.Metadata.InstanceType
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GET /admin/endpoints — registered route patterns
func (app *App) adminEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.endpoints())
}

// endpoints collects the path templates registered on the router.
func (app *App) endpoints() []string {
	var endpoints []string
	app.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			endpoints = append(endpoints, tmpl)
		}
		return nil
	})
	return endpoints
}
