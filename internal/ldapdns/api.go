/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// NewAPIRouter builds the admin HTTP API's mux.Router, the way the
// host server's own apihandler.go wires up its endpoints: one handler
// per route, JSON in and out, no middleware beyond what each handler
// does itself.
func NewAPIRouter(inst *Instance) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/zones", apiListZones(inst)).Methods(http.MethodGet)
	r.HandleFunc("/zones/{zone}", apiGetZone(inst)).Methods(http.MethodGet)
	r.HandleFunc("/status", apiStatus(inst)).Methods(http.MethodGet)
	return r
}

type zoneSummary struct {
	Name   string `json:"name"`
	Secure bool   `json:"secure"`
}

func apiListZones(inst *Instance) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zones := inst.Registry.IterAll()
		out := make([]zoneSummary, 0, len(zones))
		for _, zi := range zones {
			out = append(out, zoneSummary{Name: zi.Name, Secure: zi.Secure})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func apiGetZone(inst *Instance) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["zone"]
		zi, ok := inst.Registry.LookupExact(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "zone not registered"})
			return
		}
		writeJSON(w, http.StatusOK, zoneSummary{Name: zi.Name, Secure: zi.Secure})
	}
}

type statusResponse struct {
	SyncState  string `json:"sync_state"`
	ZoneCount  int    `json:"zone_count"`
}

func apiStatus(inst *Instance) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var stateName string
		switch inst.Barrier.State() {
		case StateInit:
			stateName = "init"
		case StateDatainit:
			stateName = "datainit"
		case StateRefreshDone:
			stateName = "refresh_done"
		case StateFinished:
			stateName = "finished"
		}
		writeJSON(w, http.StatusOK, statusResponse{SyncState: stateName, ZoneCount: inst.Registry.Len()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
